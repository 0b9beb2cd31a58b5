package db

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/auth/token"
	"github.com/pysugar/mailauth/internal/db/models"
)

// AccountStore persists accounts in the accounts table.
type AccountStore struct {
	db *gorm.DB
}

var _ token.Store = (*AccountStore)(nil)

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// SaveAccount inserts the account or overwrites every column of the
// existing row.
func (s *AccountStore) SaveAccount(ctx context.Context, acc token.Account) error {
	row, err := toRow(acc)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save account %s: %w", acc.ID, err)
	}
	return nil
}

// LoadAccounts returns every stored account, active or not.
func (s *AccountStore) LoadAccounts(ctx context.Context) ([]token.Account, error) {
	var rows []models.Account
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	accounts := make([]token.Account, 0, len(rows))
	for _, row := range rows {
		acc, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func toRow(acc token.Account) (models.Account, error) {
	scopes, err := json.Marshal(acc.Tokens.GrantedScopes)
	if err != nil {
		return models.Account{}, fmt.Errorf("encode scopes: %w", err)
	}
	row := models.Account{
		ID:             acc.ID,
		Email:          acc.Email,
		Provider:       string(acc.Provider),
		AccessToken:    acc.Tokens.AccessToken,
		RefreshToken:   acc.Tokens.RefreshToken,
		TokenType:      acc.Tokens.TokenType,
		Scopes:         string(scopes),
		ExpiresAt:      acc.Tokens.ExpiresAt,
		IsActive:       acc.Active,
		ReauthRequired: acc.ReauthRequired,
		CreatedAt:      acc.CreatedAt,
	}
	if !acc.LastRefreshedAt.IsZero() {
		t := acc.LastRefreshedAt
		row.LastRefreshedAt = &t
	}
	return row, nil
}

func fromRow(row models.Account) (token.Account, error) {
	var scopes []string
	if row.Scopes != "" {
		if err := json.Unmarshal([]byte(row.Scopes), &scopes); err != nil {
			return token.Account{}, fmt.Errorf("decode scopes for account %s: %w", row.ID, err)
		}
	}
	acc := token.Account{
		ID:       row.ID,
		Email:    row.Email,
		Provider: provider.ID(row.Provider),
		Tokens: token.TokenSet{
			AccessToken:   row.AccessToken,
			RefreshToken:  row.RefreshToken,
			ExpiresAt:     row.ExpiresAt,
			TokenType:     row.TokenType,
			GrantedScopes: scopes,
		},
		CreatedAt:      row.CreatedAt,
		Active:         row.IsActive,
		ReauthRequired: row.ReauthRequired,
	}
	if row.LastRefreshedAt != nil {
		acc.LastRefreshedAt = *row.LastRefreshedAt
	}
	return acc, nil
}
