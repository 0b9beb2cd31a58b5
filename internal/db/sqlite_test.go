package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/auth/token"
	"github.com/pysugar/mailauth/internal/db/models"
)

func newTestStore(t *testing.T) *AccountStore {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "mailauth.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewAccountStore(db)
}

func sampleAccount(id string, created time.Time) token.Account {
	return token.Account{
		ID:       id,
		Email:    id + "@example.com",
		Provider: provider.Outlook,
		Tokens: token.TokenSet{
			AccessToken:   "access-" + id,
			RefreshToken:  "refresh-" + id,
			ExpiresAt:     created.Add(time.Hour),
			TokenType:     "Bearer",
			GrantedScopes: []string{"https://outlook.office.com/IMAP.AccessAsUser.All", "offline_access"},
		},
		CreatedAt: created,
		Active:    true,
	}
}

func TestAccountStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	second := sampleAccount("b", created.Add(time.Minute))
	first := sampleAccount("a", created)
	if err := store.SaveAccount(ctx, second); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := store.SaveAccount(ctx, first); err != nil {
		t.Fatalf("save a: %v", err)
	}

	got, err := store.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("expected creation order [a b], got [%s %s]", got[0].ID, got[1].ID)
	}

	a := got[0]
	if a.Email != "a@example.com" || a.Provider != provider.Outlook {
		t.Fatalf("unexpected identity: %+v", a)
	}
	if a.Tokens.AccessToken != "access-a" || a.Tokens.RefreshToken != "refresh-a" || a.Tokens.TokenType != "Bearer" {
		t.Fatalf("unexpected tokens: %+v", a.Tokens)
	}
	if !a.Tokens.ExpiresAt.Equal(created.Add(time.Hour)) {
		t.Fatalf("expires_at = %v, want %v", a.Tokens.ExpiresAt, created.Add(time.Hour))
	}
	if len(a.Tokens.GrantedScopes) != 2 || a.Tokens.GrantedScopes[1] != "offline_access" {
		t.Fatalf("unexpected scopes: %v", a.Tokens.GrantedScopes)
	}
	if !a.LastRefreshedAt.IsZero() {
		t.Fatalf("expected zero last_refreshed_at, got %v", a.LastRefreshedAt)
	}
	if !a.Active || a.ReauthRequired {
		t.Fatalf("unexpected flags: active=%v reauth=%v", a.Active, a.ReauthRequired)
	}
}

func TestAccountStore_SaveOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	acc := sampleAccount("a", created)
	if err := store.SaveAccount(ctx, acc); err != nil {
		t.Fatalf("save: %v", err)
	}

	refreshedAt := created.Add(50 * time.Minute)
	acc.Tokens.AccessToken = "access-2"
	acc.Tokens.ExpiresAt = refreshedAt.Add(time.Hour)
	acc.LastRefreshedAt = refreshedAt
	acc.Active = false
	acc.ReauthRequired = true
	if err := store.SaveAccount(ctx, acc); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err := store.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one row after upsert, got %d", len(got))
	}
	a := got[0]
	if a.Tokens.AccessToken != "access-2" {
		t.Fatalf("access token not overwritten: %s", a.Tokens.AccessToken)
	}
	if !a.LastRefreshedAt.Equal(refreshedAt) {
		t.Fatalf("last_refreshed_at = %v, want %v", a.LastRefreshedAt, refreshedAt)
	}
	if a.Active {
		t.Fatal("expected inactive account")
	}
	if !a.ReauthRequired {
		t.Fatal("expected reauth_required")
	}
}

func TestAccountStore_RejectsCorruptScopes(t *testing.T) {
	store := newTestStore(t)
	row := models.Account{ID: "bad", Email: "x@example.com", Provider: "gmail", Scopes: "not json", IsActive: true}
	if err := store.db.Create(&row).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.LoadAccounts(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestAccountStore_BacksManager(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	reg, err := provider.NewRegistry(provider.Config{
		ID:                    provider.Gmail,
		Trust:                 provider.TrustCloud,
		ClientID:              "id",
		ClientSecret:          "secret",
		RedirectURI:           "http://localhost/cb",
		Scopes:                provider.DefaultScopes(provider.Gmail),
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		TokenEndpoint:         "https://auth.example.com/token",
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	m, err := token.NewManager(ctx, reg, token.WithStore(store))
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	tokens := token.TokenSet{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)}
	id, err := m.RegisterAccount(ctx, "user@gmail.com", provider.Gmail, tokens)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	restarted, err := token.NewManager(ctx, reg, token.WithStore(store))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	got, err := restarted.GetValidAccessToken(ctx, id)
	if err != nil {
		t.Fatalf("get token after restart: %v", err)
	}
	if got != "at" {
		t.Fatalf("token = %q, want %q", got, "at")
	}
}
