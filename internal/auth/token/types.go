package token

import (
	"context"
	"slices"
	"time"

	"github.com/pysugar/mailauth/internal/auth/provider"
)

// RefreshThreshold is how far ahead of expiry GetValidAccessToken refreshes.
const RefreshThreshold = 5 * time.Minute

// TokenSet is the credential material returned by a provider's token endpoint.
type TokenSet struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	TokenType     string    `json:"token_type"`
	GrantedScopes []string  `json:"granted_scopes,omitempty"`
}

func (t TokenSet) clone() TokenSet {
	t.GrantedScopes = slices.Clone(t.GrantedScopes)
	return t
}

// ExpiresWithin reports whether the access token expires at or before now+d.
func (t TokenSet) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !t.ExpiresAt.After(now.Add(d))
}

// Account is a registered mailbox identity. Values handed out by the
// Manager are copies; changing them has no effect on the registry.
type Account struct {
	ID              string      `json:"id"`
	Email           string      `json:"email"`
	Provider        provider.ID `json:"provider"`
	Tokens          TokenSet    `json:"tokens"`
	CreatedAt       time.Time   `json:"created_at"`
	LastRefreshedAt time.Time   `json:"last_refreshed_at"` // zero until the first refresh
	Active          bool        `json:"active"`

	// ReauthRequired is set when the provider rejected the refresh token.
	ReauthRequired bool `json:"reauth_required"`
}

func (a Account) clone() Account {
	a.Tokens = a.Tokens.clone()
	return a
}

// StatusSummary counts accounts by state.
type StatusSummary struct {
	Total          int                 `json:"total"`
	Active         int                 `json:"active"`
	Inactive       int                 `json:"inactive"`
	NearExpiry     int                 `json:"near_expiry"`
	ReauthRequired int                 `json:"reauth_required"`
	ByProvider     map[provider.ID]int `json:"by_provider"`
}

// Store persists accounts keyed by id. SaveAccount replaces the stored
// account wholesale. Implementations must be safe for concurrent use.
type Store interface {
	SaveAccount(ctx context.Context, account Account) error
	LoadAccounts(ctx context.Context) ([]Account, error)
}
