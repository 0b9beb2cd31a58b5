package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/auth/token"
)

// accountView is an account without its credentials.
type accountView struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Provider        string     `json:"provider"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CreatedAt       time.Time  `json:"created_at"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	Scopes          []string   `json:"scopes"`
	ReauthRequired  bool       `json:"reauth_required"`
	IsValid         bool       `json:"is_valid"`
}

func newAccountView(acc token.Account, now time.Time) accountView {
	v := accountView{
		ID:             acc.ID,
		Email:          acc.Email,
		Provider:       string(acc.Provider),
		ExpiresAt:      acc.Tokens.ExpiresAt,
		CreatedAt:      acc.CreatedAt,
		Scopes:         acc.Tokens.GrantedScopes,
		ReauthRequired: acc.ReauthRequired,
		IsValid:        acc.Tokens.ExpiresAt.After(now) && !acc.ReauthRequired,
	}
	if !acc.LastRefreshedAt.IsZero() {
		t := acc.LastRefreshedAt
		v.LastRefreshedAt = &t
	}
	return v
}

// handleListAccounts lists active accounts, optionally for one ?provider=.
func (s *server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.IDs()
	if p := r.URL.Query().Get("provider"); p != "" {
		ids = []provider.ID{provider.ID(p)}
	}

	now := time.Now()
	views := make([]accountView, 0)
	for _, id := range ids {
		accounts, err := s.manager.ListAccountsByProvider(id)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		for _, acc := range accounts {
			views = append(views, newAccountView(acc, now))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": views,
		"count":    len(views),
	})
}

func (s *server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.manager.GetAccount(chi.URLParam(r, "id"))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc, time.Now()))
}

// handleRefreshAccount forces a refresh grant.
func (s *server) handleRefreshAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tokens, err := s.manager.RefreshToken(r.Context(), id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"expires_at": tokens.ExpiresAt,
	})
}

// handleAccessToken hands a currently valid access token to a local mail
// client, refreshing it first if it is about to expire.
func (s *server) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acc, err := s.manager.GetAccount(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	// Token fields come from a single snapshot; the email never changes.
	tokens, err := s.manager.GetValidTokenSet(r.Context(), id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tokens.AccessToken,
		"token_type":   tokens.TokenType,
		"expires_at":   tokens.ExpiresAt,
		"email":        acc.Email,
	})
}

func (s *server) handleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeactivateAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.AuthStatusSummary())
}
