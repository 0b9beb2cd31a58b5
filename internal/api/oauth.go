package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/mail"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/logging"
)

// pendingLogin is what a login remembers until its callback arrives.
type pendingLogin struct {
	Provider provider.ID
	Email    string
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// handleLogin redirects to the provider's consent page. The mailbox
// address is taken from ?email= and bound to a single-use state value.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	providerID := provider.ID(chi.URLParam(r, "provider"))
	if _, err := s.registry.Get(providerID); err != nil {
		writeManagerError(w, err)
		return
	}

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, http.StatusBadRequest, "email query parameter must be a mailbox address")
		return
	}

	state, err := newState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	authURL, err := s.manager.BuildAuthorizationURL(providerID, state)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	s.states.SetDefault(state, pendingLogin{Provider: providerID, Email: email})

	logging.FromContext(r.Context(), s.logger).Info("Starting authorization",
		logging.Provider(string(providerID)),
		logging.Email(email),
	)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// consumeState removes state and returns what its login stored. Only one
// caller can consume a given state.
func (s *server) consumeState(state string) (pendingLogin, bool) {
	if state == "" {
		return pendingLogin{}, false
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	v, ok := s.states.Get(state)
	if !ok {
		return pendingLogin{}, false
	}
	s.states.Delete(state)
	pending, ok := v.(pendingLogin)
	return pending, ok
}

// handleCallback consumes the state, exchanges the code and registers the
// account.
func (s *server) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerID := provider.ID(chi.URLParam(r, "provider"))
	q := r.URL.Query()
	log := logging.FromContext(r.Context(), s.logger).With(logging.Provider(string(providerID)))

	state := q.Get("state")
	pending, ok := s.consumeState(state)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}
	if pending.Provider != providerID {
		writeError(w, http.StatusBadRequest, "state was issued for a different provider")
		return
	}

	if denied := q.Get("error"); denied != "" {
		log.Warn("Authorization denied by provider", zap.String("error", denied))
		writeError(w, http.StatusBadRequest, "authorization failed: "+denied)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}
	tokens, err := s.manager.ExchangeCode(r.Context(), providerID, code)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	accountID, err := s.manager.RegisterAccount(r.Context(), pending.Email, providerID, tokens)
	if err != nil {
		log.Error("Failed to register account", zap.Error(err))
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"account_id": accountID,
		"email":      pending.Email,
		"provider":   string(providerID),
	})
}
