package token

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/logging"
	"github.com/pysugar/mailauth/internal/metrics"
	"github.com/pysugar/mailauth/internal/util"
)

// BuildAuthorizationURL returns the consent URL for providerID. The query
// carries client_id, redirect_uri, scope, response_type=code,
// access_type=offline, prompt=consent and, when non-empty, state.
// It does not touch manager state.
func (m *Manager) BuildAuthorizationURL(providerID provider.ID, state string) (string, error) {
	cfg, err := m.registry.Get(providerID)
	if err != nil {
		return "", err
	}
	return cfg.OAuth2().AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ExchangeCode trades an authorization code for tokens. The result is not
// registered; call RegisterAccount to keep it.
func (m *Manager) ExchangeCode(ctx context.Context, providerID provider.ID, code string) (TokenSet, error) {
	cfg, err := m.registry.Get(providerID)
	if err != nil {
		return TokenSet{}, err
	}
	if strings.TrimSpace(code) == "" {
		return TokenSet{}, &TokenExchangeError{Provider: providerID, Err: errors.New("authorization code is empty")}
	}

	issuedAt := m.now()
	tok, err := cfg.OAuth2().Exchange(m.oauthContext(ctx), code)
	if err != nil {
		status, body := retrieveDetails(err)
		m.metrics.ObserveExchange(string(providerID), exchangeResult(status))
		m.logger.Warn("Token exchange failed",
			logging.Provider(string(providerID)),
			zap.Int("status", status),
			zap.String("body", body),
		)
		return TokenSet{}, &TokenExchangeError{Provider: providerID, StatusCode: status, Body: body, Err: err}
	}

	m.metrics.ObserveExchange(string(providerID), metrics.ResultSuccess)
	ts := tokenSetFrom(cfg, tok, issuedAt, "")
	m.logger.Info("Exchanged authorization code",
		logging.Provider(string(providerID)),
		zap.Time("expires_at", ts.ExpiresAt),
	)
	return ts, nil
}

// fetchRefresh runs one refresh grant for refreshToken, retrying once on
// transient failures.
func (m *Manager) fetchRefresh(ctx context.Context, cfg provider.Config, refreshToken string) (*oauth2.Token, error) {
	conf := cfg.OAuth2()
	fetch := func() (*oauth2.Token, error) {
		src := conf.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
		return src.Token()
	}

	tok, err := fetch()
	if err == nil || !isTransient(err) || ctx.Err() != nil {
		return tok, err
	}

	m.logger.Debug("Retrying refresh after transient failure",
		logging.Provider(string(cfg.ID)),
		zap.Error(err),
	)
	timer := time.NewTimer(m.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, err
	case <-timer.C:
	}
	return fetch()
}

func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// maxTokenLifetime caps a provider's expires_in.
const maxTokenLifetime = 365 * 24 * time.Hour

// tokenSetFrom converts an oauth2 token. ExpiresAt is issuedAt plus the
// provider's expires_in. A missing refresh token falls back to prevRefresh.
func tokenSetFrom(cfg provider.Config, tok *oauth2.Token, issuedAt time.Time, prevRefresh string) TokenSet {
	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
	}
	switch {
	case tok.ExpiresIn > 0:
		lifetime := maxTokenLifetime
		if tok.ExpiresIn < int64(maxTokenLifetime/time.Second) {
			lifetime = time.Duration(tok.ExpiresIn) * time.Second
		}
		ts.ExpiresAt = issuedAt.Add(lifetime)
	case !tok.Expiry.IsZero():
		ts.ExpiresAt = tok.Expiry
	default:
		// No stated lifetime; treat the token as already due for refresh.
		ts.ExpiresAt = issuedAt
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = prevRefresh
	}
	if scope, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(scope) != "" {
		ts.GrantedScopes = strings.Fields(scope)
	} else {
		// RFC 6749 section 5.1: an omitted scope means the requested scope was granted.
		ts.GrantedScopes = cfg.Scopes
	}
	return ts
}

// retrieveDetails extracts the HTTP status and a safe body from an oauth2 error.
func retrieveDetails(err error) (int, string) {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return 0, ""
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	return status, util.SafeBody(re.Body)
}

// isPermanent reports whether the provider explicitly rejected the grant.
// The status decides first: 400 and 401 are rejections, 429 and 5xx are
// not, whatever error code the body carries.
func isPermanent(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.Response != nil {
		code := re.Response.StatusCode
		switch {
		case code == http.StatusBadRequest, code == http.StatusUnauthorized:
			return true
		case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
			return false
		}
	}
	switch re.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	return false
}

// isTransient reports whether a failed grant is worth one more attempt:
// network failures, timeouts, 429 and 5xx responses.
func isTransient(err error) bool {
	if err == nil || isPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response == nil {
			return false
		}
		code := re.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func exchangeResult(status int) string {
	if status >= 400 && status < 500 {
		return metrics.ResultRejected
	}
	return metrics.ResultTransient
}
