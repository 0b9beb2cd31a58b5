package token

import (
	"errors"
	"fmt"

	"github.com/pysugar/mailauth/internal/auth/provider"
)

var (
	// ErrAccountNotFound matches any *AccountNotFoundError.
	ErrAccountNotFound = errors.New("account not found")
	// ErrReauthRequired matches a *TokenRefreshError caused by the provider
	// rejecting the refresh token. The user has to go through consent again.
	ErrReauthRequired = errors.New("re-authorization required")
)

// AccountNotFoundError is returned for unknown or deactivated account ids.
type AccountNotFoundError struct {
	AccountID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account not found: %s", e.AccountID)
}

func (e *AccountNotFoundError) Is(target error) bool {
	return target == ErrAccountNotFound
}

// TokenExchangeError is returned when the provider rejects an authorization
// code or the exchange request fails. Body is redacted and truncated.
type TokenExchangeError struct {
	Provider   provider.ID
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange with %s failed (status %d): %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token exchange with %s failed: %v", e.Provider, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TokenRefreshError is returned when a refresh grant fails. Permanent
// failures (the provider answered 400 or 401) are never retried and flag the
// account for re-authorization; anything else may be retried by the caller.
type TokenRefreshError struct {
	AccountID  string
	Provider   provider.ID
	StatusCode int
	Body       string
	Permanent  bool
	Err        error
}

func (e *TokenRefreshError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "rejected"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("token refresh for account %s (%s) %s (status %d): %s",
			e.AccountID, e.Provider, kind, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token refresh for account %s (%s) %s: %v", e.AccountID, e.Provider, kind, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

func (e *TokenRefreshError) Is(target error) bool {
	return target == ErrReauthRequired && e.Permanent
}

// Retryable reports whether the caller may retry the refresh with backoff.
func (e *TokenRefreshError) Retryable() bool {
	return !e.Permanent
}
