package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/logging"
	"github.com/pysugar/mailauth/internal/metrics"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultRetryDelay  = 250 * time.Millisecond
)

// Manager handles token lifecycle for every registered account.
//
// The account map is guarded by mu; each entry has its own lock that covers
// the read-expiry, refresh, write-tokens sequence for that account.
type Manager struct {
	registry   *provider.Registry
	store      Store
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	retryDelay time.Duration

	mu       sync.RWMutex
	accounts map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	account Account
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists accounts to s and loads existing ones at startup.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRetryDelay sets the pause before retrying a transient refresh failure.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// NewManager creates a token manager over registry. When a store is
// configured its accounts are loaded into memory before returning.
func NewManager(ctx context.Context, registry *provider.Registry, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("token manager requires a provider registry")
	}
	m := &Manager{
		registry:   registry,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     zap.NewNop(),
		now:        time.Now,
		retryDelay: defaultRetryDelay,
		accounts:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store != nil {
		if err := m.loadAccounts(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) loadAccounts(ctx context.Context) error {
	accounts, err := m.store.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	active := 0
	for _, acc := range accounts {
		m.accounts[acc.ID] = &entry{account: acc.clone()}
		if acc.Active {
			active++
		}
	}
	m.logger.Info("Loaded accounts from store", zap.Int("total", len(accounts)), zap.Int("active", active))
	return nil
}

// RegisterAccount stores a new active account for tokens obtained from
// ExchangeCode and returns its generated id.
func (m *Manager) RegisterAccount(ctx context.Context, email string, providerID provider.ID, tokens TokenSet) (string, error) {
	cfg, err := m.registry.Get(providerID)
	if err != nil {
		return "", err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("register account: email address is required")
	}
	if tokens.AccessToken == "" {
		return "", errors.New("register account: token set has no access token")
	}

	acc := Account{
		ID:        uuid.NewString(),
		Email:     email,
		Provider:  providerID,
		Tokens:    tokens.clone(),
		CreatedAt: m.now(),
		Active:    true,
	}
	if m.store != nil {
		if err := m.store.SaveAccount(ctx, acc); err != nil {
			m.metrics.ObserveStoreError()
			return "", fmt.Errorf("register account: %w", err)
		}
	}

	m.mu.Lock()
	m.accounts[acc.ID] = &entry{account: acc}
	m.mu.Unlock()

	log := logging.FromContext(ctx, m.logger).With(
		logging.Account(acc.ID),
		logging.Provider(string(providerID)),
		logging.Email(email),
	)
	log.Info("Registered account", zap.Time("expires_at", tokens.ExpiresAt))
	if cfg.LocalOnly() {
		log.Warn("Account is scope-restricted to local mailbox protocols",
			zap.String("trust", string(cfg.Trust)),
			zap.Strings("scopes", cfg.Scopes),
		)
	}
	return acc.ID, nil
}

// GetValidAccessToken returns an access token for accountID that stays
// valid for at least RefreshThreshold.
//
// This is not a pure read: when the stored token expires within the
// threshold it is refreshed synchronously, and the new tokens replace the
// stored ones. Concurrent callers for the same account wait on one refresh.
func (m *Manager) GetValidAccessToken(ctx context.Context, accountID string) (string, error) {
	ts, err := m.GetValidTokenSet(ctx, accountID)
	if err != nil {
		return "", err
	}
	return ts.AccessToken, nil
}

// GetValidTokenSet is GetValidAccessToken returning a copy of the whole
// token set, taken under the same lock as the expiry check.
//
// An account flagged ReauthRequired whose token is expiring fails with a
// permanent *TokenRefreshError without contacting the provider; only a
// forced RefreshToken retries the rejected refresh token.
func (m *Manager) GetValidTokenSet(ctx context.Context, accountID string) (TokenSet, error) {
	e, err := m.lookup(accountID)
	if err != nil {
		return TokenSet{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	acc := e.account
	if !acc.Active {
		return TokenSet{}, &AccountNotFoundError{AccountID: accountID}
	}
	if !acc.Tokens.ExpiresWithin(m.now(), RefreshThreshold) {
		return acc.Tokens.clone(), nil
	}
	if acc.ReauthRequired {
		return TokenSet{}, &TokenRefreshError{
			AccountID: acc.ID,
			Provider:  acc.Provider,
			Permanent: true,
			Err:       errors.New("refresh token was rejected by the provider; account needs re-authorization"),
		}
	}

	logging.FromContext(ctx, m.logger).Info("Token is expired or expiring, refreshing",
		logging.Account(accountID),
		zap.Time("expires_at", acc.Tokens.ExpiresAt),
	)
	return m.refreshLocked(ctx, e)
}

// RefreshToken forces a refresh grant for accountID using its stored refresh
// token. On success the account's tokens and LastRefreshedAt are replaced.
func (m *Manager) RefreshToken(ctx context.Context, accountID string) (TokenSet, error) {
	e, err := m.lookup(accountID)
	if err != nil {
		return TokenSet{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.account.Active {
		return TokenSet{}, &AccountNotFoundError{AccountID: accountID}
	}
	return m.refreshLocked(ctx, e)
}

// refreshLocked performs the refresh for e. The caller holds e.mu.
func (m *Manager) refreshLocked(ctx context.Context, e *entry) (TokenSet, error) {
	acc := e.account
	log := logging.FromContext(ctx, m.logger).With(
		logging.Account(acc.ID),
		logging.Provider(string(acc.Provider)),
	)

	cfg, err := m.registry.Get(acc.Provider)
	if err != nil {
		return TokenSet{}, err
	}
	if acc.Tokens.RefreshToken == "" {
		m.flagReauth(ctx, e)
		return TokenSet{}, &TokenRefreshError{
			AccountID: acc.ID,
			Provider:  acc.Provider,
			Permanent: true,
			Err:       errors.New("no refresh token on record"),
		}
	}

	started := time.Now()
	issuedAt := m.now()
	tok, err := m.fetchRefresh(ctx, cfg, acc.Tokens.RefreshToken)
	if err != nil {
		status, body := retrieveDetails(err)
		rerr := &TokenRefreshError{
			AccountID:  acc.ID,
			Provider:   acc.Provider,
			StatusCode: status,
			Body:       body,
			Permanent:  isPermanent(err),
			Err:        err,
		}
		if rerr.Permanent {
			m.metrics.ObserveRefresh(string(acc.Provider), metrics.ResultRejected, time.Since(started))
			m.flagReauth(ctx, e)
			log.Warn("Refresh token rejected, account needs re-authorization", zap.Int("status", status), zap.String("body", body))
		} else {
			m.metrics.ObserveRefresh(string(acc.Provider), metrics.ResultTransient, time.Since(started))
			log.Warn("Transient refresh failure", zap.Int("status", status), zap.Error(err))
		}
		return TokenSet{}, rerr
	}

	updated := acc.clone()
	updated.Tokens = tokenSetFrom(cfg, tok, issuedAt, acc.Tokens.RefreshToken)
	updated.LastRefreshedAt = m.now()
	updated.ReauthRequired = false
	e.account = updated
	m.persist(ctx, updated)

	m.metrics.ObserveRefresh(string(acc.Provider), metrics.ResultSuccess, time.Since(started))
	if updated.Tokens.RefreshToken != acc.Tokens.RefreshToken {
		log.Info("Provider rotated refresh token")
	}
	log.Info("Refreshed token", zap.Time("expires_at", updated.Tokens.ExpiresAt))
	return updated.Tokens.clone(), nil
}

func (m *Manager) flagReauth(ctx context.Context, e *entry) {
	if e.account.ReauthRequired {
		return
	}
	updated := e.account.clone()
	updated.ReauthRequired = true
	e.account = updated
	m.persist(ctx, updated)
}

// persist writes acc to the store. The in-memory registry stays
// authoritative when the write fails.
func (m *Manager) persist(ctx context.Context, acc Account) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveAccount(ctx, acc); err != nil {
		m.metrics.ObserveStoreError()
		m.logger.Error("Failed to persist account", logging.Account(acc.ID), zap.Error(err))
	}
}

// DeactivateAccount marks accountID inactive. Unknown or already inactive
// ids are a no-op. Tokens are not revoked with the provider.
func (m *Manager) DeactivateAccount(ctx context.Context, accountID string) error {
	m.mu.RLock()
	e, ok := m.accounts[accountID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.account.Active {
		return nil
	}
	updated := e.account.clone()
	updated.Active = false
	e.account = updated

	logging.FromContext(ctx, m.logger).Info("Deactivated account",
		logging.Account(accountID),
		logging.Provider(string(updated.Provider)),
	)
	if m.store != nil {
		if err := m.store.SaveAccount(ctx, updated); err != nil {
			m.metrics.ObserveStoreError()
			return fmt.Errorf("deactivate account %s: %w", accountID, err)
		}
	}
	return nil
}

// GetAccount returns a copy of an active account.
func (m *Manager) GetAccount(accountID string) (Account, error) {
	e, err := m.lookup(accountID)
	if err != nil {
		return Account{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.account.Active {
		return Account{}, &AccountNotFoundError{AccountID: accountID}
	}
	return e.account.clone(), nil
}

// ListAccountsByProvider returns copies of the active accounts for
// providerID, oldest first.
func (m *Manager) ListAccountsByProvider(providerID provider.ID) ([]Account, error) {
	if _, err := m.registry.Get(providerID); err != nil {
		return nil, err
	}

	var result []Account
	for _, e := range m.snapshot() {
		e.mu.Lock()
		if e.account.Active && e.account.Provider == providerID {
			result = append(result, e.account.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// AuthStatusSummary counts total, active, near-expiry and re-auth accounts.
func (m *Manager) AuthStatusSummary() StatusSummary {
	summary := StatusSummary{ByProvider: make(map[provider.ID]int)}
	now := m.now()
	for _, e := range m.snapshot() {
		e.mu.Lock()
		acc := e.account
		e.mu.Unlock()

		summary.Total++
		if !acc.Active {
			summary.Inactive++
			continue
		}
		summary.Active++
		summary.ByProvider[acc.Provider]++
		if acc.Tokens.ExpiresWithin(now, RefreshThreshold) {
			summary.NearExpiry++
		}
		if acc.ReauthRequired {
			summary.ReauthRequired++
		}
	}
	return summary
}

func (m *Manager) lookup(accountID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.accounts[accountID]
	m.mu.RUnlock()
	if !ok {
		return nil, &AccountNotFoundError{AccountID: accountID}
	}
	return e, nil
}

func (m *Manager) snapshot() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*entry, 0, len(m.accounts))
	for _, e := range m.accounts {
		entries = append(entries, e)
	}
	return entries
}
