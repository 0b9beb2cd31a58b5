package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// BackgroundLookahead is how far ahead the background loop refreshes.
	BackgroundLookahead = 20 * time.Minute

	backgroundParallelism = 4
)

// RefreshExpiring refreshes every active account whose token expires within
// lookahead. Accounts already flagged for re-authorization are skipped. It
// returns the number refreshed and the joined refresh errors.
func (m *Manager) RefreshExpiring(ctx context.Context, lookahead time.Duration) (int, error) {
	var (
		g         errgroup.Group
		mu        sync.Mutex
		errs      []error
		refreshed int
	)
	g.SetLimit(backgroundParallelism)

	for _, e := range m.snapshot() {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			e.mu.Lock()
			defer e.mu.Unlock()

			acc := e.account
			if !acc.Active || acc.ReauthRequired || !acc.Tokens.ExpiresWithin(m.now(), lookahead) {
				return nil
			}
			_, err := m.refreshLocked(ctx, e)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				refreshed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return refreshed, errors.Join(errs...)
}

// StartRefreshLoop refreshes expiring tokens every interval until ctx is
// cancelled. Failures are logged and retried on the next tick.
func (m *Manager) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.RefreshExpiring(ctx, BackgroundLookahead)
				if err != nil {
					m.logger.Warn("Background refresh finished with errors", zap.Int("refreshed", n), zap.Error(err))
				} else if n > 0 {
					m.logger.Info("Background refresh finished", zap.Int("refreshed", n))
				}
			}
		}
	}()
	m.logger.Info("Token refresh loop started", zap.Duration("interval", interval))
}
