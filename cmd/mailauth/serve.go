package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pysugar/mailauth/internal/api"
	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/auth/token"
	"github.com/pysugar/mailauth/internal/config"
	"github.com/pysugar/mailauth/internal/db"
	"github.com/pysugar/mailauth/internal/logging"
	"github.com/pysugar/mailauth/internal/metrics"
	"github.com/pysugar/mailauth/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background token refresh",
		Long: `Start the HTTP server that hosts the OAuth login flow and the account
API, and refresh expiring tokens in the background.

Configuration is read from the environment (see .env.example):
  HOST, PORT                   listen address (default 127.0.0.1:8080)
  MAILAUTH_STORE               memory, sqlite or redis (default sqlite)
  MAILAUTH_ADMIN_PASSWORD      basic auth password for /api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := logging.New(logging.Config{
		Env:         cfg.LogEnv,
		Level:       cfg.LogLevel,
		ServiceName: "mailauth",
		Version:     version.Version,
	})
	defer func() { _ = logger.Sync() }()

	registry, err := provider.LoadFromEnv()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []token.Option{
		token.WithLogger(logger.Named("token")),
		token.WithMetrics(metrics.New(promReg)),
		token.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
	}
	if store != nil {
		opts = append(opts, token.WithStore(store))
	}
	mgr, err := token.NewManager(ctx, registry, opts...)
	if err != nil {
		return err
	}
	mgr.StartRefreshLoop(ctx, cfg.RefreshInterval)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(api.Config{
			Manager:       mgr,
			Registry:      registry,
			AdminPassword: cfg.AdminPass,
			Logger:        logger.Named("http"),
			Metrics:       promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mailauth starting",
			zap.String("addr", "http://"+cfg.Addr()),
			zap.String("store", cfg.Store),
			zap.Any("providers", registry.IDs()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received, stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore returns the configured account store and its cleanup. The
// memory store is a nil Store.
func openStore(cfg config.Config) (token.Store, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite:
		gdb, err := db.InitDB(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := gdb.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return db.NewAccountStore(gdb), closeFn, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		return db.NewRedisStore(client), func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
