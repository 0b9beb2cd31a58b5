// Package api serves the OAuth login flow and account administration over HTTP.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/auth/token"
	"github.com/pysugar/mailauth/internal/logging"
)

const (
	defaultStateTTL = 10 * time.Minute
	requestIDHeader = "X-Request-ID"
)

// Config wires the router to the token manager.
type Config struct {
	Manager  *token.Manager
	Registry *provider.Registry

	// AdminPassword protects /api with basic auth when non-empty.
	AdminPassword string
	Logger        *zap.Logger

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	// StateTTL bounds how long a login may take. Default 10 minutes.
	StateTTL time.Duration
}

type server struct {
	manager  *token.Manager
	registry *provider.Registry
	logger   *zap.Logger

	// stateMu makes lookup-and-delete of a state one step.
	stateMu sync.Mutex
	states  *gocache.Cache
}

// NewRouter returns the HTTP handler for cfg.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	s := &server{
		manager:  cfg.Manager,
		registry: cfg.Registry,
		logger:   logger,
		states:   gocache.New(ttl, time.Minute),
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/auth/{provider}/login", s.handleLogin)
	r.Get("/auth/{provider}/callback", s.handleCallback)

	r.Route("/api", func(r chi.Router) {
		r.Use(optionalAdminAuth(cfg.AdminPassword))
		r.Get("/status", s.handleStatus)
		r.Get("/accounts", s.handleListAccounts)
		r.Get("/accounts/{id}", s.handleGetAccount)
		r.Post("/accounts/{id}/refresh", s.handleRefreshAccount)
		r.Post("/accounts/{id}/token", s.handleAccessToken)
		r.Delete("/accounts/{id}", s.handleDeactivateAccount)
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	return r
}

// requestID propagates X-Request-ID or generates one, and stores it in the
// request context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if rid == "" {
			rid = logging.GenerateRequestID()
		}
		w.Header().Set(requestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), rid)))
	})
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logging.FromContext(r.Context(), logger).Info("Request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func optionalAdminAuth(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="mailauth admin"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
