// Package config reads process settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type Config struct {
	Host string
	Port string

	// Store is one of StoreMemory, StoreSQLite or StoreRedis.
	Store     string
	DBPath    string
	RedisAddr string
	RedisDB   int
	RedisPass string

	// AdminPass enables basic auth on /api when set.
	AdminPass string
	LogEnv    string
	LogLevel  string

	HTTPTimeout     time.Duration
	RefreshInterval time.Duration
}

// Addr is the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

// LoadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load reads the configuration from getenv, applying defaults.
func Load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Host:      get("HOST", "127.0.0.1"),
		Port:      get("PORT", "8080"),
		Store:     strings.ToLower(get("MAILAUTH_STORE", StoreSQLite)),
		DBPath:    get("MAILAUTH_DB_PATH", "mailauth.db"),
		RedisAddr: get("MAILAUTH_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPass: getenv("MAILAUTH_REDIS_PASSWORD"),
		AdminPass: getenv("MAILAUTH_ADMIN_PASSWORD"),
		LogEnv:    get("MAILAUTH_LOG_ENV", "dev"),
		LogLevel:  get("MAILAUTH_LOG_LEVEL", "info"),
	}

	switch cfg.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return Config{}, fmt.Errorf("MAILAUTH_STORE: unknown store %q (want memory, sqlite or redis)", cfg.Store)
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return Config{}, fmt.Errorf("PORT: %w", err)
	}

	var err error
	if cfg.RedisDB, err = strconv.Atoi(get("MAILAUTH_REDIS_DB", "0")); err != nil {
		return Config{}, fmt.Errorf("MAILAUTH_REDIS_DB: %w", err)
	}
	if cfg.HTTPTimeout, err = parsePositiveDuration(get("MAILAUTH_HTTP_TIMEOUT", "10s")); err != nil {
		return Config{}, fmt.Errorf("MAILAUTH_HTTP_TIMEOUT: %w", err)
	}
	if cfg.RefreshInterval, err = parsePositiveDuration(get("MAILAUTH_REFRESH_INTERVAL", "15m")); err != nil {
		return Config{}, fmt.Errorf("MAILAUTH_REFRESH_INTERVAL: %w", err)
	}
	return cfg, nil
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}
