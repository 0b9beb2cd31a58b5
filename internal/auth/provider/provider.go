// Package provider holds the fixed set of OAuth provider configurations the
// token manager authenticates against.
package provider

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/oauth2"
)

// ID identifies a mail provider.
type ID string

const (
	// Gmail is the cloud provider. Its scopes include Google's mail APIs.
	Gmail ID = "gmail"
	// Outlook is the local-only provider. Its scopes are limited to the
	// IMAP, POP and SMTP protocol endpoints.
	Outlook ID = "outlook"
)

// Trust is the trust level a provider is configured with.
type Trust string

const (
	TrustCloud     Trust = "cloud"
	TrustLocalOnly Trust = "local-only"
)

// Config is the immutable OAuth configuration for one provider.
type Config struct {
	ID                    ID
	Trust                 Trust
	ClientID              string
	ClientSecret          string
	RedirectURI           string
	Scopes                []string
	AuthorizationEndpoint string
	TokenEndpoint         string
}

// LocalOnly reports whether the provider is restricted to protocol-level scopes.
func (c Config) LocalOnly() bool {
	return c.Trust == TrustLocalOnly
}

// ScopeString returns the configured scopes joined the way they are sent on the wire.
func (c Config) ScopeString() string {
	return strings.Join(c.Scopes, " ")
}

// OAuth2 returns an oauth2.Config for the provider. Client credentials are
// sent in the form body, never as basic auth.
func (c Config) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       slices.Clone(c.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthorizationEndpoint,
			TokenURL:  c.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c Config) clone() Config {
	c.Scopes = slices.Clone(c.Scopes)
	return c
}

// Registry indexes provider configs by ID. It is built once at startup and
// never mutated afterwards.
type Registry struct {
	configs map[ID]Config
	order   []ID
}

// NewRegistry validates configs and returns a registry holding them.
// Each provider id may appear once, and local-only providers must pass the
// scope policy check.
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{configs: make(map[ID]Config, len(configs))}
	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, fmt.Errorf("provider config is missing an id")
		}
		if _, dup := r.configs[cfg.ID]; dup {
			return nil, fmt.Errorf("provider %q configured more than once", cfg.ID)
		}
		if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
			return nil, fmt.Errorf("provider %q is missing an endpoint", cfg.ID)
		}
		if len(cfg.Scopes) == 0 {
			return nil, fmt.Errorf("provider %q has no scopes", cfg.ID)
		}
		if err := CheckScopePolicy(cfg); err != nil {
			return nil, err
		}
		r.configs[cfg.ID] = cfg.clone()
		r.order = append(r.order, cfg.ID)
	}
	return r, nil
}

// Get returns a copy of the config registered for id.
func (r *Registry) Get(id ID) (Config, error) {
	cfg, ok := r.configs[id]
	if !ok {
		return Config{}, &UnknownProviderError{Provider: id}
	}
	return cfg.clone(), nil
}

// IDs returns the registered provider ids in registration order.
func (r *Registry) IDs() []ID {
	return slices.Clone(r.order)
}
