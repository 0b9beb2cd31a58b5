package provider

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"gopkg.in/yaml.v3"
)

const (
	// ProvidersFileEnv names the optional YAML file with endpoint overrides.
	ProvidersFileEnv = "MAILAUTH_PROVIDERS_FILE"

	defaultOutlookTenant = "common"
)

// fileConfig is the shape of the providers file. There is no scopes field
// and decoding rejects unknown keys, so scopes cannot be set from the file.
type fileConfig struct {
	Providers []fileProvider `yaml:"providers"`
}

type fileProvider struct {
	ID                    string `yaml:"id"`
	RedirectURI           string `yaml:"redirect_uri"`
	AuthorizationEndpoint string `yaml:"authorization_endpoint"`
	TokenEndpoint         string `yaml:"token_endpoint"`
	Tenant                string `yaml:"tenant"`
}

// LoadFromEnv builds the registry from the process environment.
func LoadFromEnv() (*Registry, error) {
	return Load(os.Getenv)
}

// Load builds the registry from getenv. A provider is registered only when
// its client id is set. Endpoints default to the vendor's public endpoints
// and may be overridden by the providers file.
func Load(getenv func(string) string) (*Registry, error) {
	overrides, err := loadOverrides(strings.TrimSpace(getenv(ProvidersFileEnv)))
	if err != nil {
		return nil, err
	}

	var configs []Config
	for _, id := range []ID{Gmail, Outlook} {
		prefix := strings.ToUpper(string(id)) + "_"
		clientID := strings.TrimSpace(getenv(prefix + "CLIENT_ID"))
		if clientID == "" {
			continue
		}
		cfg := Config{
			ID:           id,
			Trust:        trustFor(id),
			ClientID:     clientID,
			ClientSecret: strings.TrimSpace(getenv(prefix + "CLIENT_SECRET")),
			RedirectURI:  strings.TrimSpace(getenv(prefix + "REDIRECT_URI")),
			Scopes:       DefaultScopes(id),
		}
		if cfg.RedirectURI == "" {
			cfg.RedirectURI = fmt.Sprintf("http://localhost:8080/auth/%s/callback", id)
		}

		ov := overrides[id]
		tenant := firstNonEmpty(ov.Tenant, getenv("OUTLOOK_TENANT"), defaultOutlookTenant)
		setDefaultEndpoints(&cfg, tenant)
		if ov.RedirectURI != "" {
			cfg.RedirectURI = ov.RedirectURI
		}
		if ov.AuthorizationEndpoint != "" {
			cfg.AuthorizationEndpoint = ov.AuthorizationEndpoint
		}
		if ov.TokenEndpoint != "" {
			cfg.TokenEndpoint = ov.TokenEndpoint
		}
		configs = append(configs, cfg)
	}

	if len(configs) == 0 {
		return nil, errors.New("no providers configured: set GMAIL_CLIENT_ID and/or OUTLOOK_CLIENT_ID")
	}
	return NewRegistry(configs...)
}

func trustFor(id ID) Trust {
	if id == Outlook {
		return TrustLocalOnly
	}
	return TrustCloud
}

func setDefaultEndpoints(cfg *Config, tenant string) {
	switch cfg.ID {
	case Gmail:
		cfg.AuthorizationEndpoint = google.Endpoint.AuthURL
		cfg.TokenEndpoint = google.Endpoint.TokenURL
	case Outlook:
		ep := microsoft.AzureADEndpoint(tenant)
		cfg.AuthorizationEndpoint = ep.AuthURL
		cfg.TokenEndpoint = ep.TokenURL
	}
}

func loadOverrides(path string) (map[ID]fileProvider, error) {
	result := make(map[ID]fileProvider)
	if path == "" {
		return result, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file %q: %w", path, err)
	}

	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse providers file %q: %w", path, err)
	}

	for _, p := range cfg.Providers {
		id := ID(strings.ToLower(strings.TrimSpace(p.ID)))
		if id != Gmail && id != Outlook {
			return nil, fmt.Errorf("providers file %q: %w", path, &UnknownProviderError{Provider: id})
		}
		result[id] = p
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
