package provider

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(id ID) Config {
	return Config{
		ID:                    id,
		Trust:                 trustFor(id),
		ClientID:              string(id) + "-client",
		ClientSecret:          string(id) + "-secret",
		RedirectURI:           "http://localhost/cb",
		Scopes:                DefaultScopes(id),
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		TokenEndpoint:         "https://auth.example.com/token",
	}
}

func TestOutlookScopesNeverIncludeCloudManagement(t *testing.T) {
	scopes := DefaultScopes(Outlook)
	require.NotEmpty(t, scopes)
	for _, s := range scopes {
		assert.Falsef(t, IsCloudManagementScope(s), "local-only scope %q is a cloud management scope", s)
		assert.Truef(t, IsProtocolScope(s), "local-only scope %q is not a protocol scope", s)
	}
	assert.NoError(t, CheckScopePolicy(testConfig(Outlook)))
}

func TestIsCloudManagementScope(t *testing.T) {
	tests := []struct {
		scope string
		cloud bool
	}{
		{"https://graph.microsoft.com/Mail.ReadWrite", true},
		{"https://graph.microsoft.com/.default", true},
		{"https://outlook.office.com/.default", true},
		{"Mail.ReadWrite", true},
		{"https://outlook.office.com/EWS.AccessAsUser.All", true},
		{"https://www.googleapis.com/auth/cloud-platform", true},
		{"https://www.googleapis.com/auth/gmail.modify", true},
		{"https://outlook.office.com/IMAP.AccessAsUser.All", false},
		{"https://outlook.office.com/SMTP.Send", false},
		{"offline_access", false},
	}
	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			assert.Equal(t, tt.cloud, IsCloudManagementScope(tt.scope))
		})
	}
}

func TestNewRegistry_RejectsCloudScopeOnLocalOnly(t *testing.T) {
	cfg := testConfig(Outlook)
	cfg.Scopes = append(cfg.Scopes, "https://graph.microsoft.com/Mail.Read")

	_, err := NewRegistry(cfg)
	var policyErr *ScopePolicyError
	require.ErrorAs(t, err, &policyErr)
	assert.Equal(t, Outlook, policyErr.Provider)
	assert.Equal(t, []string{"https://graph.microsoft.com/Mail.Read"}, policyErr.Scopes)
}

func TestNewRegistry_CloudProviderMayUseAPIScopes(t *testing.T) {
	reg, err := NewRegistry(testConfig(Gmail))
	require.NoError(t, err)

	cfg, err := reg.Get(Gmail)
	require.NoError(t, err)
	assert.Contains(t, cfg.Scopes, "https://www.googleapis.com/auth/gmail.modify")
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(testConfig(Gmail), testConfig(Gmail))
	require.Error(t, err)
}

func TestRegistryGet_Unknown(t *testing.T) {
	reg, err := NewRegistry(testConfig(Gmail))
	require.NoError(t, err)

	_, err = reg.Get("yahoo")
	var unknown *UnknownProviderError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, ID("yahoo"), unknown.Provider)
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestRegistryGet_ReturnsCopy(t *testing.T) {
	reg, err := NewRegistry(testConfig(Outlook))
	require.NoError(t, err)

	cfg, err := reg.Get(Outlook)
	require.NoError(t, err)
	cfg.Scopes[0] = "https://graph.microsoft.com/.default"

	again, err := reg.Get(Outlook)
	require.NoError(t, err)
	assert.Equal(t, DefaultScopes(Outlook), again.Scopes)
}

func TestDefaultScopes_ReturnsCopy(t *testing.T) {
	s := DefaultScopes(Outlook)
	s[0] = "mutated"
	assert.NotEqual(t, "mutated", DefaultScopes(Outlook)[0])
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_FromEnv(t *testing.T) {
	reg, err := Load(envMap(map[string]string{
		"GMAIL_CLIENT_ID":       "g-id",
		"GMAIL_CLIENT_SECRET":   "g-secret",
		"OUTLOOK_CLIENT_ID":     "o-id",
		"OUTLOOK_CLIENT_SECRET": "o-secret",
		"OUTLOOK_REDIRECT_URI":  "https://mail.example.com/auth/outlook/callback",
		"OUTLOOK_TENANT":        "consumers",
	}))
	require.NoError(t, err)
	assert.Equal(t, []ID{Gmail, Outlook}, reg.IDs())

	gmail, err := reg.Get(Gmail)
	require.NoError(t, err)
	assert.Equal(t, TrustCloud, gmail.Trust)
	assert.Equal(t, "https://oauth2.googleapis.com/token", gmail.TokenEndpoint)
	assert.Equal(t, "http://localhost:8080/auth/gmail/callback", gmail.RedirectURI)

	outlook, err := reg.Get(Outlook)
	require.NoError(t, err)
	assert.True(t, outlook.LocalOnly())
	assert.Equal(t, "https://login.microsoftonline.com/consumers/oauth2/v2.0/token", outlook.TokenEndpoint)
	assert.Equal(t, "https://mail.example.com/auth/outlook/callback", outlook.RedirectURI)
	assert.Equal(t, DefaultScopes(Outlook), outlook.Scopes)
}

func TestLoad_SkipsProvidersWithoutClientID(t *testing.T) {
	reg, err := Load(envMap(map[string]string{"OUTLOOK_CLIENT_ID": "o-id"}))
	require.NoError(t, err)
	assert.Equal(t, []ID{Outlook}, reg.IDs())

	_, err = Load(envMap(nil))
	require.Error(t, err)
}

func TestLoad_FileOverridesEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	content := `providers:
  - id: gmail
    redirect_uri: https://mail.example.com/cb
    token_endpoint: http://127.0.0.1:9999/token
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(envMap(map[string]string{
		"GMAIL_CLIENT_ID": "g-id",
		ProvidersFileEnv:  path,
	}))
	require.NoError(t, err)

	cfg, err := reg.Get(Gmail)
	require.NoError(t, err)
	assert.Equal(t, "https://mail.example.com/cb", cfg.RedirectURI)
	assert.Equal(t, "http://127.0.0.1:9999/token", cfg.TokenEndpoint)
	assert.Equal(t, "https://accounts.google.com/o/oauth2/auth", cfg.AuthorizationEndpoint)
}

func TestLoad_FileCannotSetScopes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	content := `providers:
  - id: outlook
    scopes: ["https://graph.microsoft.com/.default"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(envMap(map[string]string{
		"OUTLOOK_CLIENT_ID": "o-id",
		ProvidersFileEnv:    path,
	}))
	require.Error(t, err)
}

func TestOAuth2Config(t *testing.T) {
	cfg := testConfig(Gmail).OAuth2()
	assert.Equal(t, "gmail-client", cfg.ClientID)
	assert.Equal(t, "https://auth.example.com/token", cfg.Endpoint.TokenURL)
	assert.Equal(t, DefaultScopes(Gmail), cfg.Scopes)
}
