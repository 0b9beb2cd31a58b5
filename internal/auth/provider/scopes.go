package provider

import (
	"slices"
	"strings"
)

// gmailScopes are requested for the cloud provider.
var gmailScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://mail.google.com/", // IMAP/SMTP and full Gmail API access
	"https://www.googleapis.com/auth/gmail.modify",
}

// outlookScopes are requested for the local-only provider. Only the mail
// protocol scopes are listed here; Graph and EWS are intentionally absent.
var outlookScopes = []string{
	"https://outlook.office.com/IMAP.AccessAsUser.All",
	"https://outlook.office.com/POP.AccessAsUser.All",
	"https://outlook.office.com/SMTP.Send",
	"offline_access",
}

// protocolScopes is the allow-list for local-only providers.
var protocolScopes = []string{
	"https://outlook.office.com/IMAP.AccessAsUser.All",
	"https://outlook.office.com/POP.AccessAsUser.All",
	"https://outlook.office.com/SMTP.Send",
	"https://outlook.office365.com/IMAP.AccessAsUser.All",
	"https://outlook.office365.com/POP.AccessAsUser.All",
	"https://outlook.office365.com/SMTP.Send",
	"offline_access",
	"openid",
	"email",
	"profile",
}

// cloudScopeMarkers identify vendor cloud API or management scopes.
var cloudScopeMarkers = []string{
	"https://graph.microsoft.com/",
	"https://management.azure.com/",
	"https://management.core.windows.net/",
	"https://outlook.office.com/EWS.",
	"https://outlook.office365.com/EWS.",
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/gmail.",
}

// graphShortScopes are Graph permissions that may be requested without the
// resource prefix, in which case Graph is the implied resource.
var graphShortScopes = []string{
	"mail.read",
	"mail.readwrite",
	"mail.send",
	"mailboxsettings.readwrite",
	"user.read",
	"directory.read.all",
}

// DefaultScopes returns the compiled-in scope list for id. Scopes are never
// taken from the environment or the providers file.
func DefaultScopes(id ID) []string {
	switch id {
	case Gmail:
		return slices.Clone(gmailScopes)
	case Outlook:
		return slices.Clone(outlookScopes)
	default:
		return nil
	}
}

// IsCloudManagementScope reports whether scope grants access to a vendor
// cloud API rather than a mail protocol.
func IsCloudManagementScope(scope string) bool {
	s := strings.TrimSpace(scope)
	if strings.HasSuffix(s, "/.default") || s == ".default" {
		return true
	}
	for _, marker := range cloudScopeMarkers {
		if strings.HasPrefix(s, marker) {
			return true
		}
	}
	return slices.Contains(graphShortScopes, strings.ToLower(s))
}

// IsProtocolScope reports whether scope is on the local-only allow-list.
func IsProtocolScope(scope string) bool {
	return slices.Contains(protocolScopes, strings.TrimSpace(scope))
}

// CheckScopePolicy rejects a local-only config whose scopes reach beyond
// mail protocol access. Cloud configs always pass.
func CheckScopePolicy(cfg Config) error {
	if !cfg.LocalOnly() {
		return nil
	}
	var bad []string
	for _, s := range cfg.Scopes {
		if IsCloudManagementScope(s) || !IsProtocolScope(s) {
			bad = append(bad, s)
		}
	}
	if len(bad) > 0 {
		return &ScopePolicyError{Provider: cfg.ID, Scopes: bad}
	}
	return nil
}
