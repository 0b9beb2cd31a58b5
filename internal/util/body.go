// Package util holds helpers for turning provider responses into safe
// diagnostic strings.
package util

import (
	"fmt"
	"regexp"
)

// DefaultBodyMaxLen caps provider response bodies kept in errors and logs.
const DefaultBodyMaxLen = 1024

// secretFieldRe matches JSON or form encoded credential fields.
var secretFieldRe = regexp.MustCompile(`("?(?:access_token|refresh_token|id_token|client_secret)"?\s*[:=]\s*"?)([^"&,\s}]+)`)

// Truncate shortens s to maxLen bytes and notes the original size.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// RedactSecrets replaces the values of token and client secret fields.
func RedactSecrets(s string) string {
	return secretFieldRe.ReplaceAllString(s, "${1}[redacted]")
}

// SafeBody redacts credentials in b and truncates it to DefaultBodyMaxLen.
func SafeBody(b []byte) string {
	return Truncate(RedactSecrets(string(b)), DefaultBodyMaxLen)
}
