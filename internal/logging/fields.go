package logging

import (
	"context"

	"go.uber.org/zap"
)

// Field keys shared by the manager and the HTTP layer.
const (
	KeyAccount   = "account_id"
	KeyProvider  = "provider"
	KeyRequestID = "request_id"
)

// Account returns a field for an account id.
func Account(id string) zap.Field {
	return zap.String(KeyAccount, id)
}

// Provider returns a field for a provider id.
func Provider(id string) zap.Field {
	return zap.String(KeyProvider, id)
}

// Email returns a field with the mailbox address masked to its first
// character and domain, e.g. "a***@example.com".
func Email(addr string) zap.Field {
	return zap.String("email", MaskEmail(addr))
}

// MaskEmail hides the local part of addr except its first character.
func MaskEmail(addr string) string {
	for i := 0; i < len(addr); i++ {
		if addr[i] == '@' {
			if i == 0 {
				return addr
			}
			return addr[:1] + "***" + addr[i:]
		}
	}
	return "***"
}

// FromContext returns l with the request id from ctx attached, if any.
func FromContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	if id := GetRequestID(ctx); id != "" {
		return l.With(zap.String(KeyRequestID, id))
	}
	return l
}
