package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider matches any *UnknownProviderError via errors.Is.
var ErrUnknownProvider = errors.New("unknown provider")

// UnknownProviderError is returned when a caller names a provider id that is
// not registered. It is a programming error and is never retryable.
type UnknownProviderError struct {
	Provider ID
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider: %q", e.Provider)
}

func (e *UnknownProviderError) Is(target error) bool {
	return target == ErrUnknownProvider
}

// ScopePolicyError is returned when a local-only provider is configured with
// scopes outside the mail protocol allow-list.
type ScopePolicyError struct {
	Provider ID
	Scopes   []string
}

func (e *ScopePolicyError) Error() string {
	return fmt.Sprintf("provider %q is local-only but requests non-protocol scopes: %s",
		e.Provider, strings.Join(e.Scopes, ", "))
}
