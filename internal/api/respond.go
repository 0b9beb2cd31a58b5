package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/auth/token"
)

type errorResponse struct {
	Error          string `json:"error"`
	ProviderStatus int    `json:"provider_status,omitempty"`
	ReauthRequired bool   `json:"reauth_required,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeManagerError maps token manager errors to HTTP responses. Provider
// response bodies are not echoed to the client.
func writeManagerError(w http.ResponseWriter, err error) {
	var (
		exErr *token.TokenExchangeError
		rfErr *token.TokenRefreshError
	)
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, token.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &exErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:          "token exchange failed",
			ProviderStatus: exErr.StatusCode,
		})
	case errors.As(err, &rfErr):
		status := http.StatusBadGateway
		msg := "token refresh failed"
		if rfErr.Permanent {
			status = http.StatusUnauthorized
			msg = "account requires re-authorization"
		}
		writeJSON(w, status, errorResponse{
			Error:          msg,
			ProviderStatus: rfErr.StatusCode,
			ReauthRequired: rfErr.Permanent,
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
