package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/intrusion"
)

var errBadRequest = errors.New("invalid request")

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, intrusion.ErrThrottled):
		return http.StatusTooManyRequests, "too_many_attempts"
	}

	reason := goVerify.ReasonCode(err)
	switch reason {
	case "account_disabled":
		return http.StatusForbidden, reason
	case "totp_already_enabled", "totp_not_configured", "passkey_not_configured":
		return http.StatusBadRequest, reason
	case "passkey_not_found":
		return http.StatusNotFound, reason
	case "backend_unavailable", "engine_not_ready":
		return http.StatusServiceUnavailable, reason
	case "internal_error":
		return http.StatusInternalServerError, reason
	default:
		return http.StatusUnauthorized, reason
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, reason := statusFor(err)
	writeJSON(w, status, map[string]string{"error": reason})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
