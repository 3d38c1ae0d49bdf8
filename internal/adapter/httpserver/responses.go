package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

// errorStatus maps domain sentinels to the wire contract. First match wins,
// so more specific sentinels sit above broader ones.
var errorStatus = []struct {
	sentinel error
	status   int
	code     string
}{
	{domain.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	{domain.ErrUpstreamTimeout, http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"},
	{domain.ErrUpstreamRateLimit, http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMIT"},
	{domain.ErrUnauthorized, http.StatusServiceUnavailable, "UPSTREAM_AUTH"},
	{domain.ErrSchemaInvalid, http.StatusServiceUnavailable, "SCHEMA_INVALID"},
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	for _, m := range errorStatus {
		if errors.Is(err, m.sentinel) {
			status, code = m.status, m.code
			break
		}
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: err.Error(), Details: details}})
}
