package httpapi

import (
	"encoding/json"
	"net/http"

	"adamcp/internal/als"
	"adamcp/internal/manager"
	"adamcp/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeServiceError maps well-known pool and protocol errors to HTTP status
// codes and writes the JSON error payload.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case manager.IsPoolExhausted(err):
		status = http.StatusTooManyRequests
		IncrementBackpressure("pool_exhausted")
	case als.IsTimeout(err):
		status = http.StatusGatewayTimeout
	case als.IsDisconnected(err), als.IsDead(err), als.IsStartup(err), manager.IsPoolClosed(err), als.IsShutdown(err):
		status = http.StatusServiceUnavailable
	case als.IsProtocol(err):
		status = http.StatusBadGateway
	default:
		if he, ok := err.(HTTPError); ok {
			status = he.StatusCode()
		}
	}
	writeJSONError(w, status, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
