package accessory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ilot95/hmip-bridge/internal/bridges/hmip"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeUnauthorized  = "unauthorised"
	ErrCodeControlFailed = "control_failed"
	ErrCodeUnavailable   = "unavailable"
	ErrCodeInternal      = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeHostError maps host and binding errors to a status code. A control
// call cut off by the request deadline reports the cloud as unavailable.
func writeHostError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEndpointNotFound), errors.Is(err, ErrNotBound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, hmip.ErrInvalidValue):
		writeBadRequest(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, hmip.ErrControlFailed):
		writeError(w, http.StatusBadGateway, ErrCodeControlFailed, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
