package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/logger"
)

// HandlerFunc mirrors the teacher's error-returning handler convention: a
// handler reports failure by returning an error instead of writing to w
// directly, and ErrorHandler is the single place that decides the status
// code and response body.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps the service's closed error-type vocabulary (internal/errors)
// to the HTTP status table in spec.md §7.
func statusFor(t errors.Type) int {
	switch t {
	case errors.ErrInvalidArgument:
		return http.StatusBadRequest
	case errors.ErrUnauthenticated:
		return http.StatusUnauthorized
	case errors.ErrAccessDenied:
		return http.StatusForbidden
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrAlreadyExists:
		return http.StatusConflict
	case errors.ErrQuotaExceeded:
		return http.StatusTooManyRequests
	case errors.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler adapts a HandlerFunc to http.HandlerFunc, mapping returned
// errors to a JSON body and status code rather than letting every handler
// write its own error response.
func ErrorHandler(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		status := http.StatusInternalServerError
		message := "internal error"
		var typed *errors.Error
		if stderrors.As(err, &typed) {
			status = statusFor(typed.Type)
			// Only type and message reach the client; the cause is logged.
			message = string(typed.Type) + ": " + typed.Message
			if typed.Cause != nil {
				logger.FromContext(r.Context()).Warn("handler error", "error", err)
			}
		} else {
			logger.FromContext(r.Context()).Error("unhandled handler error", "error", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(errorBody{Error: message})
	}
}
