// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/tutorledger/tutorledger/internal/shared"
)

// Errors raised by the transport layer itself.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// StatusFor maps an error category to its HTTP status.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, shared.ErrPaymentRequired):
		return http.StatusPaymentRequired, "Payment Required"
	case errors.Is(err, shared.ErrLocked):
		return http.StatusLocked, "Locked"
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusUnprocessableEntity, "Invalid State"
	case errors.Is(err, shared.ErrValidation), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timeout"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Internal errors never leak their message.
func RespondError(w http.ResponseWriter, err error) {
	status, title := StatusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	Problem(w, status, title, detail)
}
