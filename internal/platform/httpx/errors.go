// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// ErrUnauthorized indicates a request without an actor.
var ErrUnauthorized = errors.New("unauthorized")

// Status maps the ledger error taxonomy to an HTTP status code.
func Status(err error) int {
	switch accounting.Category(err) {
	case accounting.ErrTransient:
		return http.StatusServiceUnavailable
	case accounting.ErrValidation:
		return http.StatusBadRequest
	case accounting.ErrInvariantViolation:
		return http.StatusUnprocessableEntity
	case accounting.ErrStateConflict:
		return http.StatusConflict
	case accounting.ErrNotFound:
		return http.StatusNotFound
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Messages
// of classified errors carry the ids and amounts a caller needs to correct
// the request; unclassified errors are not echoed.
func RespondError(w http.ResponseWriter, err error) {
	status := Status(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	p := ProblemDetail{Title: http.StatusText(status), Status: status, Detail: detail}
	if kind := accounting.Category(err); kind != nil {
		p.Type = kindName(kind)
	}
	JSON(w, status, p)
}

func kindName(kind error) string {
	switch kind {
	case accounting.ErrTransient:
		return "transient-failure"
	case accounting.ErrValidation:
		return "validation-error"
	case accounting.ErrInvariantViolation:
		return "invariant-violation"
	case accounting.ErrStateConflict:
		return "state-conflict"
	default:
		return "not-found"
	}
}
