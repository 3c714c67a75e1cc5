package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-mail-verifier/internal/domain"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrResolutionUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrSend):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrDomainPolicy),
		errors.Is(err, domain.ErrNoMXRecords),
		errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// httpError writes err with its mapped status. Internal errors are logged and
// replaced by a generic message.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeError(w, status, msg)
}
