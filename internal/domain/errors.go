package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// Pipeline taxonomy. Every stage failure wraps exactly one of these.
	ErrInvalidInput = errors.New("invalid email address")
	ErrDomainPolicy = errors.New("domain not allowed")
	ErrResolution   = errors.New("mx resolution failed")
	ErrSend         = errors.New("probe send failed")

	// ErrNoMXRecords and ErrResolutionUnavailable refine ErrResolution.
	ErrNoMXRecords           = fmt.Errorf("no mx records: %w", ErrResolution)
	ErrResolutionUnavailable = fmt.Errorf("dns unavailable: %w", ErrResolution)

	// ErrCorrelationMismatch marks evidence that belongs to no tracked record.
	// It is logged and counted, never returned to an HTTP caller.
	ErrCorrelationMismatch = errors.New("no pending verification for evidence")
)

// StageError reports which pipeline stage rejected a submission.
type StageError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Reason
}

func (e *StageError) Unwrap() error { return e.Err }

// Reject builds a StageError for stage, wrapping err.
func Reject(stage Stage, err error, reason string) *StageError {
	return &StageError{Stage: stage, Reason: reason, Err: err}
}
