// Package orcherr defines the error kinds surfaced through orchestra's
// public API (spec.md §7) and the HTTP status code each maps to.
package orcherr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for HTTP translation and logging.
type Kind string

const (
	BadRequest         Kind = "BAD_REQUEST"
	UnknownToken       Kind = "UNKNOWN_TOKEN"
	Busy               Kind = "BUSY"
	LeaseLost          Kind = "LEASE_LOST"
	BackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	Timeout            Kind = "TIMEOUT"
	Fatal              Kind = "FATAL"
)

// httpStatus maps each Kind to the status code spec.md §7 assigns it.
// LEASE_LOST, TIMEOUT and FATAL are internal-only kinds with no direct
// HTTP mapping; they surface as 500 if they ever reach the API layer
// unwrapped.
var httpStatus = map[Kind]int{
	BadRequest:         http.StatusBadRequest,
	UnknownToken:       http.StatusNotFound,
	Busy:               http.StatusServiceUnavailable,
	BackendUnavailable: http.StatusBadGateway,
}

// Error wraps a Kind and an underlying cause.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// As extracts the Kind from err if it (or something it wraps) is an
// *Error; ok is false otherwise.
func As(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HTTPStatus returns the status code to use when translating err for an
// HTTP response. Unrecognized or nil errors map to 500.
func HTTPStatus(err error) int {
	kind, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if status, ok := httpStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}
