// Package apperr provides code-based domain errors shared by the cache,
// classifier, and orchestrator.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an error that carries no domain code.
	CodeUnknown Code = "UNKNOWN"

	// CodeNotFound is a cache miss. It is never returned by the cache itself,
	// only by callers that need to surface absence as an error.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInvalidArgument is a caller contract violation.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeUpstreamUnavailable is a failed fetch from the rankings source.
	// The orchestrator recovers from it locally.
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"

	// CodeUnavailable means no cached, live, or sample data exists.
	CodeUnavailable Code = "UNAVAILABLE"
)

// HTTPStatus maps a code to the status returned by the HTTP adapter.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// InvalidArgument is shorthand for New(CodeInvalidArgument, message).
func InvalidArgument(message string) *Error {
	return New(CodeInvalidArgument, message)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
