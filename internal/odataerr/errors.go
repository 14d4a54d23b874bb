// Package odataerr defines the error type produced while processing OData requests.
package odataerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an OData processing failure carrying the HTTP status it maps to.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status int, format string, args ...any) *Error {
	return &Error{StatusCode: status, Message: fmt.Sprintf(format, args...)}
}

// New creates an error for an arbitrary status code.
func New(status int, format string, args ...any) *Error {
	return newError(status, format, args...)
}

// BadRequest reports a malformed request or query option.
func BadRequest(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, format, args...)
}

// NotFound reports a missing resource or unknown segment.
func NotFound(format string, args ...any) *Error {
	return newError(http.StatusNotFound, format, args...)
}

// ResourceNotFound reports that the resource addressed by the named segment does not exist.
func ResourceNotFound(identifier string) *Error {
	return newError(http.StatusNotFound, "Resource not found for the segment '%s'", identifier)
}

// InternalServerError reports a server-side failure, including provider contract violations.
func InternalServerError(format string, args ...any) *Error {
	return newError(http.StatusInternalServerError, format, args...)
}

// NotImplemented reports a request the service understands but does not support.
func NotImplemented(format string, args ...any) *Error {
	return newError(http.StatusNotImplemented, format, args...)
}

// Unexpected reports a broken internal invariant.
func Unexpected(condition string) *Error {
	return newError(http.StatusInternalServerError, "Unexpected state, expecting %s", condition)
}

// Wrap attaches an underlying cause to a new internal server error.
func Wrap(err error, format string, args ...any) *Error {
	e := newError(http.StatusInternalServerError, format, args...)
	e.Err = err
	return e
}

// StatusCode returns the HTTP status for err, defaulting to 500 for foreign errors.
func StatusCode(err error) int {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	return http.StatusInternalServerError
}
