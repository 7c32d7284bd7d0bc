// Package pricelisterr defines the uniform error taxonomy used across
// pricelistd: every fallible operation returns (or wraps) one of these kinds
// so the HTTP layer can map it to a status code without knowing the caller.
package pricelisterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the five error categories from spec §7.
type Kind string

const (
	Validation Kind = "validation"
	NotFound   Kind = "not_found"
	Conflict   Kind = "conflict"
	Upstream   Kind = "upstream"
	Internal   Kind = "internal"
)

// HTTPStatus returns the fixed status code for a Kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a Kind-tagged error that wraps an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func newWrapped(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewValidation constructs a 400-class error.
func NewValidation(format string, args ...interface{}) *Error { return newError(Validation, format, args...) }

// NewNotFound constructs a 404-class error.
func NewNotFound(format string, args ...interface{}) *Error { return newError(NotFound, format, args...) }

// NewConflict constructs a 409-class error.
func NewConflict(format string, args ...interface{}) *Error { return newError(Conflict, format, args...) }

// NewUpstream constructs a 502-class error wrapping the upstream failure.
func NewUpstream(err error, format string, args ...interface{}) *Error {
	return newWrapped(Upstream, err, format, args...)
}

// NewInternal constructs a 500-class error wrapping an unexpected failure.
func NewInternal(err error, format string, args ...interface{}) *Error {
	return newWrapped(Internal, err, format, args...)
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is (or wraps) a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
