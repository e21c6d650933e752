// Package errors defines the typed error vocabulary used across the
// activation service. Every error that should be distinguishable by a
// caller — and every error mapped to an HTTP status in internal/httpapi —
// is constructed as an *Error with one of the Type constants below.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Type identifies the class of failure. The set is closed and maps 1:1 to
// the error kinds in the service's error-handling design.
type Type string

const (
	ErrInvalidArgument Type = "invalid_argument"
	ErrUnauthenticated  Type = "unauthenticated"
	ErrAccessDenied     Type = "access_denied"
	ErrNotFound         Type = "not_found"
	ErrAlreadyExists    Type = "already_exists"
	ErrQuotaExceeded    Type = "quota_exceeded"
	ErrUnavailable      Type = "unavailable"
	ErrInternal         Type = "internal"
)

// Error is the concrete error type raised throughout the service. Stack
// traces are never part of Message; Cause, when present, is only ever
// logged, not rendered to the end user.
type Error struct {
	Type    Type
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newErr(t Type) func(string, error) *Error {
	return func(message string, cause error) *Error {
		return &Error{Type: t, Message: message, Cause: cause}
	}
}

var (
	NewInvalidArgumentError = newErr(ErrInvalidArgument)
	NewUnauthenticatedError = newErr(ErrUnauthenticated)
	NewAccessDeniedError    = newErr(ErrAccessDenied)
	NewNotFoundError        = newErr(ErrNotFound)
	NewAlreadyExistsError   = newErr(ErrAlreadyExists)
	NewQuotaExceededError   = newErr(ErrQuotaExceeded)
	NewUnavailableError     = newErr(ErrUnavailable)
	NewInternalError        = newErr(ErrInternal)
)

func is(t Type) func(error) bool {
	return func(err error) bool {
		var e *Error
		if as, ok := err.(*Error); ok {
			e = as
		} else {
			return false
		}
		return e.Type == t
	}
}

var (
	IsInvalidArgument = is(ErrInvalidArgument)
	IsUnauthenticated = is(ErrUnauthenticated)
	IsAccessDenied    = is(ErrAccessDenied)
	IsNotFound        = is(ErrNotFound)
	IsAlreadyExists   = is(ErrAlreadyExists)
	IsQuotaExceeded   = is(ErrQuotaExceeded)
	IsUnavailable     = is(ErrUnavailable)
	IsInternal        = is(ErrInternal)
)

// TypeOf returns the Type of err if it is (or wraps) an *Error, and false
// otherwise.
func TypeOf(err error) (Type, bool) {
	var e *Error
	if !stderrors.As(err, &e) {
		return "", false
	}
	return e.Type, true
}
