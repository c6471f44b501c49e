// Package apperr defines the error taxonomy surfaced by the core services.
//
// External-port failures are caught at the component boundary and reclassified
// into one of these kinds; no raw upstream error reaches a client.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindPrecondition      Kind = "precondition"
	KindGone              Kind = "gone"
	KindUnprocessable     Kind = "unprocessable"
	KindRateLimited       Kind = "rate_limited"
	KindUnavailable       Kind = "unavailable"
	KindInternal          Kind = "internal"
)

// Error is the single error type crossing component boundaries.
type Error struct {
	Kind       Kind
	Message    string
	Details    map[string]interface{}
	RetryAfter time.Duration // only meaningful for KindRateLimited
	Err        error         // wrapped cause, never serialized to clients
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches structured details for the error envelope.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return newf(KindUnauthorized, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

// InvalidTransition reports an illegal state-graph move with both states.
func InvalidTransition(entity, from, to string) *Error {
	e := newf(KindInvalidTransition, "cannot transition %s from %q to %q", entity, from, to)
	e.Details = map[string]interface{}{"current_status": from, "requested_status": to}
	return e
}

func Precondition(format string, args ...interface{}) *Error {
	return newf(KindPrecondition, format, args...)
}

func Gone(format string, args ...interface{}) *Error {
	return newf(KindGone, format, args...)
}

// Unprocessable reports a request that is well-formed but cannot be acted on,
// e.g. an evaluation target with no analyzable repositories.
func Unprocessable(format string, args ...interface{}) *Error {
	return newf(KindUnprocessable, format, args...)
}

func RateLimited(retryAfter time.Duration, format string, args ...interface{}) *Error {
	e := newf(KindRateLimited, format, args...)
	e.RetryAfter = retryAfter
	return e
}

func Unavailable(format string, args ...interface{}) *Error {
	return newf(KindUnavailable, format, args...)
}

func Internal(err error, format string, args ...interface{}) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf extracts the kind from any error, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the typed error if err is (or wraps) an *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidTransition, KindPrecondition:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindGone:
		return http.StatusGone
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
