// Package apperror defines the error kinds surfaced by the service and their
// HTTP representation.
package apperror

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Kind classifies an error
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindCanceled        Kind = "CANCELED"
	KindUpstream        Kind = "UPSTREAM"
	KindUnavailable     Kind = "UNAVAILABLE"
	KindInternal        Kind = "INTERNAL"
)

// StatusClientClosedRequest is the non-standard status logged when the client
// goes away before a response is written.
const StatusClientClosedRequest = 499

// Error is a typed application error. Message is safe to show to clients;
// Err carries the internal cause and is only logged.
type Error struct {
	Kind       Kind
	Message    string
	Operation  string
	RetryAfter time.Duration
	Limit      int
	Err        error
}

// Error returns the error message
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around err
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation returns a validation error
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Unauthenticated returns an unauthenticated error
func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, message)
}

// Forbidden returns an ownership violation error
func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

// NotFound returns a not found error
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// RateLimited returns a rate limit rejection for operation
func RateLimited(operation string, limit int, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    "Rate limit exceeded. Please try again later.",
		Operation:  operation,
		Limit:      limit,
		RetryAfter: retryAfter,
	}
}

// Upstream wraps a failure of an external provider. The message never
// includes provider details.
func Upstream(err error) *Error {
	return Wrap(KindUpstream, "The AI service failed to process the request. Please try again.", err)
}

// As extracts an *Error from err
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err. Context cancellation maps to KindCanceled,
// anything else untyped to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstream
	}
	return KindInternal
}

// Is reports whether err has the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to its HTTP status code
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindCanceled:
		return StatusClientClosedRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that may be written to clients
func PublicMessage(err error) string {
	if appErr, ok := As(err); ok && appErr.Kind != KindInternal {
		return appErr.Message
	}
	switch KindOf(err) {
	case KindCanceled:
		return "Request canceled"
	case KindUpstream:
		return Upstream(nil).Message
	}
	return "Internal server error"
}
