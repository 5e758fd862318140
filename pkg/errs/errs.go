// Package errs defines the Switchboard error-kind taxonomy (spec §7).
//
// These are kinds, not exception types: every error the core returns carries
// one of these kinds so an HTTP adapter (or any other caller) can map it to a
// status code without string-matching messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for caller-side handling.
type Kind string

const (
	Validation          Kind = "validation"
	NotFound             Kind = "not_found"
	NeedsClarification   Kind = "needs_clarification"
	Forbidden            Kind = "forbidden"
	StaleVersion         Kind = "stale_version"
	BindingHashMismatch  Kind = "binding_hash_mismatch"
	RateLimited          Kind = "rate_limited"
	Transient            Kind = "transient"
	Fatal                Kind = "fatal"
)

// Error is the typed error Switchboard components return.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind that also carries an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured details, returning the same *Error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from err, defaulting to Fatal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Fatal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to the status code named in spec §7/§6.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return 400
	case BindingHashMismatch:
		return 400
	case NotFound:
		return 404
	case NeedsClarification:
		return 422
	case Forbidden:
		return 403
	case StaleVersion:
		return 409
	case RateLimited:
		return 429
	case Transient:
		return 503
	case Fatal:
		return 500
	default:
		return 500
	}
}
