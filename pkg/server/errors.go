package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/kcsp-cache/pkg/cache"
)

// ErrForbidden is returned for malformed or disallowed requests.
var ErrForbidden = errors.New("forbidden")

// Kind is the error class a request failure is rendered as.
type Kind string

const (
	// KindForbidden covers missing headers, disallowed hosts or paths and
	// oversized bodies. Never retried by status.
	KindForbidden Kind = "forbidden"

	// KindUnavailable means retry later. Never persisted.
	KindUnavailable Kind = "unavailable"

	// KindGone means the token is blocked until its entry expires.
	KindGone Kind = "gone"

	// KindInternal is everything unclassified.
	KindInternal Kind = "internal"
)

// StatusCode maps the kind to its HTTP status.
func (k Kind) StatusCode() int {
	switch k {
	case KindForbidden:
		return http.StatusForbidden
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindGone:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Error is a request failure with its class attached.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

func forbidden(format string, args ...any) error {
	return &Error{
		Kind:    KindForbidden,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrForbidden,
	}
}

// Classify maps any error to exactly one kind. nil is not an error and
// classifies as internal; callers check for nil first.
func Classify(err error) Kind {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e.Kind
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, cache.ErrGone):
		return KindGone
	case errors.Is(err, cache.ErrUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}
