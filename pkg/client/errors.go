package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all attempts are used up.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the inbound request goes away
	// between attempts.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass classifies a failed attempt for logging and metrics.
type ErrorClass string

const (
	// ErrorClassNetwork is a recognized, expected network failure such as
	// a reset, a refused connection or a timeout. Logged without detail.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassUnexpected is any other transport failure.
	ErrorClassUnexpected ErrorClass = "unexpected"

	// ErrorClassStatus is a 503 answer from the cache server.
	ErrorClassStatus ErrorClass = "status_503"
)

// StatusError is a retryable status from the cache server.
type StatusError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("cache server responded %d", e.StatusCode)
}

// classifyError categorizes a failed attempt.
func classifyError(err error) ErrorClass {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return ErrorClassStatus
	case IsExpectedNetworkError(err):
		return ErrorClassNetwork
	default:
		return ErrorClassUnexpected
	}
}

// IsExpectedNetworkError reports whether err is one of the network failures
// a flaky link produces routinely: connection reset or refused, DNS
// failure, timeouts, unreachable hosts and broken pipes.
func IsExpectedNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	return false
}
