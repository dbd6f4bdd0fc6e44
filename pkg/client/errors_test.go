package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestIsExpectedNetworkError(t *testing.T) {
	opErr := func(err error) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: &os.SyscallError{Syscall: "connect", Err: err}}
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"reset", opErr(syscall.ECONNRESET), true},
		{"refused", opErr(syscall.ECONNREFUSED), true},
		{"host unreachable", opErr(syscall.EHOSTUNREACH), true},
		{"network unreachable", opErr(syscall.ENETUNREACH), true},
		{"broken pipe", opErr(syscall.EPIPE), true},
		{"dns", &net.DNSError{Err: "no such host", Name: "w00.example", IsNotFound: true}, true},
		{"deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), true},
		{"io deadline", os.ErrDeadlineExceeded, true},
		{"eof", fmt.Errorf("Get: %w", io.EOF), true},
		{"tls", errors.New("tls: handshake failure"), false},
		{"cancelled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpectedNetworkError(tt.err); got != tt.want {
				t.Errorf("IsExpectedNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"status", &StatusError{StatusCode: 503}, ErrorClassStatus},
		{"network", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, ErrorClassNetwork},
		{"unexpected", errors.New("malformed HTTP response"), ErrorClassUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	err := &StatusError{StatusCode: 503}
	if err.Error() != "cache server responded 503" {
		t.Errorf("Error() = %q", err.Error())
	}
}
