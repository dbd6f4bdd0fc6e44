// Package breaker implements the process-wide circuit breaker. An operator
// engages it by writing a truthy value under the "lock" key; while engaged,
// every cache-aware request is rejected as unavailable.
package breaker

import (
	"strings"
	"time"
)

// LockKey is the store key holding the breaker flag.
const LockKey = "lock"

// State is the breaker flag as last read from the store.
type State struct {
	// Engaged is true when the stored value is truthy.
	Engaged bool `json:"engaged"`

	// Value is the raw stored value; empty when the key is absent.
	Value string `json:"value,omitempty"`

	// CheckedAt is when the value was read.
	CheckedAt time.Time `json:"checked_at"`
}

// Truthy reports whether a stored lock value engages the breaker.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
