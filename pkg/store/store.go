// Package store defines the expiring key-value contract consumed by the cache
// state machine, and the adapters that implement it (in-memory, LevelDB, Redis).
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the key does not exist or its entry has expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Store is a key-value mapping with per-entry time-to-live.
//
// A ttl of zero stores the entry without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Claimer is implemented by stores that can write a key only when it is absent,
// atomically with respect to other callers of the same store.
type Claimer interface {
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Sweeper is implemented by stores that must remove expired entries themselves.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
