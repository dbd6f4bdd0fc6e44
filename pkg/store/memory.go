package store

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value   []byte
	expires time.Time
}

// Memory is a process-local Store. It is used in tests and for the
// "memory" backend, where losing the cache on restart is acceptable.
type Memory struct {
	mu     sync.Mutex
	items  map[string]memoryItem
	now    func() time.Time
	closed bool
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces the time source used for expiry decisions.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the value for key, or ErrNotFound if absent or expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	it, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expiredLocked(it) {
		delete(m.items, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

// Put stores value under key.
func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.putLocked(key, value, ttl)
	return nil
}

// PutIfAbsent stores value only when key has no live entry.
func (m *Memory) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}
	if it, ok := m.items[key]; ok && !m.expiredLocked(it) {
		return false, nil
	}
	m.putLocked(key, value, ttl)
	return true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.items, key)
	return nil
}

// Sweep removes every expired entry and reports how many were removed.
func (m *Memory) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for k, it := range m.items {
		if m.expiredLocked(it) {
			delete(m.items, k)
			n++
		}
	}
	SweptEntries.WithLabelValues("memory").Add(float64(n))
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close releases the store. Further operations return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	return nil
}

func (m *Memory) putLocked(key string, value []byte, ttl time.Duration) {
	v := make([]byte, len(value))
	copy(v, value)
	m.items[key] = memoryItem{value: v, expires: expiryFor(m.now(), ttl)}
}

func (m *Memory) expiredLocked(it memoryItem) bool {
	return !it.expires.IsZero() && !m.now().Before(it.expires)
}
