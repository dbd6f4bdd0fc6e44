package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemory_PutGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := m.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want %q", got, "v")
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
}

func TestMemory_Expiry(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	_ = m.Put(ctx, "short", []byte("1"), time.Minute)
	_ = m.Put(ctx, "forever", []byte("2"), 0)

	clock.Advance(59 * time.Second)
	if _, err := m.Get(ctx, "short"); err != nil {
		t.Fatalf("entry expired early: %v", err)
	}

	clock.Advance(time.Second)
	if _, err := m.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after ttl error = %v, want ErrNotFound", err)
	}
	if _, err := m.Get(ctx, "forever"); err != nil {
		t.Errorf("entry without ttl expired: %v", err)
	}
}

func TestMemory_Sweep(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	_ = m.Put(ctx, "a", []byte("1"), time.Minute)
	_ = m.Put(ctx, "b", []byte("2"), time.Hour)
	_ = m.Put(ctx, "c", []byte("3"), 0)

	clock.Advance(2 * time.Minute)
	n, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestMemory_PutIfAbsent(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	ok, err := m.PutIfAbsent(ctx, "k", []byte("first"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first PutIfAbsent = %v, %v; want true, nil", ok, err)
	}
	ok, _ = m.PutIfAbsent(ctx, "k", []byte("second"), time.Minute)
	if ok {
		t.Error("second PutIfAbsent succeeded on live key")
	}

	clock.Advance(time.Minute)
	ok, _ = m.PutIfAbsent(ctx, "k", []byte("third"), time.Minute)
	if !ok {
		t.Error("PutIfAbsent failed on expired key")
	}
	got, _ := m.Get(ctx, "k")
	if string(got) != "third" {
		t.Errorf("Get = %q, want %q", got, "third")
	}
}

func TestMemory_PutIfAbsent_Concurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.PutIfAbsent(ctx, "token", []byte("x"), time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("PutIfAbsent winners = %d, want 1", wins.Load())
	}
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	_ = m.Close()

	if _, err := m.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get on closed store error = %v, want ErrClosed", err)
	}
	if err := m.Put(context.Background(), "k", nil, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Put on closed store error = %v, want ErrClosed", err)
	}
}

func TestMemory_ValueIsCopied(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	v := []byte("abc")
	_ = m.Put(ctx, "k", v, 0)
	v[0] = 'x'

	got, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value mutated through caller slice: %q", got)
	}
}
