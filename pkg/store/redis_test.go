package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis connects to a local Redis and skips when none is running.
// tests/integration covers the adapter against a container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestNewRedis_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedis should panic with nil client")
		}
	}()
	NewRedis(nil, "", zerolog.Nop())
}

func TestRedis_KeyPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	tests := []struct {
		prefix string
		want   string
	}{
		{"", "token"},
		{"kcsp", "kcsp:token"},
	}
	for _, tt := range tests {
		r := NewRedis(client, tt.prefix, zerolog.Nop())
		if got := r.key("token"); got != tt.want {
			t.Errorf("key(%q) with prefix %q = %q, want %q", "token", tt.prefix, got, tt.want)
		}
	}
}

func TestRedis_PutGetDelete(t *testing.T) {
	r := NewRedis(setupTestRedis(t), "test", zerolog.Nop())
	ctx := context.Background()

	if _, err := r.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := r.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := r.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v; want %q", got, err, "v")
	}
	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := r.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
}

func TestRedis_PutIfAbsent(t *testing.T) {
	r := NewRedis(setupTestRedis(t), "test", zerolog.Nop())
	ctx := context.Background()

	ok, err := r.PutIfAbsent(ctx, "k", []byte("1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first PutIfAbsent = %v, %v", ok, err)
	}
	ok, err = r.PutIfAbsent(ctx, "k", []byte("2"), time.Minute)
	if err != nil || ok {
		t.Errorf("second PutIfAbsent = %v, %v; want false, nil", ok, err)
	}
}

func TestRedis_TTL(t *testing.T) {
	client := setupTestRedis(t)
	r := NewRedis(client, "test", zerolog.Nop())
	ctx := context.Background()

	if err := r.Put(ctx, "k", []byte("v"), 100*time.Millisecond); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	time.Sleep(250 * time.Millisecond)

	if _, err := r.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after ttl error = %v, want ErrNotFound", err)
	}
}
