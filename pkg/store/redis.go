package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is a Store backed by a Redis server. Expiry is delegated to Redis,
// so no sweep is required.
type Redis struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis wraps an existing client. Keys are namespaced with prefix.
func NewRedis(client *redis.Client, prefix string, logger zerolog.Logger) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Get retrieves the value for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, r.fail("get", err)
	}
	return data, nil
}

// Put stores value under key with the given ttl.
func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttlArg(ttl)).Err(); err != nil {
		return r.fail("put", err)
	}
	return nil
}

// PutIfAbsent is SET NX with the given ttl.
func (r *Redis) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), value, ttlArg(ttl)).Result()
	if err != nil {
		return false, r.fail("claim", err)
	}
	return ok, nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return r.fail("delete", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) fail(op string, err error) error {
	StoreErrors.WithLabelValues("redis", op).Inc()
	r.logger.Error().Err(err).Str("operation", op).Msg("redis error")
	return fmt.Errorf("redis %s: %w", op, err)
}

// redis treats 0 as "no expiry"; negative durations would mean KEEPTTL.
func ttlArg(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
