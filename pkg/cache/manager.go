package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/kcsp-cache/pkg/store"
)

var (
	// ErrUnavailable means the caller should retry later: the circuit breaker
	// is engaged, the token is being fetched by another request, or the store
	// failed.
	ErrUnavailable = errors.New("unavailable")

	// ErrGone means the token is blocked until its entry expires.
	ErrGone = errors.New("gone")

	// ErrInvalidEntry indicates a stored value could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Default entry lifetimes.
const (
	DefaultTTL        = 30 * time.Minute
	DefaultPendingTTL = 5 * time.Minute
)

// Gate decides whether cache-aware requests are served at all.
type Gate interface {
	Allow(ctx context.Context) (bool, error)
}

// Config holds the entry lifetimes used by the manager.
type Config struct {
	// TTL applies to cached responses and blocked markers.
	TTL time.Duration

	// PendingTTL applies to pending markers. It must exceed the upstream
	// timeout, or a slow fetch loses its marker while still running.
	PendingTTL time.Duration
}

// DefaultConfig returns the default lifetimes.
func DefaultConfig() Config {
	return Config{
		TTL:        DefaultTTL,
		PendingTTL: DefaultPendingTTL,
	}
}

// Manager runs the token state machine over a store.
type Manager struct {
	store  store.Store
	gate   Gate
	config Config
	logger zerolog.Logger
}

// NewManager creates a manager. gate may be nil, in which case every request
// is allowed.
func NewManager(s store.Store, gate Gate, cfg Config, logger zerolog.Logger) *Manager {
	if s == nil {
		panic("store cannot be nil")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	return &Manager{
		store:  s,
		gate:   gate,
		config: cfg,
		logger: logger,
	}
}

// Lookup reads and decodes the state of token.
func (m *Manager) Lookup(ctx context.Context, token string) (State, error) {
	raw, err := m.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return State{Kind: KindAbsent}, nil
		}
		CacheErrors.WithLabelValues("get").Inc()
		return State{}, fmt.Errorf("lookup %s: %w", token, err)
	}
	return Decode(raw)
}

// Resolve checks the circuit breaker, then the state of token.
//
// A hit returns the cached response. A nil response with a nil error means
// the token was absent and has been marked pending by this call; the caller
// owns the fetch and must finish with Fill or Block.
func (m *Manager) Resolve(ctx context.Context, token string) (*Response, error) {
	if m.gate != nil {
		allowed, err := m.gate.Allow(ctx)
		if err != nil {
			CacheErrors.WithLabelValues("gate").Inc()
			return nil, fmt.Errorf("%w: circuit breaker: %w", ErrUnavailable, err)
		}
		if !allowed {
			CacheLookups.WithLabelValues("locked").Inc()
			return nil, fmt.Errorf("%w: circuit breaker engaged", ErrUnavailable)
		}
	}

	state, err := m.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidEntry) {
			CacheLookups.WithLabelValues("invalid").Inc()
			m.logger.Error().Err(err).Str("token", token).Msg("Failed to decode cache entry")
			return nil, fmt.Errorf("%w: %w", ErrGone, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	CacheLookups.WithLabelValues(state.Kind.String()).Inc()

	switch state.Kind {
	case KindPending:
		return nil, fmt.Errorf("%w: request in flight for %s", ErrUnavailable, token)
	case KindBlocked:
		return nil, fmt.Errorf("%w: %s is blocked", ErrGone, token)
	case KindCached:
		m.logger.Debug().Str("token", token).Msg("Cache hit")
		return state.Response, nil
	}

	claimed, err := m.claim(ctx, token)
	if err != nil {
		CacheErrors.WithLabelValues("claim").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !claimed {
		ClaimConflicts.Inc()
		return nil, fmt.Errorf("%w: request in flight for %s", ErrUnavailable, token)
	}
	CacheWrites.WithLabelValues("pending").Inc()
	m.logger.Debug().Str("token", token).Msg("Cache miss, marked pending")
	return nil, nil
}

// Fill replaces the pending marker of token with resp.
func (m *Manager) Fill(ctx context.Context, token string, resp *Response) error {
	data, err := Cached(resp).Encode()
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, token, data, m.config.TTL); err != nil {
		CacheErrors.WithLabelValues("fill").Inc()
		return fmt.Errorf("fill %s: %w", token, err)
	}
	CacheWrites.WithLabelValues("cached").Inc()
	m.logger.Debug().
		Str("token", token).
		Int("status", resp.StatusCode).
		Dur("ttl", m.config.TTL).
		Msg("Cached response")
	return nil
}

// Block marks token as failed until its entry expires.
func (m *Manager) Block(ctx context.Context, token string) error {
	data, _ := stateBlocked.Encode()
	if err := m.store.Put(ctx, token, data, m.config.TTL); err != nil {
		CacheErrors.WithLabelValues("block").Inc()
		return fmt.Errorf("block %s: %w", token, err)
	}
	CacheWrites.WithLabelValues("blocked").Inc()
	m.logger.Debug().Str("token", token).Dur("ttl", m.config.TTL).Msg("Marked blocked")
	return nil
}

func (m *Manager) claim(ctx context.Context, token string) (bool, error) {
	data, _ := statePending.Encode()
	if c, ok := m.store.(store.Claimer); ok {
		return c.PutIfAbsent(ctx, token, data, m.config.PendingTTL)
	}
	if err := m.store.Put(ctx, token, data, m.config.PendingTTL); err != nil {
		return false, err
	}
	return true, nil
}
