package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/kcsp-cache/pkg/store"
)

var (
	breakerEngaged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kcsp_breaker_engaged",
		Help: "1 when the circuit breaker was engaged at the last check",
	})

	breakerRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kcsp_breaker_rejections_total",
		Help: "Total number of requests rejected by the circuit breaker",
	})
)

// Tracker reads and writes the breaker flag in the store. Reads are not
// cached, so a change made by any writer is seen on the next request.
type Tracker struct {
	store  store.Store
	logger zerolog.Logger
}

// NewTracker creates a breaker over s.
func NewTracker(s store.Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  s,
		logger: logger,
	}
}

// GetState reads the flag. An absent key is a released breaker.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	raw, err := t.store.Get(ctx, LockKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get lock: %w", err)
	}

	state := &State{
		Value:     string(raw),
		CheckedAt: time.Now(),
	}
	state.Engaged = Truthy(state.Value)
	if state.Engaged {
		breakerEngaged.Set(1)
	} else {
		breakerEngaged.Set(0)
	}
	return state, nil
}

// Allow reports whether cache-aware requests may proceed.
func (t *Tracker) Allow(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("Circuit breaker check failed")
		return false, err
	}
	if state.Engaged {
		breakerRejectionsTotal.Inc()
		t.logger.Debug().Str("value", state.Value).Msg("Circuit breaker engaged - rejecting request")
		return false, nil
	}
	return true, nil
}

// Engage sets the flag without expiry.
func (t *Tracker) Engage(ctx context.Context) error {
	if err := t.store.Put(ctx, LockKey, []byte("true"), 0); err != nil {
		return fmt.Errorf("engage circuit breaker: %w", err)
	}
	breakerEngaged.Set(1)
	t.logger.Warn().Msg("Circuit breaker ENGAGED - cache-aware requests will be rejected")
	return nil
}

// Release clears the flag.
func (t *Tracker) Release(ctx context.Context) error {
	if err := t.store.Delete(ctx, LockKey); err != nil {
		return fmt.Errorf("release circuit breaker: %w", err)
	}
	breakerEngaged.Set(0)
	t.logger.Info().Msg("Circuit breaker released")
	return nil
}
