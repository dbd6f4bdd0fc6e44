package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	clientRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kcsp_client_retries_total",
		Help: "Total number of retried attempts by error class",
	}, []string{"error_class"})

	clientRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kcsp_client_retry_exhausted_total",
		Help: "Total number of requests that used up every attempt",
	})
)

// RetryConfig holds the configuration for the retry loop.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// Delay is the fixed pause between attempts.
	Delay time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 100,
		Delay:       2 * time.Second,
	}
}

// retryFixed calls fn until it succeeds, MaxAttempts is reached or ctx is
// done. Attempts are strictly sequential, with cfg.Delay between them.
// It returns the number of attempts made.
func retryFixed(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn func(attempt int) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return attempt - 1, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return attempt, nil
		}
		lastErr = err

		class := classifyError(err)
		if class == ErrorClassUnexpected {
			logger.Error().Err(err).Int("attempt", attempt).Msg("Attempt failed")
		} else {
			logger.Warn().Str("error", err.Error()).Int("attempt", attempt).Msg("Attempt failed")
		}

		if attempt >= cfg.MaxAttempts {
			break
		}
		clientRetriesTotal.WithLabelValues(string(class)).Inc()

		select {
		case <-ctx.Done():
			logger.Warn().Int("attempt", attempt).Msg("Context cancelled during retry delay")
			return attempt, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(cfg.Delay):
		}
	}

	clientRetryExhaustedTotal.Inc()
	logger.Warn().Int("max_attempts", cfg.MaxAttempts).Msg("Retry attempts exhausted")
	return cfg.MaxAttempts, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}
