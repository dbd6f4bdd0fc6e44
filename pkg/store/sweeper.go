package store

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs Sweep on a fixed interval in the background.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	timeout time.Duration
	logger  zerolog.Logger
}

// NewScheduler schedules sweeper every interval. Call Start to begin and
// Stop to end; Stop waits for a running sweep to finish.
func NewScheduler(sweeper Sweeper, interval time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive (got %s)", interval)
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		sweeper: sweeper,
		timeout: interval,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.RunOnce); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return s, nil
}

// Start starts the schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for an in-flight sweep.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce performs a single sweep and logs its outcome.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("removed", n).Msg("store sweep failed")
		return
	}
	s.logger.Info().
		Int("removed", n).
		Dur("duration", time.Since(start)).
		Msg("store sweep finished")
}
