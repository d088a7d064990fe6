package etl

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type cycleRunner interface {
	RunNext(ctx context.Context) (CycleResult, error)
}

// Scheduler runs a cycle at start-up and then on every interval tick.
type Scheduler struct {
	runner   cycleRunner
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler builds a scheduler for runner.
func NewScheduler(runner cycleRunner, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled. Cycle errors are logged; a held lease
// means another cycle is active and the tick is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("etl: interval must be positive")
	}
	s.logger.Info("etl scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("etl scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.runner.RunNext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleInProgress):
		s.logger.Info("etl cycle skipped, previous cycle still active")
	case ctx.Err() != nil:
	default:
		s.logger.Error("etl cycle failed", zap.Error(err))
	}
}
