package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/service"
)

// WorkflowDriver resumes a persisted workflow instance.
type WorkflowDriver interface {
	Resume(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error)
}

// Runner drives admitted workflows on a bounded pool of goroutines.
type Runner struct {
	base   context.Context
	driver WorkflowDriver
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewRunner creates a pool of size concurrency. Runs use base, so they
// outlive the request or message that submitted them.
func NewRunner(base context.Context, driver WorkflowDriver, concurrency int, logger *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		base:   base,
		driver: driver,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		logger: logger,
	}
}

// Submit blocks until a slot is free or ctx ends, then drives ticketID in
// the background.
func (r *Runner) Submit(ctx context.Context, ticketID string) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		inst, err := r.driver.Resume(r.base, ticketID)
		switch {
		case err == nil:
			r.logger.Debug("workflow run finished", zap.String("ticket_id", ticketID), zap.String("stage", string(inst.Stage)))
		case errors.Is(err, service.ErrInstanceActive):
			r.logger.Debug("workflow already running", zap.String("ticket_id", ticketID))
		case r.base.Err() != nil:
			r.logger.Info("workflow run interrupted by shutdown", zap.String("ticket_id", ticketID))
		default:
			r.logger.Error("workflow run failed", zap.String("ticket_id", ticketID), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every submitted run has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
