package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/observability"
	"github.com/spec-kit/ticket-pipeline/internal/service"
)

const recoveryBatchSize = 10000

// ResumableLister lists instances that stopped before a terminal stage.
type ResumableLister interface {
	ListResumable(ctx context.Context, limit int) ([]domain.WorkflowInstance, error)
}

// StalledLister lists non-terminal instances left idle for longer than idleFor.
type StalledLister interface {
	ListStalled(ctx context.Context, idleFor time.Duration, limit int) ([]domain.WorkflowInstance, error)
}

// RecoverInFlight resumes every non-terminal instance with at most
// concurrency runs at a time. Individual failures are logged; it returns the
// number of instances it attempted.
func RecoverInFlight(ctx context.Context, lister ResumableLister, driver WorkflowDriver, concurrency int, logger *zap.Logger) (int, error) {
	pending, err := lister.ListResumable(ctx, recoveryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list resumable workflows: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	logger.Info("recovering in-flight workflows", zap.Int("count", len(pending)))
	return len(pending), resumeAll(ctx, pending, driver, concurrency, logger)
}

func resumeAll(ctx context.Context, pending []domain.WorkflowInstance, driver WorkflowDriver, concurrency int, logger *zap.Logger) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, inst := range pending {
		ticketID := inst.TicketID
		g.Go(func() error {
			_, err := driver.Resume(gctx, ticketID)
			if err != nil && !errors.Is(err, service.ErrInstanceActive) && gctx.Err() == nil {
				logger.Error("workflow recovery failed", zap.String("ticket_id", ticketID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// RecoverySweeper periodically resumes instances whose run aborted mid-flight
// without reaching a terminal stage.
type RecoverySweeper struct {
	lister      StalledLister
	driver      WorkflowDriver
	interval    time.Duration
	idleFor     time.Duration
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewRecoverySweeper builds a sweeper that runs every interval and picks up
// instances idle for longer than idleFor.
func NewRecoverySweeper(lister StalledLister, driver WorkflowDriver, interval, idleFor time.Duration, concurrency int, logger *zap.Logger, metrics *observability.Metrics) *RecoverySweeper {
	return &RecoverySweeper{
		lister:      lister,
		driver:      driver,
		interval:    interval,
		idleFor:     idleFor,
		concurrency: concurrency,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run blocks until ctx is cancelled.
func (s *RecoverySweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("recovery: interval must be positive")
	}
	s.logger.Info("recovery sweeper started", zap.Duration("interval", s.interval), zap.Duration("idle_for", s.idleFor))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("recovery sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RecoverySweeper) sweep(ctx context.Context) {
	stalled, err := s.lister.ListStalled(ctx, s.idleFor, recoveryBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("list stalled workflows", zap.Error(err))
		}
		return
	}
	if len(stalled) == 0 {
		return
	}
	s.metrics.Add("workflows_stalled_resumed", int64(len(stalled)))
	s.logger.Warn("resuming stalled workflows", zap.Int("count", len(stalled)))
	if err := resumeAll(ctx, stalled, s.driver, s.concurrency, s.logger); err != nil && ctx.Err() == nil {
		s.logger.Error("recovery sweep failed", zap.Error(err))
	}
}
