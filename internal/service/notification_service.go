package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/events"
	"github.com/spec-kit/ticket-pipeline/internal/observability"
)

// FailurePublisher delivers the operator-visible failure signal.
type FailurePublisher interface {
	PublishFailure(ctx context.Context, notice domain.FailureNotice) error
}

// NotificationService reacts to workflow events.
type NotificationService struct {
	dispatcher events.Dispatcher
	failures   FailurePublisher
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewNotificationService creates the service. failures may be nil, in which
// case failed workflows are only logged.
func NewNotificationService(dispatcher events.Dispatcher, failures FailurePublisher, timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		failures:   failures,
		timeout:    timeout,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventWorkflowFailed, n.handleWorkflowFailed)
	n.dispatcher.Subscribe(events.EventWorkflowCompleted, n.handleWorkflowCompleted)
	n.dispatcher.Subscribe(events.EventTicketEscalated, n.handleTicketEscalated)
	n.dispatcher.Subscribe(events.EventWorkflowReopened, n.handleWorkflowReopened)
}

func (n *NotificationService) handleWorkflowFailed(ctx context.Context, event events.Event) error {
	notice, ok := event.Payload.(domain.FailureNotice)
	if !ok {
		return fmt.Errorf("workflow_failed: unexpected payload %T", event.Payload)
	}
	n.logger.Error("WorkflowFailed",
		zap.String("ticket_id", event.TicketID),
		zap.String("stage", string(notice.FailedStage)),
		zap.String("last_error", notice.LastError))
	if n.failures == nil {
		return nil
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	if err := n.failures.PublishFailure(ctx, notice); err != nil {
		n.metrics.Add("failure_notices_failed", 1)
		return err
	}
	n.metrics.Add("failure_notices_published", 1)
	return nil
}

func (n *NotificationService) handleWorkflowCompleted(_ context.Context, event events.Event) error {
	n.logger.Debug("WorkflowCompleted", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleTicketEscalated(_ context.Context, event events.Event) error {
	n.logger.Info("TicketEscalated", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleWorkflowReopened(_ context.Context, event events.Event) error {
	n.logger.Info("WorkflowReopened", zap.String("ticket_id", event.TicketID), zap.String("stage", string(event.Stage)))
	return nil
}
