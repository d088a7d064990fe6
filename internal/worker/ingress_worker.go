package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/observability"
	"github.com/spec-kit/ticket-pipeline/internal/service"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

// MessageReader is the consumer-group side of the ingress stream.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Admitter durably records a ticket before its offset is committed.
type Admitter interface {
	Admit(ctx context.Context, ticket domain.Ticket) (*domain.WorkflowInstance, bool, error)
}

// Submitter hands an admitted ticket to the runner pool.
type Submitter interface {
	Submit(ctx context.Context, ticketID string) error
}

// IngressWorker consumes ticket-submitted events. Offsets are committed only
// after admission, so a crash redelivers instead of losing tickets.
type IngressWorker struct {
	reader   MessageReader
	admitter Admitter
	runner   Submitter
	logger   *zap.Logger
	metrics  *observability.Metrics
	backoff  func() backoff.BackOff
}

// NewIngressWorker wires the consumer loop.
func NewIngressWorker(reader MessageReader, admitter Admitter, runner Submitter, logger *zap.Logger, metrics *observability.Metrics) *IngressWorker {
	return &IngressWorker{
		reader:   reader,
		admitter: admitter,
		runner:   runner,
		logger:   logger,
		metrics:  metrics,
		backoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 0
			return bo
		},
	}
}

// Run consumes until ctx ends.
func (w *IngressWorker) Run(ctx context.Context) error {
	w.logger.Info("ingress consumer started")
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch ingress message: %w", err)
		}
		if err := w.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (w *IngressWorker) handle(ctx context.Context, msg kafka.Message) error {
	ticket, err := service.ParseIngressEvent(msg.Value)
	switch {
	case errors.Is(err, service.ErrIgnoredEvent):
		w.metrics.Add("ingress_ignored", 1)
		return w.commit(ctx, msg)
	case err != nil:
		w.metrics.Add("ingress_malformed", 1)
		w.logger.Warn("dropping malformed ingress event",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return w.commit(ctx, msg)
	}

	var (
		inst    *domain.WorkflowInstance
		created bool
	)
	admit := func() error {
		var err error
		inst, created, err = w.admitter.Admit(ctx, ticket)
		if err != nil && isRejected(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		w.logger.Warn("admission failed, retrying", zap.String("ticket_id", ticket.TicketID), zap.Duration("backoff", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(admit, backoff.WithContext(w.backoff(), ctx), notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.metrics.Add("ingress_rejected", 1)
		w.logger.Warn("ticket rejected at admission", zap.String("ticket_id", ticket.TicketID), zap.Error(err))
		return w.commit(ctx, msg)
	}
	if err := w.commit(ctx, msg); err != nil {
		return err
	}

	if !created {
		w.metrics.Add("ingress_duplicates", 1)
		w.logger.Info("duplicate ticket ignored", zap.String("ticket_id", ticket.TicketID), zap.String("stage", string(inst.Stage)))
		return nil
	}
	w.metrics.Add("ingress_admitted", 1)
	return w.runner.Submit(ctx, ticket.TicketID)
}

func (w *IngressWorker) commit(ctx context.Context, msg kafka.Message) error {
	if err := w.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

// isRejected reports admission errors that retrying cannot fix.
func isRejected(err error) bool {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.HTTPStatus < 500
	}
	return apperrors.IsPermanent(err)
}
