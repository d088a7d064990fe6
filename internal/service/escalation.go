package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/observability"
)

const alertSummaryLimit = 280

// AlertPublisher delivers escalation alerts.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert domain.Alert) error
}

// AlertError reports a failed alert publish. It never fails the workflow.
type AlertError struct {
	TicketID string
	Err      error
	At       time.Time
}

func (e AlertError) Error() string {
	return fmt.Sprintf("alert for ticket %s: %v", e.TicketID, e.Err)
}

func (e AlertError) Unwrap() error {
	return e.Err
}

// ShouldEscalate reports whether a response requires an alert.
func ShouldEscalate(r domain.ResponseArtifact) bool {
	return r.Priority == domain.PriorityHigh
}

// Escalator makes one bounded alert attempt per call. Failures go to its own
// error channel, separate from the stage retry path.
type Escalator struct {
	publisher AlertPublisher
	timeout   time.Duration
	errs      chan AlertError
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewEscalator builds an escalator. buffer sizes the error channel; errors
// are dropped and counted when nobody drains it.
func NewEscalator(publisher AlertPublisher, timeout time.Duration, buffer int, logger *zap.Logger, metrics *observability.Metrics) *Escalator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Escalator{
		publisher: publisher,
		timeout:   timeout,
		errs:      make(chan AlertError, buffer),
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Errors exposes alert failures.
func (e *Escalator) Errors() <-chan AlertError {
	return e.errs
}

// Escalate publishes one alert for the ticket and reports whether it was
// delivered. It returns once the attempt finishes or its timeout fires.
func (e *Escalator) Escalate(ctx context.Context, ticket domain.Ticket, sentiment *domain.SentimentResult, response domain.ResponseArtifact) bool {
	alert := domain.Alert{
		TicketID: ticket.TicketID,
		Priority: response.Priority,
		Summary:  alertSummary(ticket, response),
		RaisedAt: e.now(),
	}
	if sentiment != nil {
		alert.Sentiment = sentiment.Sentiment
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	e.metrics.Add("alerts_attempted", 1)
	err := e.publisher.PublishAlert(callCtx, alert)
	if err == nil {
		e.metrics.Add("alerts_delivered", 1)
		return true
	}

	e.metrics.Add("alerts_failed", 1)
	e.logger.Warn("alert publish failed",
		zap.String("ticket_id", ticket.TicketID),
		zap.Error(err))
	select {
	case e.errs <- AlertError{TicketID: ticket.TicketID, Err: err, At: alert.RaisedAt}:
	default:
		e.metrics.Add("alert_errors_dropped", 1)
	}
	return false
}

func alertSummary(ticket domain.Ticket, response domain.ResponseArtifact) string {
	summary := fmt.Sprintf("[%s] %s / %s: %s", response.Priority, ticket.Product, ticket.IssueType, ticket.Subject)
	if response.PriorityReasoning != "" {
		summary += " - " + response.PriorityReasoning
	}
	if len(summary) <= alertSummaryLimit {
		return summary
	}
	cut := alertSummaryLimit - 3
	for cut > 0 && !utf8.RuneStart(summary[cut]) {
		cut--
	}
	return summary[:cut] + "..."
}
