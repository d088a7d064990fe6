package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/observability"
	"github.com/spec-kit/ticket-pipeline/internal/service"
)

// StartNotificationWorker registers notification handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// DrainAlertErrors consumes the escalator's error channel until ctx ends.
// Alert failures never reach the workflow; this is where they surface.
func DrainAlertErrors(ctx context.Context, errs <-chan service.AlertError, logger *zap.Logger, metrics *observability.Metrics) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case alertErr, ok := <-errs:
			if !ok {
				return nil
			}
			metrics.Add("alert_errors_observed", 1)
			logger.Error("escalation alert lost",
				zap.String("ticket_id", alertErr.TicketID),
				zap.Time("at", alertErr.At),
				zap.Error(alertErr.Err))
		}
	}
}
