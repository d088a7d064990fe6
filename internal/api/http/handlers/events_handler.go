package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/api/dto"
	"github.com/spec-kit/ticket-pipeline/internal/service"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

// EventsHandler accepts ingress events over HTTP.
type EventsHandler struct {
	workflows WorkflowService
	runner    WorkflowSubmitter
	logger    *zap.Logger
}

// NewEventsHandler constructs handler.
func NewEventsHandler(workflows WorkflowService, runner WorkflowSubmitter, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{workflows: workflows, runner: runner, logger: logger}
}

// Submit POST /events. The instance is durably admitted before the 202 is
// sent; processing continues in the background.
func (h *EventsHandler) Submit(c *fiber.Ctx) error {
	ticket, err := service.ParseIngressEvent(c.Body())
	if errors.Is(err, service.ErrIgnoredEvent) {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.AdmissionResponse{Ignored: true}})
	}
	if err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	inst, created, err := h.workflows.Admit(c.UserContext(), ticket)
	if err != nil {
		return err
	}
	if created {
		if err := h.runner.Submit(c.UserContext(), inst.TicketID); err != nil {
			// Admitted but not yet scheduled; the recovery sweep picks it up.
			h.logger.Warn("workflow not scheduled", zap.String("ticket_id", inst.TicketID), zap.Error(err))
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.AdmissionResponse{
		TicketID: inst.TicketID,
		Stage:    inst.Stage,
		Created:  created,
	}})
}
