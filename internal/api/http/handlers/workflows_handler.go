package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/api/dto"
	"github.com/spec-kit/ticket-pipeline/internal/auth"
	"github.com/spec-kit/ticket-pipeline/internal/domain"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

// WorkflowsHandler exposes workflow state and operator actions.
type WorkflowsHandler struct {
	workflows WorkflowService
	runner    WorkflowSubmitter
	logger    *zap.Logger
}

// NewWorkflowsHandler constructs handler.
func NewWorkflowsHandler(workflows WorkflowService, runner WorkflowSubmitter, logger *zap.Logger) *WorkflowsHandler {
	return &WorkflowsHandler{workflows: workflows, runner: runner, logger: logger}
}

// Get GET /workflows/:id.
func (h *WorkflowsHandler) Get(c *fiber.Ctx) error {
	inst, err := h.workflows.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewWorkflowSummary(inst)})
}

// List GET /workflows?status=FAILED. Only failed instances are listable.
func (h *WorkflowsHandler) List(c *fiber.Ctx) error {
	status := strings.ToUpper(c.Query("status", string(domain.StageFailed)))
	if status != string(domain.StageFailed) {
		return apperrors.NewValidationError("only status=FAILED can be listed", map[string]any{"status": status})
	}
	limit, offset, err := parsePage(c)
	if err != nil {
		return err
	}
	includeAck, err := strconv.ParseBool(c.Query("include_acknowledged", "false"))
	if err != nil {
		return apperrors.NewValidationError("include_acknowledged must be a boolean", nil)
	}

	instances, err := h.workflows.ListFailed(c.UserContext(), includeAck, limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.WorkflowSummary, 0, len(instances))
	for i := range instances {
		items = append(items, dto.NewWorkflowSummary(&instances[i]))
	}
	return c.JSON(fiber.Map{"data": items, "limit": limit, "offset": offset})
}

// Acknowledge POST /workflows/:id/acknowledge.
func (h *WorkflowsHandler) Acknowledge(c *fiber.Ctx) error {
	inst, err := h.workflows.Acknowledge(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	h.audit(c, "acknowledge", inst.TicketID)
	return c.JSON(fiber.Map{"data": dto.NewWorkflowSummary(inst)})
}

// Reprocess POST /workflows/:id/reprocess. The instance is reopened
// synchronously and driven in the background.
func (h *WorkflowsHandler) Reprocess(c *fiber.Ctx) error {
	inst, err := h.workflows.Reopen(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	h.audit(c, "reprocess", inst.TicketID)
	if err := h.runner.Submit(c.UserContext(), inst.TicketID); err != nil {
		h.logger.Warn("reprocess not scheduled", zap.String("ticket_id", inst.TicketID), zap.Error(err))
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.NewWorkflowSummary(inst)})
}

func (h *WorkflowsHandler) audit(c *fiber.Ctx, action, ticketID string) {
	operator := ""
	if principal, ok := auth.PrincipalFromContext(c); ok {
		operator = principal.OperatorID
	}
	h.logger.Info("operator action",
		zap.String("action", action),
		zap.String("ticket_id", ticketID),
		zap.String("operator_id", operator))
}
