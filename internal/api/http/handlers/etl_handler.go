package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-pipeline/internal/api/dto"
	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/etl"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

// ETLHandler triggers cycles and lists rejected objects.
type ETLHandler struct {
	loader CycleRunner
}

// NewETLHandler constructs handler.
func NewETLHandler(loader CycleRunner) *ETLHandler {
	return &ETLHandler{loader: loader}
}

// RunCycle POST /etl/cycles.
func (h *ETLHandler) RunCycle(c *fiber.Ctx) error {
	var req dto.RunCycleRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	var (
		result etl.CycleResult
		err    error
	)
	if req.SinceModifiedAt != nil {
		result, err = h.loader.RunCycle(c.UserContext(), domain.Checkpoint{
			ModifiedAt: req.SinceModifiedAt.UTC(),
			Key:        req.SinceKey,
		})
	} else {
		result, err = h.loader.RunNext(c.UserContext())
	}
	if errors.Is(err, etl.ErrCycleInProgress) {
		return apperrors.NewConflict(err.Error(), nil)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// Rejections GET /etl/rejections.
func (h *ETLHandler) Rejections(c *fiber.Ctx) error {
	limit, offset, err := parsePage(c)
	if err != nil {
		return err
	}
	items, err := h.loader.Rejections(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []domain.Rejection{}
	}
	return c.JSON(fiber.Map{"data": items, "limit": limit, "offset": offset})
}
