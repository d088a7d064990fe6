package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func parsePage(c *fiber.Ctx) (limit, offset int, err error) {
	limit = defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		v, convErr := strconv.Atoi(raw)
		if convErr != nil || v <= 0 {
			return 0, 0, apperrors.NewValidationError("limit must be a positive integer", nil)
		}
		limit = min(v, maxPageLimit)
	}
	if raw := c.Query("offset"); raw != "" {
		v, convErr := strconv.Atoi(raw)
		if convErr != nil || v < 0 {
			return 0, 0, apperrors.NewValidationError("offset must be a non-negative integer", nil)
		}
		offset = v
	}
	return limit, offset, nil
}
