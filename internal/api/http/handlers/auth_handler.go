package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-pipeline/internal/api/dto"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

// AuthHandler issues operator tokens.
type AuthHandler struct {
	auth Authenticator
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authenticator Authenticator) *AuthHandler {
	return &AuthHandler{auth: authenticator}
}

// Login POST /auth/operator/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.OperatorLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	token, err := h.auth.Login(c.UserContext(), req.OperatorID, req.Key)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TokenResponse{
		AccessToken: token.Value,
		TokenType:   "Bearer",
		Role:        string(token.Role),
		ExpiresAt:   token.ExpiresAt,
	}})
}
