package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/auth"
	"github.com/spec-kit/ticket-pipeline/internal/config"
	"github.com/spec-kit/ticket-pipeline/internal/domain"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

const maxOperatorIDLength = 128

// AuthService exchanges operator keys for bearer tokens.
type AuthService struct {
	operatorKeyHash string
	viewerKeyHash   string
	tokenMgr        *auth.TokenManager
	logger          *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		operatorKeyHash: cfg.OperatorKeyHash,
		viewerKeyHash:   cfg.ViewerKeyHash,
		tokenMgr:        auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		logger:          logger,
	}
}

// TokenManager exposes the token manager for middleware wiring.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// Login checks key against the configured operator and viewer hashes and
// issues a token carrying the matching role.
func (s *AuthService) Login(ctx context.Context, operatorID, key string) (domain.Token, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" || key == "" {
		return domain.Token{}, apperrors.NewValidationError("operator_id and key required", nil)
	}
	if len(operatorID) > maxOperatorIDLength {
		return domain.Token{}, apperrors.NewValidationError("operator_id too long", map[string]any{"max_bytes": maxOperatorIDLength})
	}
	if s.operatorKeyHash == "" && s.viewerKeyHash == "" {
		return domain.Token{}, apperrors.NewForbidden("operator login is disabled")
	}

	role, ok := s.match(key)
	if !ok {
		s.logger.Warn("operator login rejected", zap.String("operator_id", operatorID))
		return domain.Token{}, apperrors.NewUnauthorized("invalid credentials")
	}

	token, err := s.tokenMgr.GenerateToken(operatorID, role)
	if err != nil {
		return domain.Token{}, apperrors.NewInternalError(err)
	}
	s.logger.Info("operator logged in",
		zap.String("operator_id", operatorID),
		zap.String("role", string(role)),
		zap.String("token_id", token.ID))
	return token, nil
}

func (s *AuthService) match(key string) (domain.OperatorRole, bool) {
	if s.operatorKeyHash != "" && auth.CompareKey(s.operatorKeyHash, key) == nil {
		return domain.RoleOperator, true
	}
	if s.viewerKeyHash != "" && auth.CompareKey(s.viewerKeyHash, key) == nil {
		return domain.RoleViewer, true
	}
	return "", false
}
