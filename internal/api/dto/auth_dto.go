package dto

import "time"

// OperatorLoginRequest exchanges an operator key for a token.
type OperatorLoginRequest struct {
	OperatorID string `json:"operator_id"`
	Key        string `json:"key"`
}

// TokenResponse carries an issued access token.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}
