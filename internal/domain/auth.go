package domain

import "time"

// OperatorRole scopes what an authenticated operator may do.
type OperatorRole string

const (
	// RoleOperator may inspect, acknowledge and reprocess workflows and trigger ETL cycles.
	RoleOperator OperatorRole = "OPERATOR"
	// RoleViewer may only read workflow state, rejections and metrics.
	RoleViewer OperatorRole = "VIEWER"
)

// Valid reports whether r is a known role.
func (r OperatorRole) Valid() bool {
	return r == RoleOperator || r == RoleViewer
}

// Token describes an issued operator access token.
type Token struct {
	ID         string       `json:"id"`
	OperatorID string       `json:"operator_id"`
	Role       OperatorRole `json:"role"`
	Value      string       `json:"access_token"`
	ExpiresAt  time.Time    `json:"expires_at"`
	IssuedAt   time.Time    `json:"issued_at"`
}
