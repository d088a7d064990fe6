package handlers

import (
	"context"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/etl"
)

// WorkflowService is the orchestrator surface the handlers use.
type WorkflowService interface {
	Admit(ctx context.Context, ticket domain.Ticket) (*domain.WorkflowInstance, bool, error)
	Get(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error)
	ListFailed(ctx context.Context, includeAcknowledged bool, limit, offset int) ([]domain.WorkflowInstance, error)
	Acknowledge(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error)
	Reopen(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error)
}

// WorkflowSubmitter drives admitted instances in the background.
type WorkflowSubmitter interface {
	Submit(ctx context.Context, ticketID string) error
}

// CycleRunner runs ETL cycles on demand.
type CycleRunner interface {
	RunNext(ctx context.Context) (etl.CycleResult, error)
	RunCycle(ctx context.Context, since domain.Checkpoint) (etl.CycleResult, error)
	Rejections(ctx context.Context, limit, offset int) ([]domain.Rejection, error)
}

// Authenticator exchanges operator keys for tokens.
type Authenticator interface {
	Login(ctx context.Context, operatorID, key string) (domain.Token, error)
}
