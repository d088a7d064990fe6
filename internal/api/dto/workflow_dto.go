package dto

import (
	"time"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
)

// WorkflowSummary is the operator view of a workflow instance.
type WorkflowSummary struct {
	TicketID       string                   `json:"ticket_id"`
	Stage          domain.Stage             `json:"stage"`
	FailedStage    domain.Stage             `json:"failed_stage,omitempty"`
	LastError      string                   `json:"last_error,omitempty"`
	Attempts       map[domain.Stage]int     `json:"attempts"`
	AlertAttempted bool                     `json:"alert_attempted"`
	Sentiment      *domain.SentimentResult  `json:"sentiment,omitempty"`
	Response       *domain.ResponseArtifact `json:"response,omitempty"`
	ObjectKey      string                   `json:"object_key,omitempty"`
	ProcessedAt    *time.Time               `json:"processed_at,omitempty"`
	AcknowledgedAt *time.Time               `json:"acknowledged_at,omitempty"`
	SubmittedAt    time.Time                `json:"submitted_at"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// NewWorkflowSummary maps an instance to its response shape. The processed
// stamp and object key are only reported once the record was delivered.
func NewWorkflowSummary(inst *domain.WorkflowInstance) WorkflowSummary {
	summary := WorkflowSummary{
		TicketID:       inst.TicketID,
		Stage:          inst.Stage,
		FailedStage:    inst.FailedStage,
		LastError:      inst.LastError,
		Attempts:       inst.Attempts,
		AlertAttempted: inst.AlertAttempted,
		Sentiment:      inst.Sentiment,
		Response:       inst.Response,
		AcknowledgedAt: inst.AcknowledgedAt,
		SubmittedAt:    inst.Ticket.SubmittedAt,
		CreatedAt:      inst.CreatedAt,
		UpdatedAt:      inst.UpdatedAt,
	}
	if inst.Stage == domain.StageCompleted {
		summary.ObjectKey = inst.ObjectKey
		summary.ProcessedAt = inst.ProcessedAt
	}
	return summary
}

// AdmissionResponse is returned by the ingress endpoint.
type AdmissionResponse struct {
	TicketID string       `json:"ticket_id"`
	Stage    domain.Stage `json:"stage"`
	Created  bool         `json:"created"`
	Ignored  bool         `json:"ignored,omitempty"`
}
