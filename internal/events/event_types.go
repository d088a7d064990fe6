package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventTicketEscalated   EventType = "ticket_escalated"
	EventWorkflowReopened  EventType = "workflow_reopened"
)

// Event represents a workflow event emitted by the orchestrator.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	TicketID  string       `json:"ticket_id"`
	Stage     domain.Stage `json:"stage"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   any          `json:"payload"`
}

// New stamps an event with a fresh id.
func New(eventType EventType, ticketID string, stage domain.Stage, at time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Stage:     stage,
		Timestamp: at,
		Payload:   payload,
	}
}

// WorkflowCompletedPayload payload.
type WorkflowCompletedPayload struct {
	ObjectKey   string          `json:"object_key"`
	Priority    domain.Priority `json:"priority"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	Priority  domain.Priority `json:"priority"`
	Delivered bool            `json:"delivered"`
}
