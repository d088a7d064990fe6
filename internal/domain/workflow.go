package domain

import (
	"fmt"
	"time"
)

// Stage is the position of a workflow instance in the ticket pipeline.
type Stage string

const (
	StageReceived          Stage = "RECEIVED"
	StageSentimentPending  Stage = "SENTIMENT_PENDING"
	StageSentimentDone     Stage = "SENTIMENT_DONE"
	StageResponsePending   Stage = "RESPONSE_PENDING"
	StageResponseDone      Stage = "RESPONSE_DONE"
	StageEscalationPending Stage = "ESCALATION_PENDING"
	StageMetadataPending   Stage = "METADATA_PENDING"
	StageObjectPending     Stage = "OBJECT_PENDING"
	StageCompleted         Stage = "COMPLETED"
	StageFailed            Stage = "FAILED"
)

// NonTerminalStages lists every stage a crashed instance can be resumed from.
var NonTerminalStages = []Stage{
	StageReceived,
	StageSentimentPending,
	StageSentimentDone,
	StageResponsePending,
	StageResponseDone,
	StageEscalationPending,
	StageMetadataPending,
	StageObjectPending,
}

var allowedTransitions = map[Stage][]Stage{
	StageReceived:          {StageSentimentPending},
	StageSentimentPending:  {StageSentimentDone},
	StageSentimentDone:     {StageResponsePending},
	StageResponsePending:   {StageResponseDone},
	StageResponseDone:      {StageEscalationPending, StageMetadataPending},
	StageEscalationPending: {StageMetadataPending},
	StageMetadataPending:   {StageObjectPending},
	StageObjectPending:     {StageCompleted},
	StageCompleted:         {},
	StageFailed:            {},
}

// IsTerminal reports whether no further stage follows.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Retryable reports whether a Failed instance may be reopened at s.
func (s Stage) Retryable() bool {
	switch s {
	case StageSentimentPending, StageResponsePending, StageMetadataPending, StageObjectPending:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is part of the state table. Every
// non-terminal stage may move to Failed.
func CanTransition(from, to Stage) bool {
	if to == StageFailed {
		return !from.IsTerminal()
	}
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// WorkflowInstance is the persisted orchestration state of one ticket.
type WorkflowInstance struct {
	TicketID       string            `json:"ticket_id"`
	Stage          Stage             `json:"stage"`
	Ticket         Ticket            `json:"ticket"`
	Sentiment      *SentimentResult  `json:"sentiment,omitempty"`
	Response       *ResponseArtifact `json:"response,omitempty"`
	Attempts       map[Stage]int     `json:"attempts"`
	AlertAttempted bool              `json:"alert_attempted"`
	LastError      string            `json:"last_error,omitempty"`
	FailedStage    Stage             `json:"failed_stage,omitempty"`
	// ProcessedAt and ObjectKey are reserved once metadata is written so a
	// retried or reopened object write reuses them. They describe a delivered
	// record only when Stage is Completed.
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	ObjectKey      string     `json:"object_key,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewWorkflowInstance creates the Received instance for ticket.
func NewWorkflowInstance(ticket Ticket, now time.Time) *WorkflowInstance {
	return &WorkflowInstance{
		TicketID:  ticket.TicketID,
		Stage:     StageReceived,
		Ticket:    ticket,
		Attempts:  map[Stage]int{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the instance along the state table.
func (w *WorkflowInstance) Advance(to Stage, now time.Time) error {
	if !CanTransition(w.Stage, to) {
		return fmt.Errorf("workflow %s: invalid transition %s -> %s", w.TicketID, w.Stage, to)
	}
	w.Stage = to
	w.UpdatedAt = now
	return nil
}

// Fail records cause and moves the instance to Failed.
func (w *WorkflowInstance) Fail(cause error, now time.Time) error {
	if w.Stage.IsTerminal() {
		return fmt.Errorf("workflow %s: cannot fail from %s", w.TicketID, w.Stage)
	}
	w.FailedStage = w.Stage
	if cause != nil {
		w.LastError = cause.Error()
	}
	w.Stage = StageFailed
	w.UpdatedAt = now
	return nil
}

// Reopen returns a Failed instance to the stage that failed, with a fresh
// retry budget for that stage. Outputs of earlier stages are kept.
func (w *WorkflowInstance) Reopen(now time.Time) error {
	if w.Stage != StageFailed {
		return fmt.Errorf("workflow %s: only failed instances can be reopened, stage is %s", w.TicketID, w.Stage)
	}
	if !w.FailedStage.Retryable() {
		return fmt.Errorf("workflow %s: failed at %q which cannot be retried", w.TicketID, w.FailedStage)
	}
	if w.Attempts == nil {
		w.Attempts = map[Stage]int{}
	}
	w.Stage = w.FailedStage
	w.Attempts[w.FailedStage] = 0
	w.FailedStage = ""
	w.AcknowledgedAt = nil
	w.UpdatedAt = now
	return nil
}

// Clone returns a deep copy.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	out := *w
	out.Attempts = make(map[Stage]int, len(w.Attempts))
	for k, v := range w.Attempts {
		out.Attempts[k] = v
	}
	if w.Sentiment != nil {
		s := *w.Sentiment
		out.Sentiment = &s
	}
	if w.Response != nil {
		r := *w.Response
		out.Response = &r
	}
	if w.ProcessedAt != nil {
		t := *w.ProcessedAt
		out.ProcessedAt = &t
	}
	if w.AcknowledgedAt != nil {
		t := *w.AcknowledgedAt
		out.AcknowledgedAt = &t
	}
	return &out
}
