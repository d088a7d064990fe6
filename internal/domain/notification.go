package domain

import "time"

// Alert is the best-effort escalation message for a HIGH priority ticket.
type Alert struct {
	TicketID  string    `json:"ticket_id"`
	Priority  Priority  `json:"priority"`
	Sentiment Sentiment `json:"sentiment,omitempty"`
	Summary   string    `json:"summary"`
	RaisedAt  time.Time `json:"raised_at"`
}

// FailureNotice is the operator-visible signal for a Failed workflow.
type FailureNotice struct {
	TicketID    string    `json:"ticket_id"`
	FailedStage Stage     `json:"failed_stage"`
	LastError   string    `json:"last_error"`
	Attempts    int       `json:"attempts"`
	FailedAt    time.Time `json:"failed_at"`
}
