package domain

import "time"

// WarehouseRow is one row of the analytic ticket table. Nil pointers are NULL.
type WarehouseRow struct {
	TicketID               string
	SubmittedAt            time.Time
	CustomerFirstName      *string
	CustomerLastName       *string
	CustomerFullName       *string
	CustomerEmail          *string
	Product                *string
	IssueType              *string
	Subject                *string
	Description            *string
	ResponseText           *string
	Sentiment              *string
	SentimentScoreMixed    *float64
	SentimentScoreNegative *float64
	SentimentScoreNeutral  *float64
	SentimentScorePositive *float64
	Priority               *string
	PriorityReasoning      *string
	ProcessedAt            *time.Time
}

// Checkpoint is the ETL cursor: the newest object (by last-modified time,
// then key) already reconciled into the warehouse.
type Checkpoint struct {
	ModifiedAt time.Time `json:"modified_at"`
	Key        string    `json:"key"`
}

// IsZero reports whether no object has been reconciled yet.
func (c Checkpoint) IsZero() bool {
	return c.ModifiedAt.IsZero() && c.Key == ""
}

// Before reports whether an object (modifiedAt, key) sorts after the cursor.
func (c Checkpoint) Before(modifiedAt time.Time, key string) bool {
	if modifiedAt.After(c.ModifiedAt) {
		return true
	}
	return modifiedAt.Equal(c.ModifiedAt) && key > c.Key
}

// Rejection records an object that failed validation in an ETL cycle.
type Rejection struct {
	ObjectKey  string    `json:"object_key"`
	TicketID   string    `json:"ticket_id,omitempty"`
	Reason     string    `json:"reason"`
	CycleID    string    `json:"cycle_id"`
	RejectedAt time.Time `json:"rejected_at"`
}
