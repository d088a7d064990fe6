package domain

import (
	"fmt"
	"time"
)

// ProcessedTicket is the flat record persisted to the object store and later
// loaded into the warehouse. Field names match the warehouse columns.
type ProcessedTicket struct {
	TicketID               string  `json:"ticket_id"`
	SubmittedAt            string  `json:"submitted_at"`
	CustomerFirstName      string  `json:"customer_first_name"`
	CustomerLastName       string  `json:"customer_last_name"`
	CustomerFullName       string  `json:"customer_full_name"`
	CustomerEmail          string  `json:"customer_email"`
	Product                string  `json:"product"`
	IssueType              string  `json:"issue_type"`
	Subject                string  `json:"subject"`
	Description            string  `json:"description"`
	ResponseText           string  `json:"response_text"`
	Sentiment              string  `json:"sentiment"`
	SentimentScoreMixed    float64 `json:"sentiment_score_mixed"`
	SentimentScoreNegative float64 `json:"sentiment_score_negative"`
	SentimentScoreNeutral  float64 `json:"sentiment_score_neutral"`
	SentimentScorePositive float64 `json:"sentiment_score_positive"`
	Priority               string  `json:"priority"`
	PriorityReasoning      string  `json:"priority_reasoning"`
	ProcessedAt            string  `json:"processed_at"`
}

// NewProcessedTicket joins the stage outputs of one ticket.
func NewProcessedTicket(t Ticket, s SentimentResult, r ResponseArtifact, processedAt time.Time) ProcessedTicket {
	return ProcessedTicket{
		TicketID:               t.TicketID,
		SubmittedAt:            FormatTimestamp(t.SubmittedAt),
		CustomerFirstName:      t.Customer.FirstName,
		CustomerLastName:       t.Customer.LastName,
		CustomerFullName:       t.Customer.FullName,
		CustomerEmail:          t.Customer.Email,
		Product:                t.Product,
		IssueType:              t.IssueType,
		Subject:                t.Subject,
		Description:            t.Description,
		ResponseText:           r.ResponseText,
		Sentiment:              string(s.Sentiment),
		SentimentScoreMixed:    s.Scores.Mixed,
		SentimentScoreNegative: s.Scores.Negative,
		SentimentScoreNeutral:  s.Scores.Neutral,
		SentimentScorePositive: s.Scores.Positive,
		Priority:               string(r.Priority),
		PriorityReasoning:      r.PriorityReasoning,
		ProcessedAt:            FormatTimestamp(processedAt),
	}
}

// ObjectKey returns tickets/{yyyy}/{mm}/{dd}/ticket_{id}.json for the UTC
// date of processedAt.
func ObjectKey(ticketID string, processedAt time.Time) string {
	d := processedAt.UTC()
	return fmt.Sprintf("tickets/%04d/%02d/%02d/ticket_%s.json", d.Year(), int(d.Month()), d.Day(), ticketID)
}
