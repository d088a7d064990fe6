package domain

// MetadataStatusProcessed marks a ticket whose response has been generated.
const MetadataStatusProcessed = "PROCESSED"

// MetadataRecord is the minimal status row kept in the metadata store.
type MetadataRecord struct {
	TicketID    string    `json:"ticket_id"`
	Status      string    `json:"status"`
	Priority    Priority  `json:"priority"`
	Sentiment   Sentiment `json:"sentiment"`
	SubmittedAt string    `json:"submitted_at"`
	UpdatedAt   string    `json:"updated_at"`
}
