package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// TimestampLayout renders naive timestamps (no zone offset). Values are
// always produced in UTC before formatting.
const TimestampLayout = "2006-01-02T15:04:05.999999"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339 (converted to UTC) or a naive ISO-8601
// value (interpreted as UTC).
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// FormatTimestamp renders t as a naive UTC timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// CustomerContact identifies who submitted a ticket.
type CustomerContact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Company   string `json:"company,omitempty"`
}

// Ticket is an inbound support request. It is immutable once admitted.
type Ticket struct {
	TicketID    string          `json:"ticket_id"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Customer    CustomerContact `json:"customer"`
	Product     string          `json:"product"`
	IssueType   string          `json:"issue_type"`
	Subject     string          `json:"subject"`
	Description string          `json:"description"`
}

// MaxTicketIDBytes matches the ticket_id column width.
const MaxTicketIDBytes = 64

// Validate checks the fields every downstream stage relies on.
func (t Ticket) Validate() error {
	if err := ValidateTicketID(t.TicketID); err != nil {
		return err
	}
	if t.SubmittedAt.IsZero() {
		return errors.New("submitted_at required")
	}
	if strings.TrimSpace(t.Subject) == "" && strings.TrimSpace(t.Description) == "" {
		return errors.New("subject or description required")
	}
	return nil
}

// ValidateTicketID bounds an id to the column width and to characters that
// are safe inside an object key.
func ValidateTicketID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("ticket_id required")
	}
	if len(id) > MaxTicketIDBytes {
		return fmt.Errorf("ticket_id: %d bytes exceeds limit of %d", len(id), MaxTicketIDBytes)
	}
	for _, r := range id {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return fmt.Errorf("ticket_id: invalid character %q", r)
		}
	}
	return nil
}

// Text returns the free text sent to the classification service.
func (t Ticket) Text() string {
	switch {
	case t.Subject == "":
		return t.Description
	case t.Description == "":
		return t.Subject
	default:
		return t.Subject + "\n\n" + t.Description
	}
}
