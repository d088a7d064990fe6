package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

// TicketSubmittedEvent is the only ingress event name that starts a workflow.
const TicketSubmittedEvent = "TicketSubmitted"

// ErrIgnoredEvent marks a well-formed event with another name. Such events
// are filtered out, not failed.
var ErrIgnoredEvent = errors.New("ingress event ignored")

// IngressEvent is the envelope published by the ticket generator.
type IngressEvent struct {
	EventName   string      `json:"eventName"`
	TicketID    string      `json:"ticketId"`
	SubmittedAt string      `json:"submittedAt"`
	Data        IngressData `json:"data"`
}

// IngressData carries the ticket attributes.
type IngressData struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Customer    struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		FullName  string `json:"full_name"`
		Email     string `json:"email"`
		Company   string `json:"company"`
	} `json:"customer_contact_information"`
	Product struct {
		Product   string `json:"product"`
		IssueType string `json:"issue_type"`
	} `json:"product_issue_information"`
}

// ParseIngressEvent decodes raw and converts an accepted event into a
// Ticket. Malformed payloads return a permanent error.
func ParseIngressEvent(raw []byte) (domain.Ticket, error) {
	const op = "parse ingress event"
	var evt IngressEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return domain.Ticket{}, apperrors.NewPermanent(op, err)
	}
	if evt.EventName != TicketSubmittedEvent {
		return domain.Ticket{}, fmt.Errorf("%w: eventName %q", ErrIgnoredEvent, evt.EventName)
	}
	return evt.Ticket()
}

// Ticket converts the event into a validated Ticket.
func (e IngressEvent) Ticket() (domain.Ticket, error) {
	const op = "parse ingress event"
	submittedAt, err := domain.ParseTimestamp(e.SubmittedAt)
	if err != nil {
		return domain.Ticket{}, apperrors.NewPermanent(op, fmt.Errorf("submittedAt: %w", err))
	}
	fullName := strings.TrimSpace(e.Data.Customer.FullName)
	if fullName == "" {
		fullName = strings.TrimSpace(e.Data.Customer.FirstName + " " + e.Data.Customer.LastName)
	}
	ticket := domain.Ticket{
		TicketID:    strings.TrimSpace(e.TicketID),
		SubmittedAt: submittedAt,
		Customer: domain.CustomerContact{
			FirstName: e.Data.Customer.FirstName,
			LastName:  e.Data.Customer.LastName,
			FullName:  fullName,
			Email:     e.Data.Customer.Email,
			Company:   e.Data.Customer.Company,
		},
		Product:     e.Data.Product.Product,
		IssueType:   e.Data.Product.IssueType,
		Subject:     e.Data.Subject,
		Description: e.Data.Description,
	}
	if err := ticket.Validate(); err != nil {
		return domain.Ticket{}, apperrors.NewPermanent(op, err)
	}
	return ticket, nil
}
