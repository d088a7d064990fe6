package clients

import (
	"context"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

// Generator drafts the customer response and assigns a priority.
type Generator interface {
	Generate(ctx context.Context, ticket domain.Ticket, sentiment domain.SentimentResult) (domain.ResponseArtifact, error)
}

// GenerationClient calls the response-generation service over HTTP.
type GenerationClient struct {
	base
}

type generateRequest struct {
	TicketID     string                 `json:"ticket_id"`
	CustomerName string                 `json:"customer_name"`
	Product      string                 `json:"product"`
	IssueType    string                 `json:"issue_type"`
	Subject      string                 `json:"subject"`
	Description  string                 `json:"description"`
	Sentiment    domain.Sentiment       `json:"sentiment"`
	Scores       domain.SentimentScores `json:"scores"`
}

type generateResponse struct {
	ResponseText      string `json:"response_text"`
	Priority          string `json:"priority"`
	PriorityReasoning string `json:"priority_reasoning"`
}

// NewGenerationClient builds a client for the service at url.
func NewGenerationClient(url string, opts ...Option) (*GenerationClient, error) {
	b, err := newBase(url, opts...)
	if err != nil {
		return nil, err
	}
	return &GenerationClient{base: b}, nil
}

// Generate returns the response artifact with its priority normalized.
func (c *GenerationClient) Generate(ctx context.Context, ticket domain.Ticket, sentiment domain.SentimentResult) (domain.ResponseArtifact, error) {
	const op = "generate"
	req := generateRequest{
		TicketID:     ticket.TicketID,
		CustomerName: ticket.Customer.FullName,
		Product:      ticket.Product,
		IssueType:    ticket.IssueType,
		Subject:      ticket.Subject,
		Description:  ticket.Description,
		Sentiment:    sentiment.Sentiment,
		Scores:       sentiment.Scores,
	}
	var resp generateResponse
	if err := c.postJSON(ctx, op, req, &resp); err != nil {
		return domain.ResponseArtifact{}, err
	}

	priority, err := domain.ParsePriority(resp.Priority)
	if err != nil {
		return domain.ResponseArtifact{}, apperrors.NewPermanent(op, err)
	}
	artifact := domain.ResponseArtifact{
		ResponseText:      resp.ResponseText,
		Priority:          priority,
		PriorityReasoning: resp.PriorityReasoning,
	}
	if err := artifact.Validate(); err != nil {
		return domain.ResponseArtifact{}, apperrors.NewPermanent(op, err)
	}
	return artifact, nil
}
