package clients

import (
	"context"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

// Classifier produces the sentiment of a ticket.
type Classifier interface {
	Classify(ctx context.Context, ticket domain.Ticket) (domain.SentimentResult, error)
}

// ClassificationClient calls the sentiment service over HTTP.
type ClassificationClient struct {
	base
}

type classifyRequest struct {
	TicketID string `json:"ticket_id"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

type classifyResponse struct {
	Sentiment string `json:"sentiment"`
	Scores    *struct {
		Mixed    *float64 `json:"mixed"`
		Negative *float64 `json:"negative"`
		Neutral  *float64 `json:"neutral"`
		Positive *float64 `json:"positive"`
	} `json:"scores"`
}

// NewClassificationClient builds a client for the service at url.
func NewClassificationClient(url string, opts ...Option) (*ClassificationClient, error) {
	b, err := newBase(url, opts...)
	if err != nil {
		return nil, err
	}
	return &ClassificationClient{base: b}, nil
}

// Classify sends the ticket text and validates the returned result,
// including the score-sum invariant.
func (c *ClassificationClient) Classify(ctx context.Context, ticket domain.Ticket) (domain.SentimentResult, error) {
	const op = "classify"
	var resp classifyResponse
	req := classifyRequest{TicketID: ticket.TicketID, Text: ticket.Text(), Language: "en"}
	if err := c.postJSON(ctx, op, req, &resp); err != nil {
		return domain.SentimentResult{}, err
	}

	sentiment, err := domain.ParseSentiment(resp.Sentiment)
	if err != nil {
		return domain.SentimentResult{}, apperrors.NewPermanent(op, err)
	}
	s := resp.Scores
	if s == nil || s.Mixed == nil || s.Negative == nil || s.Neutral == nil || s.Positive == nil {
		return domain.SentimentResult{}, apperrors.Permanentf(op, "response is missing sentiment scores")
	}
	result := domain.SentimentResult{
		Sentiment: sentiment,
		Scores: domain.SentimentScores{
			Mixed:    *s.Mixed,
			Negative: *s.Negative,
			Neutral:  *s.Neutral,
			Positive: *s.Positive,
		},
	}
	if err := result.Validate(); err != nil {
		return domain.SentimentResult{}, apperrors.NewPermanent(op, err)
	}
	return result, nil
}
