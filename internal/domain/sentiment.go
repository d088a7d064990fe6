package domain

import (
	"fmt"
	"math"
	"strings"
)

// SentimentScoreTolerance bounds how far the four scores may drift from 1.0.
const SentimentScoreTolerance = 1e-3

// Sentiment is the overall label assigned by the classification service.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentMixed    Sentiment = "MIXED"
)

// ParseSentiment normalizes a label; unknown labels are rejected.
func ParseSentiment(value string) (Sentiment, error) {
	s := Sentiment(strings.ToUpper(strings.TrimSpace(value)))
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentMixed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown sentiment %q", value)
	}
}

// SentimentScores holds the per-label confidence.
type SentimentScores struct {
	Mixed    float64 `json:"mixed"`
	Negative float64 `json:"negative"`
	Neutral  float64 `json:"neutral"`
	Positive float64 `json:"positive"`
}

// Sum adds the four scores.
func (s SentimentScores) Sum() float64 {
	return s.Mixed + s.Negative + s.Neutral + s.Positive
}

// SentimentResult is produced once per ticket and never changes afterwards.
type SentimentResult struct {
	Sentiment Sentiment       `json:"sentiment"`
	Scores    SentimentScores `json:"scores"`
}

// Validate enforces the label set, non-negative scores, and a total of 1.0
// within SentimentScoreTolerance.
func (r SentimentResult) Validate() error {
	if _, err := ParseSentiment(string(r.Sentiment)); err != nil {
		return err
	}
	for name, v := range map[string]float64{
		"mixed":    r.Scores.Mixed,
		"negative": r.Scores.Negative,
		"neutral":  r.Scores.Neutral,
		"positive": r.Scores.Positive,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("sentiment score %s out of range: %v", name, v)
		}
	}
	if sum := r.Scores.Sum(); math.Abs(sum-1.0) > SentimentScoreTolerance {
		return fmt.Errorf("sentiment scores sum to %.6f, want 1.0", sum)
	}
	return nil
}
