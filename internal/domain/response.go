package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Priority is the urgency assigned alongside the generated response.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// ParsePriority normalizes a generator label. NORMAL and CRITICAL are older
// labels of the generation service and map to LOW and HIGH.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "LOW", "NORMAL":
		return PriorityLow, nil
	case "MEDIUM":
		return PriorityMedium, nil
	case "HIGH", "CRITICAL":
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("unknown priority %q", value)
	}
}

// ResponseArtifact is the generated first response for a ticket.
type ResponseArtifact struct {
	ResponseText      string   `json:"response_text"`
	Priority          Priority `json:"priority"`
	PriorityReasoning string   `json:"priority_reasoning"`
}

// Validate rejects empty responses and priorities outside the fixed set.
func (r ResponseArtifact) Validate() error {
	if strings.TrimSpace(r.ResponseText) == "" {
		return errors.New("response_text empty")
	}
	switch r.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return nil
	default:
		return fmt.Errorf("invalid priority %q", r.Priority)
	}
}
