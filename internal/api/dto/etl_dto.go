package dto

import "time"

// RunCycleRequest optionally replays from an explicit cursor. An empty body
// continues from the stored checkpoint.
type RunCycleRequest struct {
	SinceModifiedAt *time.Time `json:"since_modified_at,omitempty"`
	SinceKey        string     `json:"since_key,omitempty"`
}
