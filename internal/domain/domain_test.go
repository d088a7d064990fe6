package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSentimentResult_Validate(t *testing.T) {
	cases := []struct {
		name    string
		result  SentimentResult
		wantErr bool
	}{
		{"exact", SentimentResult{SentimentNegative, SentimentScores{0.1, 0.7, 0.15, 0.05}}, false},
		{"within tolerance", SentimentResult{SentimentNeutral, SentimentScores{0.2, 0.2, 0.3, 0.3005}}, false},
		{"sum too high", SentimentResult{SentimentNeutral, SentimentScores{0.5, 0.5, 0.5, 0}}, true},
		{"sum too low", SentimentResult{SentimentPositive, SentimentScores{0, 0, 0, 0.99}}, true},
		{"negative score", SentimentResult{SentimentMixed, SentimentScores{1.2, -0.2, 0, 0}}, true},
		{"unknown label", SentimentResult{"ANGRY", SentimentScores{0.25, 0.25, 0.25, 0.25}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.result.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{
		"HIGH":     PriorityHigh,
		"critical": PriorityHigh,
		" medium ": PriorityMedium,
		"LOW":      PriorityLow,
		"NORMAL":   PriorityLow,
	}
	for in, want := range cases {
		got, err := ParsePriority(in)
		if err != nil {
			t.Fatalf("ParsePriority(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParsePriority(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParsePriority("URGENT"); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 3, 4, 5, 6, 7, 123456000, time.UTC)
	for _, in := range []string{
		"2025-03-04T05:06:07.123456",
		"2025-03-04 05:06:07.123456",
		"2025-03-04T07:06:07.123456+02:00",
		"2025-03-04T05:06:07.123456Z",
	} {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
	if got := FormatTimestamp(want); got != "2025-03-04T05:06:07.123456" {
		t.Fatalf("FormatTimestamp = %q", got)
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2025, 1, 9, 23, 59, 0, 0, time.UTC)
	if got := ObjectKey("TKT-1", at); got != "tickets/2025/01/09/ticket_TKT-1.json" {
		t.Fatalf("ObjectKey = %q", got)
	}
}

func TestValidateTicketID(t *testing.T) {
	cases := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"generator format", "TKT-20240501-0001", false},
		{"at limit", strings.Repeat("a", MaxTicketIDBytes), false},
		{"blank", "  ", true},
		{"over limit", strings.Repeat("a", MaxTicketIDBytes+10), true},
		{"path traversal", "a/../../x", true},
		{"backslash", `a\b`, true},
		{"control character", "TKT-1\n", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTicketID(tc.id)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateTicketID(%q) error = %v, wantErr %v", tc.id, err, tc.wantErr)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StageResponseDone, StageEscalationPending) {
		t.Fatalf("expected ResponseDone -> EscalationPending")
	}
	if !CanTransition(StageResponseDone, StageMetadataPending) {
		t.Fatalf("expected ResponseDone -> MetadataPending")
	}
	if CanTransition(StageReceived, StageResponsePending) {
		t.Fatalf("stages must not be skipped")
	}
	if CanTransition(StageCompleted, StageFailed) {
		t.Fatalf("terminal stages cannot fail")
	}
	if !CanTransition(StageObjectPending, StageFailed) {
		t.Fatalf("non-terminal stages can fail")
	}
}

func TestWorkflowInstance_FailAndReopen(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWorkflowInstance(Ticket{TicketID: "TKT-9", SubmittedAt: now}, now)
	if err := w.Advance(StageSentimentPending, now); err != nil {
		t.Fatalf("advance: %v", err)
	}
	w.Attempts[StageSentimentPending] = 3
	if err := w.Fail(errors.New("timeout"), now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if w.Stage != StageFailed || w.FailedStage != StageSentimentPending || w.LastError != "timeout" {
		t.Fatalf("unexpected failed instance: %+v", w)
	}
	if err := w.Reopen(now); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if w.Stage != StageSentimentPending || w.Attempts[StageSentimentPending] != 0 {
		t.Fatalf("unexpected reopened instance: %+v", w)
	}
	if err := w.Reopen(now); err == nil {
		t.Fatalf("reopening a non-failed instance must fail")
	}
}

func TestCheckpoint_Before(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cp := Checkpoint{ModifiedAt: at, Key: "tickets/2025/01/01/ticket_B.json"}
	if !cp.Before(at.Add(time.Second), "tickets/2025/01/01/ticket_A.json") {
		t.Fatalf("newer object must sort after cursor")
	}
	if !cp.Before(at, "tickets/2025/01/01/ticket_C.json") {
		t.Fatalf("same instant, greater key must sort after cursor")
	}
	if cp.Before(at, "tickets/2025/01/01/ticket_B.json") {
		t.Fatalf("cursor object itself is already reconciled")
	}
	if !(Checkpoint{}).Before(at, "x") {
		t.Fatalf("zero checkpoint precedes everything")
	}
}
