package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
)

func TestPublishRunsAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	boom := errors.New("boom")
	var calls []string
	d.Subscribe(EventWorkflowFailed, func(context.Context, Event) error {
		calls = append(calls, "first")
		return boom
	})
	d.Subscribe(EventWorkflowFailed, func(_ context.Context, e Event) error {
		calls = append(calls, "second:"+e.TicketID)
		return nil
	})
	d.Subscribe(EventWorkflowCompleted, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), New(EventWorkflowFailed, "TKT-9", domain.StageFailed, time.Now(), nil))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined handler error, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second:TKT-9" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestNewAssignsDistinctIDs(t *testing.T) {
	a := New(EventWorkflowCompleted, "TKT-1", domain.StageCompleted, time.Now(), nil)
	b := New(EventWorkflowCompleted, "TKT-1", domain.StageCompleted, time.Now(), nil)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
}
