package dto

import (
	"testing"
	"time"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
)

func TestWorkflowSummaryReportsDeliveryOnlyWhenCompleted(t *testing.T) {
	processedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		stage     domain.Stage
		failedAt  domain.Stage
		delivered bool
	}{
		{"completed", domain.StageCompleted, "", true},
		{"failed writing object", domain.StageFailed, domain.StageObjectPending, false},
		{"object write pending", domain.StageObjectPending, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inst := &domain.WorkflowInstance{
				TicketID:    "TKT-1",
				Stage:       tc.stage,
				FailedStage: tc.failedAt,
				ProcessedAt: &processedAt,
				ObjectKey:   "tickets/2024/05/01/ticket_TKT-1.json",
			}
			got := NewWorkflowSummary(inst)
			if tc.delivered {
				if got.ProcessedAt == nil || !got.ProcessedAt.Equal(processedAt) || got.ObjectKey != inst.ObjectKey {
					t.Fatalf("delivery fields missing: %+v", got)
				}
				return
			}
			if got.ProcessedAt != nil || got.ObjectKey != "" {
				t.Fatalf("undelivered instance reports processed_at=%v object_key=%q", got.ProcessedAt, got.ObjectKey)
			}
		})
	}
}
