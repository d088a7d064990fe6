package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/observability"
)

type blockingAlerts struct{}

func (blockingAlerts) PublishAlert(ctx context.Context, _ domain.Alert) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestShouldEscalate(t *testing.T) {
	for priority, want := range map[domain.Priority]bool{
		domain.PriorityHigh:   true,
		domain.PriorityMedium: false,
		domain.PriorityLow:    false,
	} {
		if got := ShouldEscalate(domain.ResponseArtifact{Priority: priority}); got != want {
			t.Fatalf("ShouldEscalate(%s) = %v", priority, got)
		}
	}
}

func TestEscalateIsBoundedByTimeout(t *testing.T) {
	metrics := observability.NewMetrics()
	e := NewEscalator(blockingAlerts{}, 10*time.Millisecond, 1, zap.NewNop(), metrics)

	start := time.Now()
	delivered := e.Escalate(context.Background(), sampleTicket("TKT-2"), nil, domain.ResponseArtifact{Priority: domain.PriorityHigh})
	if delivered {
		t.Fatalf("blocked publish reported as delivered")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("escalation blocked for %s", elapsed)
	}
	alertErr := <-e.Errors()
	if !errors.Is(alertErr, context.DeadlineExceeded) {
		t.Fatalf("unexpected alert error %v", alertErr)
	}
}

func TestEscalateDropsErrorsWhenChannelFull(t *testing.T) {
	metrics := observability.NewMetrics()
	alerts := &fakeAlerts{err: errors.New("down"), effects: &sideEffects{}}
	e := NewEscalator(alerts, time.Second, 1, zap.NewNop(), metrics)

	for i := 0; i < 3; i++ {
		e.Escalate(context.Background(), sampleTicket("TKT-2"), nil, domain.ResponseArtifact{Priority: domain.PriorityHigh})
	}
	if got := metrics.Counter("alert_errors_dropped"); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
	if got := metrics.Counter("alerts_failed"); got != 3 {
		t.Fatalf("failed = %d, want 3", got)
	}
}

func TestAlertSummaryIsTruncated(t *testing.T) {
	ticket := sampleTicket("TKT-2")
	ticket.Subject = strings.Repeat("é", 400)
	summary := alertSummary(ticket, domain.ResponseArtifact{Priority: domain.PriorityHigh})
	if len(summary) > alertSummaryLimit || !strings.HasSuffix(summary, "...") {
		t.Fatalf("summary not truncated: %d bytes", len(summary))
	}
}
