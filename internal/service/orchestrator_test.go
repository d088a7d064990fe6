package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

func TestStartMediumPriorityCompletesOnceAndIgnoresRedelivery(t *testing.T) {
	h := newHarness(domain.PriorityMedium)
	ctx := context.Background()

	inst, err := h.orch.Start(ctx, sampleTicket("TKT-1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if inst.Stage != domain.StageCompleted {
		t.Fatalf("stage = %s, want COMPLETED", inst.Stage)
	}

	wantStages := []domain.Stage{
		domain.StageReceived,
		domain.StageSentimentPending,
		domain.StageSentimentDone,
		domain.StageResponsePending,
		domain.StageResponseDone,
		domain.StageMetadataPending,
		domain.StageObjectPending,
		domain.StageCompleted,
	}
	if diff := cmp.Diff(wantStages, h.workflows.stages("TKT-1")); diff != "" {
		t.Fatalf("stage history mismatch (-want +got):\n%s", diff)
	}

	wantKey := "tickets/2024/05/01/ticket_TKT-1.json"
	wantEffects := []string{"metadata:TKT-1", "object:" + wantKey}
	if diff := cmp.Diff(wantEffects, h.effects.entries()); diff != "" {
		t.Fatalf("side effects mismatch (-want +got):\n%s", diff)
	}
	if h.alerts.count() != 0 {
		t.Fatalf("expected no alerts, got %d", h.alerts.count())
	}

	var record domain.ProcessedTicket
	if err := json.Unmarshal(h.objects.objects[wantKey], &record); err != nil {
		t.Fatalf("decode object: %v", err)
	}
	if record.Priority != "MEDIUM" || record.ProcessedAt != "2024-05-01T12:00:00" || record.SubmittedAt != "2024-05-01T09:15:00" {
		t.Fatalf("unexpected processed record %+v", record)
	}

	again, err := h.orch.Start(ctx, sampleTicket("TKT-1"))
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if again.Stage != domain.StageCompleted {
		t.Fatalf("second start stage = %s", again.Stage)
	}
	if h.classifier.count() != 1 || h.generator.count() != 1 {
		t.Fatalf("stages re-ran: classify=%d generate=%d", h.classifier.count(), h.generator.count())
	}
	if h.metadata.puts != 1 || h.objects.puts != 1 {
		t.Fatalf("duplicate writes: metadata=%d objects=%d", h.metadata.puts, h.objects.puts)
	}
}

func TestHighPriorityAlertsBeforeMetadata(t *testing.T) {
	cases := []struct {
		name      string
		alertErr  error
		delivered bool
	}{
		{name: "alert delivered"},
		{name: "alert fails", alertErr: errors.New("broker unavailable")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(domain.PriorityHigh)
			h.alerts.err = tc.alertErr

			inst, err := h.orch.Start(context.Background(), sampleTicket("TKT-2"))
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if inst.Stage != domain.StageCompleted {
				t.Fatalf("stage = %s, want COMPLETED", inst.Stage)
			}
			if !inst.AlertAttempted {
				t.Fatalf("alert attempt not recorded")
			}
			want := []string{"alert:TKT-2", "metadata:TKT-2", "object:tickets/2024/05/01/ticket_TKT-2.json"}
			if diff := cmp.Diff(want, h.effects.entries()); diff != "" {
				t.Fatalf("side effects mismatch (-want +got):\n%s", diff)
			}

			select {
			case alertErr := <-h.escalator.Errors():
				if tc.alertErr == nil {
					t.Fatalf("unexpected alert error %v", alertErr)
				}
				if !errors.Is(alertErr, tc.alertErr) || alertErr.TicketID != "TKT-2" {
					t.Fatalf("unexpected alert error %v", alertErr)
				}
			default:
				if tc.alertErr != nil {
					t.Fatalf("alert failure not reported on error channel")
				}
			}
		})
	}
}

func TestClassificationTimeoutsExhaustBudget(t *testing.T) {
	h := newHarness(domain.PriorityMedium)
	h.classifier.fn = func(ctx context.Context, _ int) (domain.SentimentResult, error) {
		<-ctx.Done()
		return domain.SentimentResult{}, ctx.Err()
	}

	inst, err := h.orch.Start(context.Background(), sampleTicket("TKT-3"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if inst.Stage != domain.StageFailed || inst.FailedStage != domain.StageSentimentPending {
		t.Fatalf("stage = %s failed at %s", inst.Stage, inst.FailedStage)
	}
	if got := h.classifier.count(); got != 3 {
		t.Fatalf("classify calls = %d, want 3", got)
	}
	if h.generator.count() != 0 || h.metadata.puts != 0 || h.objects.puts != 0 {
		t.Fatalf("downstream effects after failure: generate=%d metadata=%d objects=%d",
			h.generator.count(), h.metadata.puts, h.objects.puts)
	}
	if inst.LastError == "" {
		t.Fatalf("last error not retained")
	}
	if len(h.failed) != 1 || h.failed[0].TicketID != "TKT-3" || h.failed[0].Attempts != 3 {
		t.Fatalf("unexpected failure notices %+v", h.failed)
	}

	stored, err := h.orch.Get(context.Background(), "TKT-3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Stage != domain.StageFailed || stored.Attempts[domain.StageSentimentPending] != 3 {
		t.Fatalf("unexpected stored instance %+v", stored)
	}
}

func TestSentimentSumViolationFailsWithoutGeneration(t *testing.T) {
	h := newHarness(domain.PriorityMedium)
	h.classifier.fn = func(context.Context, int) (domain.SentimentResult, error) {
		return domain.SentimentResult{
			Sentiment: domain.SentimentNegative,
			Scores:    domain.SentimentScores{Mixed: 0.5, Negative: 0.5, Neutral: 0.5},
		}, nil
	}

	inst, err := h.orch.Start(context.Background(), sampleTicket("TKT-4"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if inst.Stage != domain.StageFailed {
		t.Fatalf("stage = %s, want FAILED", inst.Stage)
	}
	if h.classifier.count() != 1 {
		t.Fatalf("permanent error retried: %d calls", h.classifier.count())
	}
	if h.generator.count() != 0 || inst.Attempts[domain.StageResponsePending] != 0 {
		t.Fatalf("generation stage consumed an attempt")
	}
}

func TestPermanentGenerationErrorIsNotRetried(t *testing.T) {
	h := newHarness(domain.PriorityMedium)
	h.generator.fn = func(context.Context, int) (domain.ResponseArtifact, error) {
		return domain.ResponseArtifact{}, apperrors.Permanentf("generate", "status 400: bad prompt")
	}

	inst, err := h.orch.Start(context.Background(), sampleTicket("TKT-5"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if inst.Stage != domain.StageFailed || inst.FailedStage != domain.StageResponsePending {
		t.Fatalf("stage = %s failed at %s", inst.Stage, inst.FailedStage)
	}
	if h.generator.count() != 1 {
		t.Fatalf("generate calls = %d, want 1", h.generator.count())
	}
}

func TestTransientErrorRetriedThenSucceeds(t *testing.T) {
	h := newHarness(domain.PriorityLow)
	h.classifier.fn = func(ctx context.Context, call int) (domain.SentimentResult, error) {
		if call == 1 {
			return domain.SentimentResult{}, apperrors.NewTransient("classify", errors.New("status 503"))
		}
		return neutralSentiment(ctx, call)
	}
	h.objects.failN = 1

	inst, err := h.orch.Start(context.Background(), sampleTicket("TKT-6"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if inst.Stage != domain.StageCompleted {
		t.Fatalf("stage = %s, want COMPLETED", inst.Stage)
	}
	if inst.Attempts[domain.StageSentimentPending] != 2 || inst.Attempts[domain.StageObjectPending] != 2 {
		t.Fatalf("unexpected attempts %+v", inst.Attempts)
	}
	if h.objects.puts != 1 {
		t.Fatalf("object puts = %d", h.objects.puts)
	}
}

func TestResumeContinuesFromPersistedStage(t *testing.T) {
	h := newHarness(domain.PriorityMedium)
	inst := domain.NewWorkflowInstance(sampleTicket("TKT-7"), fixedNow)
	inst.Stage = domain.StageMetadataPending
	inst.Sentiment = &domain.SentimentResult{Sentiment: domain.SentimentPositive, Scores: domain.SentimentScores{Positive: 1}}
	inst.Response = &domain.ResponseArtifact{ResponseText: "done", Priority: domain.PriorityLow}
	inst.Attempts[domain.StageMetadataPending] = 1
	h.workflows.put(inst)

	resumable, err := h.orch.ListResumable(context.Background(), 10)
	if err != nil || len(resumable) != 1 {
		t.Fatalf("list resumable: %v %d", err, len(resumable))
	}

	got, err := h.orch.Resume(context.Background(), "TKT-7")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Stage != domain.StageCompleted {
		t.Fatalf("stage = %s, want COMPLETED", got.Stage)
	}
	if h.classifier.count() != 0 || h.generator.count() != 0 {
		t.Fatalf("completed stages re-ran")
	}
	if got.Attempts[domain.StageMetadataPending] != 2 {
		t.Fatalf("metadata attempts = %d, want 2", got.Attempts[domain.StageMetadataPending])
	}
}

func TestResumeWithExhaustedBudgetFails(t *testing.T) {
	h := newHarness(domain.PriorityMedium)
	inst := domain.NewWorkflowInstance(sampleTicket("TKT-8"), fixedNow)
	inst.Stage = domain.StageSentimentPending
	inst.Attempts[domain.StageSentimentPending] = 3
	inst.LastError = "classify TRANSIENT: context deadline exceeded"
	h.workflows.put(inst)

	got, err := h.orch.Resume(context.Background(), "TKT-8")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Stage != domain.StageFailed || h.classifier.count() != 0 {
		t.Fatalf("stage = %s, classify calls = %d", got.Stage, h.classifier.count())
	}
}

func TestResumeSkipsAlertAlreadyAttempted(t *testing.T) {
	h := newHarness(domain.PriorityHigh)
	inst := domain.NewWorkflowInstance(sampleTicket("TKT-9"), fixedNow)
	inst.Stage = domain.StageEscalationPending
	inst.AlertAttempted = true
	inst.Sentiment = &domain.SentimentResult{Sentiment: domain.SentimentNegative, Scores: domain.SentimentScores{Negative: 1}}
	inst.Response = &domain.ResponseArtifact{ResponseText: "escalated", Priority: domain.PriorityHigh}
	h.workflows.put(inst)

	got, err := h.orch.Resume(context.Background(), "TKT-9")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Stage != domain.StageCompleted {
		t.Fatalf("stage = %s", got.Stage)
	}
	if h.alerts.count() != 0 {
		t.Fatalf("alert repeated after resume")
	}
}

func TestFailedTicketNeedsOperatorReprocess(t *testing.T) {
	h := newHarness(domain.PriorityMedium)
	ctx := context.Background()
	h.generator.fn = func(context.Context, int) (domain.ResponseArtifact, error) {
		return domain.ResponseArtifact{}, apperrors.Permanentf("generate", "status 422")
	}

	if _, err := h.orch.Start(ctx, sampleTicket("TKT-10")); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.generator.fn = respondWith(domain.PriorityMedium)

	again, err := h.orch.Start(ctx, sampleTicket("TKT-10"))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if again.Stage != domain.StageFailed || h.generator.count() != 1 {
		t.Fatalf("re-ingesting a failed ticket must be a no-op: stage=%s generate=%d", again.Stage, h.generator.count())
	}

	failed, err := h.orch.ListFailed(ctx, false, 10, 0)
	if err != nil || len(failed) != 1 {
		t.Fatalf("list failed: %v %d", err, len(failed))
	}
	acked, err := h.orch.Acknowledge(ctx, "TKT-10")
	if err != nil || acked.AcknowledgedAt == nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if failed, _ := h.orch.ListFailed(ctx, false, 10, 0); len(failed) != 0 {
		t.Fatalf("acknowledged instance still listed")
	}

	done, err := h.orch.Reprocess(ctx, "TKT-10")
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if done.Stage != domain.StageCompleted {
		t.Fatalf("stage = %s, want COMPLETED", done.Stage)
	}
	if h.classifier.count() != 1 {
		t.Fatalf("sentiment stage re-ran on reprocess")
	}

	if _, err := h.orch.Acknowledge(ctx, "TKT-10"); err == nil {
		t.Fatalf("acknowledging a completed workflow should conflict")
	}
	if _, err := h.orch.Reprocess(ctx, "TKT-10"); err == nil {
		t.Fatalf("reprocessing a completed workflow should conflict")
	}
}

func TestStartRejectsInvalidTicket(t *testing.T) {
	h := newHarness(domain.PriorityMedium)
	ticket := sampleTicket("")
	if _, err := h.orch.Start(context.Background(), ticket); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestCancelledContextLeavesInstanceResumable(t *testing.T) {
	h := newHarness(domain.PriorityMedium)
	ctx, cancel := context.WithCancel(context.Background())
	h.classifier.fn = func(callCtx context.Context, _ int) (domain.SentimentResult, error) {
		cancel()
		<-callCtx.Done()
		return domain.SentimentResult{}, callCtx.Err()
	}

	inst, err := h.orch.Start(ctx, sampleTicket("TKT-11"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if inst.Stage != domain.StageSentimentPending {
		t.Fatalf("stage = %s, want SENTIMENT_PENDING", inst.Stage)
	}
	h.classifier.fn = neutralSentiment
	done, err := h.orch.Resume(context.Background(), "TKT-11")
	if err != nil || done.Stage != domain.StageCompleted {
		t.Fatalf("resume: %v stage=%v", err, done)
	}
}

func TestPersistFailureLeavesInstanceStalledUntilResumed(t *testing.T) {
	h := newHarness(domain.PriorityMedium)
	h.workflows.failStage = domain.StageMetadataPending
	h.workflows.saveFailures = 1
	ctx := context.Background()

	if _, err := h.orch.Start(ctx, sampleTicket("TKT-12")); err == nil {
		t.Fatalf("expected the failed save to abort the run")
	}
	stored, err := h.orch.Get(ctx, "TKT-12")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Stage != domain.StageResponseDone {
		t.Fatalf("stored stage = %s, want RESPONSE_DONE", stored.Stage)
	}

	fresh, err := h.orch.ListStalled(ctx, time.Minute, 10)
	if err != nil || len(fresh) != 0 {
		t.Fatalf("recently updated instance listed as stalled: %v %v", fresh, err)
	}

	h.orch.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	stalled, err := h.orch.ListStalled(ctx, time.Minute, 10)
	if err != nil {
		t.Fatalf("list stalled: %v", err)
	}
	if len(stalled) != 1 || stalled[0].TicketID != "TKT-12" {
		t.Fatalf("stalled = %+v", stalled)
	}

	done, err := h.orch.Resume(ctx, "TKT-12")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if done.Stage != domain.StageCompleted {
		t.Fatalf("stage = %s, want COMPLETED", done.Stage)
	}
	if h.classifier.count() != 1 || h.generator.count() != 1 || h.metadata.puts != 1 {
		t.Fatalf("stages re-ran: classify=%d generate=%d metadata=%d", h.classifier.count(), h.generator.count(), h.metadata.puts)
	}
	if left, _ := h.orch.ListStalled(ctx, 0, 10); len(left) != 0 {
		t.Fatalf("completed instance still listed: %+v", left)
	}
}
