package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/clients"
	"github.com/spec-kit/ticket-pipeline/internal/config"
	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/events"
	"github.com/spec-kit/ticket-pipeline/internal/objectstore"
	"github.com/spec-kit/ticket-pipeline/internal/observability"
	"github.com/spec-kit/ticket-pipeline/internal/repository"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

// ErrInstanceActive is returned when the instance is already being driven
// in this process.
var ErrInstanceActive = errors.New("workflow instance is already running")

// Orchestrator drives each ticket through the stage machine. State is
// persisted after every transition so any instance can be resumed.
type Orchestrator struct {
	cfg        config.WorkflowConfig
	workflows  repository.WorkflowRepository
	metadata   repository.MetadataRepository
	objects    objectstore.Store
	classifier clients.Classifier
	generator  clients.Generator
	escalator  *Escalator
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// OrchestratorDependencies bundles collaborators for the orchestrator.
type OrchestratorDependencies struct {
	Workflows  repository.WorkflowRepository
	Metadata   repository.MetadataRepository
	Objects    objectstore.Store
	Classifier clients.Classifier
	Generator  clients.Generator
	Escalator  *Escalator
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// NewOrchestrator constructs the orchestrator.
func NewOrchestrator(cfg config.WorkflowConfig, deps OrchestratorDependencies) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		workflows:  deps.Workflows,
		metadata:   deps.Metadata,
		objects:    deps.Objects,
		classifier: deps.Classifier,
		generator:  deps.Generator,
		escalator:  deps.Escalator,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        now,
		active:     make(map[string]struct{}),
	}
}

// Admit durably records a Received instance for ticket. When the ticket was
// admitted before, the stored instance is returned and created is false.
func (o *Orchestrator) Admit(ctx context.Context, ticket domain.Ticket) (inst *domain.WorkflowInstance, created bool, err error) {
	if err := ticket.Validate(); err != nil {
		return nil, false, apperrors.NewValidationError(err.Error(), map[string]any{"ticket_id": ticket.TicketID})
	}
	inst = domain.NewWorkflowInstance(ticket, o.now())
	created, err = o.workflows.Create(ctx, inst)
	if err != nil {
		return nil, false, fmt.Errorf("admit %s: %w", ticket.TicketID, err)
	}
	if !created {
		existing, err := o.workflows.Get(ctx, ticket.TicketID)
		if err != nil {
			return nil, false, err
		}
		o.metrics.Add("workflows_duplicate", 1)
		return existing, false, nil
	}
	o.metrics.Add("workflows_admitted", 1)
	o.logger.Info("workflow admitted", zap.String("ticket_id", ticket.TicketID))
	return inst, true, nil
}

// Start admits ticket and drives it to Completed or Failed. Starting a
// ticket that already has an instance is a no-op returning that instance.
func (o *Orchestrator) Start(ctx context.Context, ticket domain.Ticket) (*domain.WorkflowInstance, error) {
	inst, created, err := o.Admit(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if !created {
		return inst, nil
	}
	return o.drive(ctx, inst)
}

// Resume re-attaches to a persisted instance and continues from its stage.
// Terminal instances are returned unchanged.
func (o *Orchestrator) Resume(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error) {
	inst, err := o.workflows.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if inst.Stage.IsTerminal() {
		return inst, nil
	}
	o.logger.Info("resuming workflow", zap.String("ticket_id", ticketID), zap.String("stage", string(inst.Stage)))
	return o.drive(ctx, inst)
}

// Get returns the stored instance.
func (o *Orchestrator) Get(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error) {
	return o.workflows.Get(ctx, ticketID)
}

// ListFailed returns Failed instances, newest first.
func (o *Orchestrator) ListFailed(ctx context.Context, includeAcknowledged bool, limit, offset int) ([]domain.WorkflowInstance, error) {
	return o.workflows.ListFailed(ctx, includeAcknowledged, limit, offset)
}

// ListResumable returns up to limit non-terminal instances.
func (o *Orchestrator) ListResumable(ctx context.Context, limit int) ([]domain.WorkflowInstance, error) {
	return o.workflows.ListByStages(ctx, domain.NonTerminalStages, time.Time{}, limit)
}

// ListStalled returns up to limit non-terminal instances whose state has not
// changed for longer than idleFor. A run that aborted on a store or network
// error stays at its last stage until something resumes it.
func (o *Orchestrator) ListStalled(ctx context.Context, idleFor time.Duration, limit int) ([]domain.WorkflowInstance, error) {
	return o.workflows.ListByStages(ctx, domain.NonTerminalStages, o.now().Add(-idleFor), limit)
}

// Acknowledge marks a Failed instance as seen by an operator. It stays
// Failed and keeps its error.
func (o *Orchestrator) Acknowledge(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error) {
	inst, err := o.workflows.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if inst.Stage != domain.StageFailed {
		return nil, apperrors.NewConflict("only failed workflows can be acknowledged", map[string]any{"stage": inst.Stage})
	}
	if inst.AcknowledgedAt != nil {
		return inst, nil
	}
	now := o.now()
	inst.AcknowledgedAt = &now
	if err := o.persist(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Reopen moves a Failed instance back to the stage that failed with a fresh
// budget for that stage. The caller drives it afterwards.
func (o *Orchestrator) Reopen(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error) {
	inst, err := o.workflows.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := inst.Reopen(o.now()); err != nil {
		return nil, apperrors.NewConflict(err.Error(), map[string]any{"stage": inst.Stage})
	}
	if err := o.persist(ctx, inst); err != nil {
		return nil, err
	}
	o.metrics.Add("workflows_reopened", 1)
	o.publish(ctx, events.New(events.EventWorkflowReopened, inst.TicketID, inst.Stage, o.now(), nil))
	return inst, nil
}

// Reprocess reopens a Failed instance and drives it.
func (o *Orchestrator) Reprocess(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error) {
	inst, err := o.Reopen(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return o.drive(ctx, inst)
}

func (o *Orchestrator) claim(ticketID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[ticketID]; ok {
		return false
	}
	o.active[ticketID] = struct{}{}
	return true
}

func (o *Orchestrator) release(ticketID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, ticketID)
}

// drive runs stages until the instance is terminal. A cancelled ctx leaves
// the instance at its last persisted stage.
func (o *Orchestrator) drive(ctx context.Context, inst *domain.WorkflowInstance) (*domain.WorkflowInstance, error) {
	if !o.claim(inst.TicketID) {
		return inst, ErrInstanceActive
	}
	defer o.release(inst.TicketID)

	for !inst.Stage.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return inst, err
		}
		if err := o.step(ctx, inst); err != nil {
			o.logger.Error("workflow step aborted",
				zap.String("ticket_id", inst.TicketID),
				zap.String("stage", string(inst.Stage)),
				zap.Error(err))
			return inst, err
		}
	}
	return inst, nil
}

func (o *Orchestrator) step(ctx context.Context, inst *domain.WorkflowInstance) error {
	switch inst.Stage {
	case domain.StageReceived:
		return o.advance(ctx, inst, domain.StageSentimentPending)

	case domain.StageSentimentPending:
		var result domain.SentimentResult
		ok, err := o.runStage(ctx, inst, func(callCtx context.Context) error {
			r, err := o.classifier.Classify(callCtx, inst.Ticket)
			if err != nil {
				return err
			}
			if err := r.Validate(); err != nil {
				return apperrors.NewPermanent("classify", err)
			}
			result = r
			return nil
		})
		if !ok || err != nil {
			return err
		}
		inst.Sentiment = &result
		return o.advance(ctx, inst, domain.StageSentimentDone)

	case domain.StageSentimentDone:
		return o.advance(ctx, inst, domain.StageResponsePending)

	case domain.StageResponsePending:
		if inst.Sentiment == nil {
			return o.fail(ctx, inst, apperrors.Permanentf("generate", "sentiment result missing"))
		}
		var artifact domain.ResponseArtifact
		ok, err := o.runStage(ctx, inst, func(callCtx context.Context) error {
			a, err := o.generator.Generate(callCtx, inst.Ticket, *inst.Sentiment)
			if err != nil {
				return err
			}
			if err := a.Validate(); err != nil {
				return apperrors.NewPermanent("generate", err)
			}
			artifact = a
			return nil
		})
		if !ok || err != nil {
			return err
		}
		inst.Response = &artifact
		return o.advance(ctx, inst, domain.StageResponseDone)

	case domain.StageResponseDone:
		if inst.Response == nil {
			return o.fail(ctx, inst, apperrors.Permanentf("escalate", "response artifact missing"))
		}
		if ShouldEscalate(*inst.Response) {
			return o.advance(ctx, inst, domain.StageEscalationPending)
		}
		return o.advance(ctx, inst, domain.StageMetadataPending)

	case domain.StageEscalationPending:
		return o.escalate(ctx, inst)

	case domain.StageMetadataPending:
		ok, err := o.runStage(ctx, inst, func(callCtx context.Context) error {
			return o.metadata.Put(callCtx, o.metadataRecord(inst))
		})
		if !ok || err != nil {
			return err
		}
		if inst.ProcessedAt == nil {
			processedAt := o.now()
			inst.ProcessedAt = &processedAt
		}
		inst.ObjectKey = domain.ObjectKey(inst.TicketID, *inst.ProcessedAt)
		return o.advance(ctx, inst, domain.StageObjectPending)

	case domain.StageObjectPending:
		if inst.Sentiment == nil || inst.Response == nil || inst.ProcessedAt == nil {
			return o.fail(ctx, inst, apperrors.Permanentf("write object", "stage outputs missing"))
		}
		record := domain.NewProcessedTicket(inst.Ticket, *inst.Sentiment, *inst.Response, *inst.ProcessedAt)
		data, err := json.Marshal(record)
		if err != nil {
			return o.fail(ctx, inst, apperrors.NewPermanent("write object", err))
		}
		ok, err := o.runStage(ctx, inst, func(callCtx context.Context) error {
			return o.objects.Put(callCtx, inst.ObjectKey, data)
		})
		if !ok || err != nil {
			return err
		}
		if err := o.advance(ctx, inst, domain.StageCompleted); err != nil {
			return err
		}
		o.metrics.Add("workflows_completed", 1)
		o.logger.Info("workflow completed",
			zap.String("ticket_id", inst.TicketID),
			zap.String("object_key", inst.ObjectKey),
			zap.String("priority", string(inst.Response.Priority)))
		o.publish(ctx, events.New(events.EventWorkflowCompleted, inst.TicketID, inst.Stage, o.now(), events.WorkflowCompletedPayload{
			ObjectKey:   inst.ObjectKey,
			Priority:    inst.Response.Priority,
			ProcessedAt: *inst.ProcessedAt,
		}))
		return nil

	default:
		return fmt.Errorf("workflow %s: no handler for stage %s", inst.TicketID, inst.Stage)
	}
}

// escalate makes at most one alert attempt per instance. The attempt is
// recorded before it is made so a crash mid-publish never repeats it.
func (o *Orchestrator) escalate(ctx context.Context, inst *domain.WorkflowInstance) error {
	if !inst.AlertAttempted && o.escalator != nil {
		inst.AlertAttempted = true
		if err := o.persist(ctx, inst); err != nil {
			return err
		}
		delivered := o.escalator.Escalate(ctx, inst.Ticket, inst.Sentiment, *inst.Response)
		o.publish(ctx, events.New(events.EventTicketEscalated, inst.TicketID, inst.Stage, o.now(), events.TicketEscalatedPayload{
			Priority:  inst.Response.Priority,
			Delivered: delivered,
		}))
	}
	return o.advance(ctx, inst, domain.StageMetadataPending)
}

// runStage calls fn under the stage retry budget. It reports false with a nil
// error when the instance was moved to Failed.
func (o *Orchestrator) runStage(ctx context.Context, inst *domain.WorkflowInstance, fn func(context.Context) error) (bool, error) {
	stage := inst.Stage
	bo := o.newBackOff()
	for {
		if inst.Attempts[stage] >= o.cfg.MaxAttempts {
			cause := fmt.Errorf("%s: retry budget of %d attempts exhausted", stage, o.cfg.MaxAttempts)
			if inst.LastError != "" {
				cause = fmt.Errorf("%w: %s", cause, inst.LastError)
			}
			return false, o.fail(ctx, inst, cause)
		}
		inst.Attempts[stage]++
		if err := o.persist(ctx, inst); err != nil {
			return false, err
		}

		err := o.call(ctx, fn)
		if err == nil {
			o.metrics.RecordStage(string(stage), "success")
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		inst.LastError = err.Error()
		if apperrors.IsPermanent(err) {
			o.metrics.RecordStage(string(stage), "permanent")
			return false, o.fail(ctx, inst, err)
		}
		o.metrics.RecordStage(string(stage), "transient")
		if inst.Attempts[stage] >= o.cfg.MaxAttempts {
			return false, o.fail(ctx, inst, err)
		}

		wait := bo.NextBackOff()
		o.logger.Warn("stage attempt failed, retrying",
			zap.String("ticket_id", inst.TicketID),
			zap.String("stage", string(stage)),
			zap.Int("attempt", inst.Attempts[stage]),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := sleepContext(ctx, wait); err != nil {
			return false, err
		}
	}
}

func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	if o.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func (o *Orchestrator) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if o.cfg.InitialBackoff > 0 {
		bo.InitialInterval = o.cfg.InitialBackoff
	}
	if o.cfg.MaxBackoff > 0 {
		bo.MaxInterval = o.cfg.MaxBackoff
	}
	bo.RandomizationFactor = 0.5
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (o *Orchestrator) fail(ctx context.Context, inst *domain.WorkflowInstance, cause error) error {
	attempts := inst.Attempts[inst.Stage]
	if err := inst.Fail(cause, o.now()); err != nil {
		return err
	}
	if err := o.persist(ctx, inst); err != nil {
		return err
	}
	o.metrics.Add("workflows_failed", 1)
	o.logger.Error("workflow failed",
		zap.String("ticket_id", inst.TicketID),
		zap.String("stage", string(inst.FailedStage)),
		zap.Error(cause))
	o.publish(ctx, events.New(events.EventWorkflowFailed, inst.TicketID, inst.Stage, o.now(), domain.FailureNotice{
		TicketID:    inst.TicketID,
		FailedStage: inst.FailedStage,
		LastError:   inst.LastError,
		Attempts:    attempts,
		FailedAt:    inst.UpdatedAt,
	}))
	return nil
}

func (o *Orchestrator) advance(ctx context.Context, inst *domain.WorkflowInstance, to domain.Stage) error {
	if err := inst.Advance(to, o.now()); err != nil {
		return err
	}
	return o.persist(ctx, inst)
}

func (o *Orchestrator) persist(ctx context.Context, inst *domain.WorkflowInstance) error {
	inst.UpdatedAt = o.now()
	if err := o.workflows.Save(ctx, inst); err != nil {
		return fmt.Errorf("persist workflow %s at %s: %w", inst.TicketID, inst.Stage, err)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if o.dispatcher == nil {
		return
	}
	if err := o.dispatcher.Publish(ctx, event); err != nil {
		o.logger.Warn("event handler failed",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

func (o *Orchestrator) metadataRecord(inst *domain.WorkflowInstance) domain.MetadataRecord {
	rec := domain.MetadataRecord{
		TicketID:    inst.TicketID,
		Status:      domain.MetadataStatusProcessed,
		SubmittedAt: domain.FormatTimestamp(inst.Ticket.SubmittedAt),
		UpdatedAt:   domain.FormatTimestamp(o.now()),
	}
	if inst.Response != nil {
		rec.Priority = inst.Response.Priority
	}
	if inst.Sentiment != nil {
		rec.Sentiment = inst.Sentiment.Sentiment
	}
	return rec
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
