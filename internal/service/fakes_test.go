package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/config"
	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/events"
	"github.com/spec-kit/ticket-pipeline/internal/objectstore"
	"github.com/spec-kit/ticket-pipeline/internal/observability"
	"github.com/spec-kit/ticket-pipeline/internal/repository"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// sideEffects records external writes in order.
type sideEffects struct {
	mu  sync.Mutex
	log []string
}

func (s *sideEffects) add(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
}

func (s *sideEffects) entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

type memWorkflows struct {
	mu      sync.Mutex
	items   map[string]*domain.WorkflowInstance
	history map[string][]domain.Stage

	// saveFailures makes the next Save calls for an instance at failStage fail.
	failStage    domain.Stage
	saveFailures int
}

func newMemWorkflows() *memWorkflows {
	return &memWorkflows{items: map[string]*domain.WorkflowInstance{}, history: map[string][]domain.Stage{}}
}

func (m *memWorkflows) Create(_ context.Context, inst *domain.WorkflowInstance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[inst.TicketID]; ok {
		return false, nil
	}
	m.items[inst.TicketID] = inst.Clone()
	m.history[inst.TicketID] = append(m.history[inst.TicketID], inst.Stage)
	return true, nil
}

func (m *memWorkflows) Get(_ context.Context, ticketID string) (*domain.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.items[ticketID]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", ticketID, apperrors.ErrNotFound)
	}
	return inst.Clone(), nil
}

func (m *memWorkflows) Save(_ context.Context, inst *domain.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveFailures > 0 && inst.Stage == m.failStage {
		m.saveFailures--
		return errors.New("write tcp: connection reset by peer")
	}
	stored, ok := m.items[inst.TicketID]
	if !ok || stored.Version != inst.Version {
		return repository.ErrVersionConflict
	}
	inst.Version++
	m.items[inst.TicketID] = inst.Clone()
	h := m.history[inst.TicketID]
	if len(h) == 0 || h[len(h)-1] != inst.Stage {
		m.history[inst.TicketID] = append(h, inst.Stage)
	}
	return nil
}

func (m *memWorkflows) ListByStages(_ context.Context, stages []domain.Stage, updatedBefore time.Time, limit int) ([]domain.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[domain.Stage]bool{}
	for _, s := range stages {
		want[s] = true
	}
	var out []domain.WorkflowInstance
	for _, inst := range m.items {
		if want[inst.Stage] && (updatedBefore.IsZero() || inst.UpdatedAt.Before(updatedBefore)) {
			out = append(out, *inst.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memWorkflows) ListFailed(_ context.Context, includeAcknowledged bool, _, _ int) ([]domain.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WorkflowInstance
	for _, inst := range m.items {
		if inst.Stage == domain.StageFailed && (includeAcknowledged || inst.AcknowledgedAt == nil) {
			out = append(out, *inst.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out, nil
}

func (m *memWorkflows) put(inst *domain.WorkflowInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[inst.TicketID] = inst.Clone()
}

func (m *memWorkflows) stages(ticketID string) []domain.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Stage(nil), m.history[ticketID]...)
}

type memMetadata struct {
	mu      sync.Mutex
	records map[string]domain.MetadataRecord
	puts    int
	effects *sideEffects
}

func (m *memMetadata) Put(_ context.Context, rec domain.MetadataRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.TicketID] = rec
	m.puts++
	m.effects.add("metadata:" + rec.TicketID)
	return nil
}

func (m *memMetadata) Get(_ context.Context, ticketID string) (*domain.MetadataRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ticketID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &rec, nil
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failN   int
	effects *sideEffects
}

func (m *memObjects) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return apperrors.NewTransient("put object", fmt.Errorf("throttled"))
	}
	m.objects[key] = append([]byte(nil), data...)
	m.puts++
	m.effects.add("object:" + key)
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, objectstore.ErrNotExist
	}
	return data, nil
}

func (m *memObjects) List(context.Context, string) ([]objectstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []objectstore.ObjectInfo
	for key := range m.objects {
		out = append(out, objectstore.ObjectInfo{Key: key, ModifiedAt: fixedNow})
	}
	return out, nil
}

type fakeClassifier struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int) (domain.SentimentResult, error)
}

func (f *fakeClassifier) Classify(ctx context.Context, _ domain.Ticket) (domain.SentimentResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(ctx, call)
}

func (f *fakeClassifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int) (domain.ResponseArtifact, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, _ domain.Ticket, _ domain.SentimentResult) (domain.ResponseArtifact, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(ctx, call)
}

func (f *fakeGenerator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAlerts struct {
	mu      sync.Mutex
	calls   int
	err     error
	effects *sideEffects
}

func (f *fakeAlerts) PublishAlert(_ context.Context, alert domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.effects.add("alert:" + alert.TicketID)
	return f.err
}

func (f *fakeAlerts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func neutralSentiment(context.Context, int) (domain.SentimentResult, error) {
	return domain.SentimentResult{
		Sentiment: domain.SentimentNeutral,
		Scores:    domain.SentimentScores{Mixed: 0.1, Negative: 0.2, Neutral: 0.6, Positive: 0.1},
	}, nil
}

func respondWith(priority domain.Priority) func(context.Context, int) (domain.ResponseArtifact, error) {
	return func(context.Context, int) (domain.ResponseArtifact, error) {
		return domain.ResponseArtifact{ResponseText: "Thanks, we are looking into it.", Priority: priority, PriorityReasoning: "impact"}, nil
	}
}

type harness struct {
	orch       *Orchestrator
	workflows  *memWorkflows
	metadata   *memMetadata
	objects    *memObjects
	classifier *fakeClassifier
	generator  *fakeGenerator
	alerts     *fakeAlerts
	escalator  *Escalator
	effects    *sideEffects
	failed     []domain.FailureNotice
	metrics    *observability.Metrics
}

func testWorkflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		CallTimeout:    20 * time.Millisecond,
		AlertTimeout:   20 * time.Millisecond,
		Concurrency:    4,
	}
}

func newHarness(priority domain.Priority) *harness {
	effects := &sideEffects{}
	h := &harness{
		workflows:  newMemWorkflows(),
		metadata:   &memMetadata{records: map[string]domain.MetadataRecord{}, effects: effects},
		objects:    &memObjects{objects: map[string][]byte{}, effects: effects},
		classifier: &fakeClassifier{fn: neutralSentiment},
		generator:  &fakeGenerator{fn: respondWith(priority)},
		alerts:     &fakeAlerts{effects: effects},
		effects:    effects,
		metrics:    observability.NewMetrics(),
	}
	cfg := testWorkflowConfig()
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.Subscribe(events.EventWorkflowFailed, func(_ context.Context, e events.Event) error {
		h.failed = append(h.failed, e.Payload.(domain.FailureNotice))
		return nil
	})
	h.escalator = NewEscalator(h.alerts, cfg.AlertTimeout, 8, zap.NewNop(), h.metrics)
	h.orch = NewOrchestrator(cfg, OrchestratorDependencies{
		Workflows:  h.workflows,
		Metadata:   h.metadata,
		Objects:    h.objects,
		Classifier: h.classifier,
		Generator:  h.generator,
		Escalator:  h.escalator,
		Dispatcher: dispatcher,
		Metrics:    h.metrics,
		Logger:     zap.NewNop(),
		Now:        func() time.Time { return fixedNow },
	})
	return h
}

func sampleTicket(id string) domain.Ticket {
	return domain.Ticket{
		TicketID:    id,
		SubmittedAt: time.Date(2024, 5, 1, 9, 15, 0, 0, time.UTC),
		Customer:    domain.CustomerContact{FirstName: "Grace", LastName: "Hopper", FullName: "Grace Hopper", Email: "grace@example.com"},
		Product:     "Compiler Suite",
		IssueType:   "Crash",
		Subject:     "Build crashes",
		Description: "The build crashes on startup.",
	}
}
