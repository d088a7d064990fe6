package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

// ErrVersionConflict is returned by Save when another writer updated the
// instance since it was read.
var ErrVersionConflict = errors.New("workflow instance modified concurrently")

// WorkflowRepository persists per-ticket orchestration state.
type WorkflowRepository interface {
	// Create inserts inst unless an instance for the ticket already exists.
	// It reports whether a row was inserted.
	Create(ctx context.Context, inst *domain.WorkflowInstance) (bool, error)
	Get(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error)
	// Save writes inst if its Version still matches the stored row, then
	// increments Version.
	Save(ctx context.Context, inst *domain.WorkflowInstance) error
	// ListByStages returns instances in stages, least recently updated first.
	// A non-zero updatedBefore keeps only instances idle since before it.
	ListByStages(ctx context.Context, stages []domain.Stage, updatedBefore time.Time, limit int) ([]domain.WorkflowInstance, error)
	ListFailed(ctx context.Context, includeAcknowledged bool, limit, offset int) ([]domain.WorkflowInstance, error)
}

type workflowRepository struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepository instantiates repository.
func NewWorkflowRepository(pool *pgxpool.Pool) WorkflowRepository {
	return &workflowRepository{pool: pool}
}

const workflowColumns = `ticket_id, stage, ticket, sentiment, response, attempts, alert_attempted,
               last_error, failed_stage, processed_at, object_key, acknowledged_at, version, created_at, updated_at`

func (r *workflowRepository) Create(ctx context.Context, inst *domain.WorkflowInstance) (bool, error) {
	ticket, err := json.Marshal(inst.Ticket)
	if err != nil {
		return false, fmt.Errorf("encode ticket: %w", err)
	}
	attempts, err := json.Marshal(inst.Attempts)
	if err != nil {
		return false, fmt.Errorf("encode attempts: %w", err)
	}
	const query = `
        INSERT INTO workflow_instances (ticket_id, stage, ticket, attempts, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,0,$5,$5)
        ON CONFLICT (ticket_id) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query, inst.TicketID, inst.Stage, ticket, attempts, inst.CreatedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *workflowRepository) Get(ctx context.Context, ticketID string) (*domain.WorkflowInstance, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow_instances WHERE ticket_id=$1`
	inst, err := scanWorkflow(r.pool.QueryRow(ctx, query, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", ticketID, apperrors.ErrNotFound)
	}
	return inst, err
}

func (r *workflowRepository) Save(ctx context.Context, inst *domain.WorkflowInstance) error {
	sentiment, err := marshalOptional(inst.Sentiment)
	if err != nil {
		return fmt.Errorf("encode sentiment: %w", err)
	}
	response, err := marshalOptional(inst.Response)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	attempts, err := json.Marshal(inst.Attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}
	const query = `
        UPDATE workflow_instances SET stage=$2, sentiment=$3, response=$4, attempts=$5, alert_attempted=$6,
            last_error=$7, failed_stage=$8, processed_at=$9, object_key=$10, acknowledged_at=$11,
            version=version+1, updated_at=$12
        WHERE ticket_id=$1 AND version=$13`
	cmd, err := r.pool.Exec(ctx, query,
		inst.TicketID,
		inst.Stage,
		sentiment,
		response,
		attempts,
		inst.AlertAttempted,
		nullString(inst.LastError),
		nullString(string(inst.FailedStage)),
		inst.ProcessedAt,
		nullString(inst.ObjectKey),
		inst.AcknowledgedAt,
		inst.UpdatedAt,
		inst.Version,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s at version %d: %w", inst.TicketID, inst.Version, ErrVersionConflict)
	}
	inst.Version++
	return nil
}

func (r *workflowRepository) ListByStages(ctx context.Context, stages []domain.Stage, updatedBefore time.Time, limit int) ([]domain.WorkflowInstance, error) {
	if limit <= 0 {
		limit = 100
	}
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	var cutoff *time.Time
	if !updatedBefore.IsZero() {
		cutoff = &updatedBefore
	}
	query := `SELECT ` + workflowColumns + ` FROM workflow_instances
             WHERE stage = ANY($1) AND ($2::timestamptz IS NULL OR updated_at < $2)
             ORDER BY updated_at ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, names, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

func (r *workflowRepository) ListFailed(ctx context.Context, includeAcknowledged bool, limit, offset int) ([]domain.WorkflowInstance, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + workflowColumns + ` FROM workflow_instances
             WHERE stage = $1 AND ($2 OR acknowledged_at IS NULL)
             ORDER BY updated_at DESC LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, query, domain.StageFailed, includeAcknowledged, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

func scanWorkflows(rows pgx.Rows) ([]domain.WorkflowInstance, error) {
	var result []domain.WorkflowInstance
	for rows.Next() {
		inst, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inst)
	}
	return result, rows.Err()
}

func scanWorkflow(row pgx.Row) (*domain.WorkflowInstance, error) {
	var (
		inst                         domain.WorkflowInstance
		ticket, sentiment, response  []byte
		attempts                     []byte
		lastError, failed, objectKey *string
		processedAt, acknowledgedAt  *time.Time
	)
	if err := row.Scan(
		&inst.TicketID,
		&inst.Stage,
		&ticket,
		&sentiment,
		&response,
		&attempts,
		&inst.AlertAttempted,
		&lastError,
		&failed,
		&processedAt,
		&objectKey,
		&acknowledgedAt,
		&inst.Version,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ticket, &inst.Ticket); err != nil {
		return nil, fmt.Errorf("decode ticket %s: %w", inst.TicketID, err)
	}
	if len(sentiment) > 0 {
		inst.Sentiment = &domain.SentimentResult{}
		if err := json.Unmarshal(sentiment, inst.Sentiment); err != nil {
			return nil, fmt.Errorf("decode sentiment %s: %w", inst.TicketID, err)
		}
	}
	if len(response) > 0 {
		inst.Response = &domain.ResponseArtifact{}
		if err := json.Unmarshal(response, inst.Response); err != nil {
			return nil, fmt.Errorf("decode response %s: %w", inst.TicketID, err)
		}
	}
	inst.Attempts = map[domain.Stage]int{}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &inst.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts %s: %w", inst.TicketID, err)
		}
	}
	if lastError != nil {
		inst.LastError = *lastError
	}
	if failed != nil {
		inst.FailedStage = domain.Stage(*failed)
	}
	if objectKey != nil {
		inst.ObjectKey = *objectKey
	}
	if processedAt != nil {
		t := processedAt.UTC()
		inst.ProcessedAt = &t
	}
	inst.AcknowledgedAt = acknowledgedAt
	return &inst, nil
}

func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
