package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
)

// ErrCheckpointMoved is returned by Apply when the stored checkpoint no
// longer matches the one the batch was computed from.
var ErrCheckpointMoved = errors.New("etl checkpoint moved by another writer")

// LoadBatch is the outcome of one ETL cycle, applied atomically.
type LoadBatch struct {
	Job        string
	CycleID    string
	Rows       []domain.WarehouseRow
	Rejections []domain.Rejection
	// Previous is the checkpoint the cycle started from; Next replaces it.
	Previous domain.Checkpoint
	Next     domain.Checkpoint
}

// WarehouseRepository reconciles processed tickets into the analytic table.
type WarehouseRepository interface {
	// Checkpoint returns the stored cursor for job, or the zero value.
	Checkpoint(ctx context.Context, job string) (domain.Checkpoint, error)
	// Apply upserts rows, records rejections and advances the checkpoint in
	// one transaction.
	Apply(ctx context.Context, batch LoadBatch) error
	ListRejections(ctx context.Context, limit, offset int) ([]domain.Rejection, error)
	CountRows(ctx context.Context) (int64, error)
}

type warehouseRepository struct {
	pool *pgxpool.Pool
}

// NewWarehouseRepository instantiates repository.
func NewWarehouseRepository(pool *pgxpool.Pool) WarehouseRepository {
	return &warehouseRepository{pool: pool}
}

var warehouseColumns = []string{
	"ticket_id",
	"submitted_at",
	"customer_first_name",
	"customer_last_name",
	"customer_full_name",
	"customer_email",
	"product",
	"issue_type",
	"subject",
	"description",
	"response_text",
	"sentiment",
	"sentiment_score_mixed",
	"sentiment_score_negative",
	"sentiment_score_neutral",
	"sentiment_score_positive",
	"priority",
	"priority_reasoning",
	"processed_at",
}

// upsertQuery leaves identical rows untouched so re-running a cycle is a
// no-op at the row level.
var upsertQuery = buildUpsertQuery()

func buildUpsertQuery() string {
	placeholders := make([]string, len(warehouseColumns))
	sets := make([]string, 0, len(warehouseColumns)-1)
	current := make([]string, 0, len(warehouseColumns)-1)
	excluded := make([]string, 0, len(warehouseColumns)-1)
	for i, col := range warehouseColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col == "ticket_id" {
			continue
		}
		sets = append(sets, col+"=EXCLUDED."+col)
		current = append(current, "ticket_warehouse."+col)
		excluded = append(excluded, "EXCLUDED."+col)
	}
	return fmt.Sprintf(`
        INSERT INTO ticket_warehouse (%s) VALUES (%s)
        ON CONFLICT (ticket_id) DO UPDATE SET %s
        WHERE (%s) IS DISTINCT FROM (%s)`,
		strings.Join(warehouseColumns, ", "),
		strings.Join(placeholders, ","),
		strings.Join(sets, ", "),
		strings.Join(current, ", "),
		strings.Join(excluded, ", "),
	)
}

func (r *warehouseRepository) Checkpoint(ctx context.Context, job string) (domain.Checkpoint, error) {
	const query = `SELECT modified_at, object_key FROM etl_checkpoints WHERE job=$1`
	var cp domain.Checkpoint
	err := r.pool.QueryRow(ctx, query, job).Scan(&cp.ModifiedAt, &cp.Key)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Checkpoint{}, nil
	}
	if err != nil {
		return domain.Checkpoint{}, err
	}
	cp.ModifiedAt = cp.ModifiedAt.UTC()
	return cp, nil
}

func (r *warehouseRepository) Apply(ctx context.Context, batch LoadBatch) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if len(batch.Rows) > 0 || len(batch.Rejections) > 0 {
		b := &pgx.Batch{}
		for _, row := range batch.Rows {
			b.Queue(upsertQuery, rowArgs(row)...)
		}
		for _, rej := range batch.Rejections {
			b.Queue(rejectionUpsertQuery, rej.ObjectKey, rej.CycleID, nullString(rej.TicketID), rej.Reason, rej.RejectedAt)
		}
		results := tx.SendBatch(ctx, b)
		for i := 0; i < b.Len(); i++ {
			if _, err = results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("apply batch item %d: %w", i, err)
			}
		}
		if err = results.Close(); err != nil {
			return err
		}
	}

	if batch.Next != batch.Previous {
		if err = advanceCheckpoint(ctx, tx, batch); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// rejectionUpsertQuery keeps one row per object, describing the latest cycle
// that rejected it.
const rejectionUpsertQuery = `
    INSERT INTO etl_rejections (object_key, cycle_id, ticket_id, reason, rejected_at)
    VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (object_key) DO UPDATE
    SET cycle_id=EXCLUDED.cycle_id, ticket_id=EXCLUDED.ticket_id,
        reason=EXCLUDED.reason, rejected_at=EXCLUDED.rejected_at`

func advanceCheckpoint(ctx context.Context, tx pgx.Tx, batch LoadBatch) error {
	var (
		query string
		args  []any
	)
	if batch.Previous.IsZero() {
		query = `
            INSERT INTO etl_checkpoints (job, modified_at, object_key, updated_at)
            VALUES ($1,$2,$3,NOW())
            ON CONFLICT (job) DO NOTHING`
		args = []any{batch.Job, batch.Next.ModifiedAt, batch.Next.Key}
	} else {
		query = `
            UPDATE etl_checkpoints SET modified_at=$2, object_key=$3, updated_at=NOW()
            WHERE job=$1 AND modified_at=$4 AND object_key=$5`
		args = []any{batch.Job, batch.Next.ModifiedAt, batch.Next.Key, batch.Previous.ModifiedAt, batch.Previous.Key}
	}
	cmd, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCheckpointMoved
	}
	return nil
}

func rowArgs(row domain.WarehouseRow) []any {
	return []any{
		row.TicketID,
		row.SubmittedAt,
		row.CustomerFirstName,
		row.CustomerLastName,
		row.CustomerFullName,
		row.CustomerEmail,
		row.Product,
		row.IssueType,
		row.Subject,
		row.Description,
		row.ResponseText,
		row.Sentiment,
		row.SentimentScoreMixed,
		row.SentimentScoreNegative,
		row.SentimentScoreNeutral,
		row.SentimentScorePositive,
		row.Priority,
		row.PriorityReasoning,
		row.ProcessedAt,
	}
}

func (r *warehouseRepository) ListRejections(ctx context.Context, limit, offset int) ([]domain.Rejection, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT object_key, cycle_id, ticket_id, reason, rejected_at
        FROM etl_rejections ORDER BY rejected_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Rejection
	for rows.Next() {
		var (
			rej      domain.Rejection
			ticketID *string
		)
		if err := rows.Scan(&rej.ObjectKey, &rej.CycleID, &ticketID, &rej.Reason, &rej.RejectedAt); err != nil {
			return nil, err
		}
		if ticketID != nil {
			rej.TicketID = *ticketID
		}
		result = append(result, rej)
	}
	return result, rows.Err()
}

func (r *warehouseRepository) CountRows(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_warehouse`).Scan(&n)
	return n, err
}
