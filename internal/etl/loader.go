package etl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/config"
	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/objectstore"
	"github.com/spec-kit/ticket-pipeline/internal/observability"
	"github.com/spec-kit/ticket-pipeline/internal/repository"
)

const leaseReleaseTimeout = 5 * time.Second

// ErrCycleInProgress is returned when another cycle holds the lease.
var ErrCycleInProgress = errors.New("etl cycle already in progress")

// CycleResult summarizes one cycle.
type CycleResult struct {
	CycleID      string            `json:"cycle_id"`
	Loaded       int               `json:"loaded"`
	Rejected     int               `json:"rejected"`
	RejectedKeys []string          `json:"rejected_keys,omitempty"`
	Unresolved   []string          `json:"unresolved_keys,omitempty"`
	Checkpoint   domain.Checkpoint `json:"checkpoint"`
}

// Loader validates processed tickets and upserts them into the warehouse.
type Loader struct {
	cfg       config.ETLConfig
	objects   objectstore.Store
	warehouse repository.WarehouseRepository
	leases    repository.LeaseRepository
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// LoaderDependencies bundles collaborators for the loader.
type LoaderDependencies struct {
	Objects   objectstore.Store
	Warehouse repository.WarehouseRepository
	Leases    repository.LeaseRepository
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewLoader constructs the loader.
func NewLoader(cfg config.ETLConfig, deps LoaderDependencies) *Loader {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		cfg:       cfg,
		objects:   deps.Objects,
		warehouse: deps.Warehouse,
		leases:    deps.Leases,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       now,
	}
}

// RunNext runs a cycle from the stored checkpoint.
func (l *Loader) RunNext(ctx context.Context) (CycleResult, error) {
	return l.run(ctx, nil)
}

// RunCycle runs a cycle over records newer than since. The stored checkpoint
// never moves backwards, so replaying an older range only re-applies upserts.
func (l *Loader) RunCycle(ctx context.Context, since domain.Checkpoint) (CycleResult, error) {
	return l.run(ctx, &since)
}

// Rejections lists recorded rejections, newest first.
func (l *Loader) Rejections(ctx context.Context, limit, offset int) ([]domain.Rejection, error) {
	return l.warehouse.ListRejections(ctx, limit, offset)
}

func (l *Loader) run(ctx context.Context, since *domain.Checkpoint) (CycleResult, error) {
	lease, ok, err := l.leases.Acquire(ctx, l.cfg.JobName, l.cfg.LeaseDuration)
	if err != nil {
		return CycleResult{}, fmt.Errorf("acquire etl lease: %w", err)
	}
	if !ok {
		return CycleResult{}, ErrCycleInProgress
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaseReleaseTimeout)
		defer cancel()
		if err := l.leases.Release(releaseCtx, lease); err != nil {
			l.logger.Warn("release etl lease", zap.Error(err))
		}
	}()

	// Work past lease expiry could overlap a successor cycle.
	cycleCtx, cancel := context.WithDeadline(ctx, lease.ExpiresAt)
	defer cancel()

	stored, err := l.warehouse.Checkpoint(cycleCtx, l.cfg.JobName)
	if err != nil {
		return CycleResult{}, fmt.Errorf("read checkpoint: %w", err)
	}
	from := stored
	if since != nil {
		from = *since
	}

	cycleID := uuid.NewString()
	result, batch, err := l.prepare(cycleCtx, cycleID, from)
	if err != nil {
		return CycleResult{}, err
	}
	batch.Job = l.cfg.JobName
	batch.CycleID = cycleID
	batch.Previous = stored
	if stored.Before(batch.Next.ModifiedAt, batch.Next.Key) {
		result.Checkpoint = batch.Next
	} else {
		batch.Next = stored
		result.Checkpoint = stored
	}

	if err := l.warehouse.Apply(cycleCtx, batch); err != nil {
		return CycleResult{}, fmt.Errorf("apply cycle %s: %w", cycleID, err)
	}

	l.metrics.Add("etl_cycles", 1)
	l.metrics.Add("etl_loaded", int64(result.Loaded))
	l.metrics.Add("etl_rejected", int64(result.Rejected))
	l.logger.Info("etl cycle complete",
		zap.String("cycle_id", cycleID),
		zap.Int("loaded", result.Loaded),
		zap.Int("rejected", result.Rejected),
		zap.Int("unresolved", len(result.Unresolved)),
		zap.Time("checkpoint_modified_at", result.Checkpoint.ModifiedAt),
		zap.String("checkpoint_key", result.Checkpoint.Key))
	return result, nil
}

// prepare reads and casts every settled object after from. batch.Next is the
// last object of the longest prefix that was loaded or rejected.
func (l *Loader) prepare(ctx context.Context, cycleID string, from domain.Checkpoint) (CycleResult, repository.LoadBatch, error) {
	result := CycleResult{CycleID: cycleID}
	batch := repository.LoadBatch{Next: from}

	listed, err := l.objects.List(ctx, l.cfg.Prefix)
	if err != nil {
		return result, batch, fmt.Errorf("list objects: %w", err)
	}
	cutoff := l.now().Add(-l.cfg.SettleDelay)
	pending := make([]objectstore.ObjectInfo, 0, len(listed))
	for _, obj := range listed {
		if !from.Before(obj.ModifiedAt, obj.Key) || obj.ModifiedAt.After(cutoff) {
			continue
		}
		pending = append(pending, obj)
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].ModifiedAt.Equal(pending[j].ModifiedAt) {
			return pending[i].ModifiedAt.Before(pending[j].ModifiedAt)
		}
		return pending[i].Key < pending[j].Key
	})

	byTicket := map[string]int{}
	advancing := true
	for _, obj := range pending {
		if err := ctx.Err(); err != nil {
			return result, batch, err
		}
		data, err := l.objects.Get(ctx, obj.Key)
		if err != nil {
			l.logger.Warn("etl read failed, checkpoint held",
				zap.String("object_key", obj.Key),
				zap.Error(err))
			result.Unresolved = append(result.Unresolved, obj.Key)
			advancing = false
			continue
		}

		row, err := CastRecord(data)
		if err != nil {
			batch.Rejections = append(batch.Rejections, domain.Rejection{
				ObjectKey:  obj.Key,
				TicketID:   row.TicketID,
				Reason:     err.Error(),
				CycleID:    cycleID,
				RejectedAt: l.now(),
			})
			result.RejectedKeys = append(result.RejectedKeys, obj.Key)
		} else if i, seen := byTicket[row.TicketID]; seen {
			batch.Rows[i] = row
		} else {
			byTicket[row.TicketID] = len(batch.Rows)
			batch.Rows = append(batch.Rows, row)
		}

		if advancing {
			batch.Next = domain.Checkpoint{ModifiedAt: obj.ModifiedAt, Key: obj.Key}
		}
	}

	result.Loaded = len(batch.Rows)
	result.Rejected = len(batch.Rejections)
	return result, batch, nil
}
