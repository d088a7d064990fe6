package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/config"
	"github.com/spec-kit/ticket-pipeline/internal/domain"
	"github.com/spec-kit/ticket-pipeline/internal/etl"
	"github.com/spec-kit/ticket-pipeline/internal/objectstore"
	"github.com/spec-kit/ticket-pipeline/internal/observability"
	"github.com/spec-kit/ticket-pipeline/internal/persistence"
	"github.com/spec-kit/ticket-pipeline/internal/repository"
)

func main() {
	since := flag.String("since", "", "replay objects modified after this RFC3339 time instead of the stored checkpoint")
	sinceKey := flag.String("since-key", "", "object key tie-breaker for -since")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var from *domain.Checkpoint
	if *since != "" {
		at, err := time.Parse(time.RFC3339Nano, *since)
		if err != nil {
			logger.Fatal("invalid -since", zap.Error(err))
		}
		from = &domain.Checkpoint{ModifiedAt: at.UTC(), Key: *sinceKey}
	}

	code := run(ctx, cfg, logger, from)
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, from *domain.Checkpoint) int {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect postgres", zap.Error(err))
		return 1
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Error("failed to run migrations", zap.Error(err))
			return 1
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	objects, err := objectstore.Open(ctx, cfg.ObjectStore)
	if err != nil {
		logger.Error("failed to open object store", zap.Error(err))
		return 1
	}

	metrics := observability.NewMetrics()
	loader := etl.NewLoader(cfg.ETL, etl.LoaderDependencies{
		Objects:   objects,
		Warehouse: repository.NewWarehouseRepository(pg.PoolHandle()),
		Leases:    repository.NewLeaseRepository(redis.Client),
		Metrics:   metrics,
		Logger:    logger,
	})

	var result etl.CycleResult
	if from != nil {
		result, err = loader.RunCycle(ctx, *from)
	} else {
		result, err = loader.RunNext(ctx)
	}
	switch {
	case errors.Is(err, etl.ErrCycleInProgress):
		logger.Info("etl cycle skipped: another cycle holds the lease")
		return 0
	case err != nil:
		logger.Error("etl cycle failed", zap.Error(err))
		return 1
	}

	logger.Info("etl cycle finished",
		zap.String("cycle_id", result.CycleID),
		zap.Int("loaded", result.Loaded),
		zap.Int("rejected", result.Rejected),
		zap.Strings("unresolved", result.Unresolved),
		zap.Time("checkpoint_modified_at", result.Checkpoint.ModifiedAt),
		zap.String("checkpoint_key", result.Checkpoint.Key))
	if len(result.Unresolved) > 0 {
		return 2
	}
	return 0
}
