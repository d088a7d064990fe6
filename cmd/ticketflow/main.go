package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	segkafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/ticket-pipeline/internal/api/http"
	"github.com/spec-kit/ticket-pipeline/internal/api/http/handlers"
	"github.com/spec-kit/ticket-pipeline/internal/auth"
	"github.com/spec-kit/ticket-pipeline/internal/clients"
	"github.com/spec-kit/ticket-pipeline/internal/config"
	"github.com/spec-kit/ticket-pipeline/internal/etl"
	"github.com/spec-kit/ticket-pipeline/internal/events"
	"github.com/spec-kit/ticket-pipeline/internal/kafka"
	"github.com/spec-kit/ticket-pipeline/internal/objectstore"
	"github.com/spec-kit/ticket-pipeline/internal/observability"
	"github.com/spec-kit/ticket-pipeline/internal/persistence"
	"github.com/spec-kit/ticket-pipeline/internal/repository"
	"github.com/spec-kit/ticket-pipeline/internal/service"
	"github.com/spec-kit/ticket-pipeline/internal/worker"
)

const (
	alertErrorBuffer = 256
	shutdownTimeout  = 15 * time.Second
)

func main() {
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("ticketflow stopped with error", zap.Error(err))
	}
	logger.Info("ticketflow stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			return err
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	objects, err := objectstore.Open(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}

	classifier, err := clients.NewClassificationClient(cfg.Services.ClassificationURL, clients.WithLogger(logger))
	if err != nil {
		return err
	}
	generator, err := clients.NewGenerationClient(cfg.Services.GenerationURL, clients.WithLogger(logger))
	if err != nil {
		return err
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic, cfg.Kafka.FailuresTopic, logger)
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Warn("closing kafka producer", zap.Error(err))
		}
	}()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	notifications := service.NewNotificationService(dispatcher, producer, cfg.Workflow.AlertTimeout, logger, metrics)
	worker.StartNotificationWorker(notifications)

	escalator := service.NewEscalator(producer, cfg.Workflow.AlertTimeout, alertErrorBuffer, logger, metrics)

	pool := pg.PoolHandle()
	workflowRepo := repository.NewWorkflowRepository(pool)
	warehouseRepo := repository.NewWarehouseRepository(pool)
	metadataRepo := repository.NewMetadataRepository(redis.Client)
	leaseRepo := repository.NewLeaseRepository(redis.Client)

	orchestrator := service.NewOrchestrator(cfg.Workflow, service.OrchestratorDependencies{
		Workflows:  workflowRepo,
		Metadata:   metadataRepo,
		Objects:    objects,
		Classifier: classifier,
		Generator:  generator,
		Escalator:  escalator,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})

	var reader *segkafka.Reader
	if cfg.Kafka.IngressTopic != "" {
		reader, err = kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.IngressTopic,
			GroupID: cfg.Kafka.ConsumerGroup,
		})
		if err != nil {
			return err
		}
		defer reader.Close() //nolint:errcheck
	}

	g, gctx := errgroup.WithContext(ctx)

	runner := worker.NewRunner(gctx, orchestrator, cfg.Workflow.Concurrency, logger)
	defer runner.Wait()

	loader := etl.NewLoader(cfg.ETL, etl.LoaderDependencies{
		Objects:   objects,
		Warehouse: warehouseRepo,
		Leases:    leaseRepo,
		Metrics:   metrics,
		Logger:    logger,
	})

	authService := service.NewAuthService(cfg.Auth, logger)
	app := newHTTPApp(cfg, logger, metrics, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Events:         handlers.NewEventsHandler(orchestrator, runner, logger),
		Auth:           handlers.NewAuthHandler(authService),
		Workflows:      handlers.NewWorkflowsHandler(orchestrator, runner, logger),
		ETL:            handlers.NewETLHandler(loader),
		Metrics:        handlers.NewMetricsHandler(metrics),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager()),
	})

	g.Go(func() error {
		return worker.DrainAlertErrors(gctx, escalator.Errors(), logger, metrics)
	})

	g.Go(func() error {
		n, err := worker.RecoverInFlight(gctx, orchestrator, orchestrator, cfg.Workflow.Concurrency, logger)
		if err != nil && gctx.Err() == nil {
			logger.Error("recovery sweep failed", zap.Error(err))
			return nil
		}
		logger.Info("recovery sweep finished", zap.Int("resumed", n))
		return nil
	})

	if cfg.Workflow.RecoveryInterval > 0 {
		sweeper := worker.NewRecoverySweeper(orchestrator, orchestrator, cfg.Workflow.RecoveryInterval, cfg.Workflow.StallAfter, cfg.Workflow.Concurrency, logger, metrics)
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}

	if reader != nil {
		ingress := worker.NewIngressWorker(reader, orchestrator, runner, logger, metrics)
		g.Go(func() error {
			return ingress.Run(gctx)
		})
	}

	if cfg.ETL.Enabled {
		scheduler := etl.NewScheduler(loader, cfg.ETL.Interval, logger)
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newHTTPApp(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, routes httptransport.RouteConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
		BodyLimit:             2 * 1024 * 1024,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, routes)
	return app
}
