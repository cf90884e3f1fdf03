package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/fieldlens/analysis-queue/internal/api"
	"github.com/fieldlens/analysis-queue/internal/config"
	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/events"
	"github.com/fieldlens/analysis-queue/internal/metrics"
	"github.com/fieldlens/analysis-queue/internal/notify"
	"github.com/fieldlens/analysis-queue/internal/platform/gemini"
	"github.com/fieldlens/analysis-queue/internal/platform/mongo"
	"github.com/fieldlens/analysis-queue/internal/platform/postgres"
	"github.com/fieldlens/analysis-queue/internal/processor"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/fieldlens/analysis-queue/internal/task"
)

// application holds the node's components and the order they shut down in.
type application struct {
	config *config.Config
	logger *slog.Logger

	jobs      store.JobStore
	artifacts store.ArtifactStore
	metrics   *metrics.Metrics
	health    *processor.HealthMonitor
	emitter   *events.InMemoryEventEmitter

	service   *task.Service
	runner    *task.Runner
	sweeper   *task.Sweeper
	scheduler *task.Scheduler
	router    http.Handler

	closers []func() error
}

// dependencies are the external resources an application is assembled from.
type dependencies struct {
	jobs      store.JobStore
	artifacts store.ArtifactStore
	generator gemini.ContentGenerator
	guard     notify.Guard
	client    *http.Client
	closers   []func() error
}

// newApplication connects to the configured store, Gemini and Redis, then
// assembles the node. Nothing runs until start.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	var deps dependencies
	fail := func(err error) (*application, error) {
		runClosers(deps.closers, logger)
		return nil, err
	}

	var err error
	deps.jobs, deps.artifacts, err = openStores(ctx, cfg, logger, &deps.closers)
	if err != nil {
		return fail(err)
	}

	deps.generator, err = gemini.NewClient(ctx, cfg.Gemini.APIKey)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize Gemini client: %w", err))
	}

	deps.guard, err = newGuard(ctx, cfg, &deps.closers)
	if err != nil {
		return fail(err)
	}

	deps.client = &http.Client{}
	return assemble(cfg, logger, deps)
}

// openStores opens the job and artifact stores for cfg.Store.Driver and
// registers their cleanup.
func openStores(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	closers *[]func() error,
) (store.JobStore, store.ArtifactStore, error) {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolOptions{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, db.Close)
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			return nil, nil, err
		}
		return postgres.NewPostgresJobStore(db, logger), postgres.NewPostgresArtifactStore(db, logger), nil

	case "mongo":
		client, err := mongo.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, func() error { return mongo.Disconnect(client) })
		db := client.Database(cfg.Mongo.Database)
		if err := mongo.EnsureIndexes(ctx, db, logger); err != nil {
			return nil, nil, err
		}
		return mongo.NewMongoJobStore(db, logger), mongo.NewMongoArtifactStore(db, logger), nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// newGuard returns the Redis dedupe guard when redis.url is set and the
// in-memory guard otherwise.
func newGuard(ctx context.Context, cfg *config.Config, closers *[]func() error) (notify.Guard, error) {
	if cfg.Redis.URL == "" {
		return notify.NewMemoryGuard(cfg.Notify.DedupeTTL), nil
	}
	guard, err := notify.NewRedisGuard(cfg.Redis.URL, cfg.Notify.DedupeTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize notification guard: %w", err)
	}
	*closers = append(*closers, guard.Close)
	if err := guard.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return guard, nil
}

// assemble wires the engine from already-opened dependencies.
func assemble(cfg *config.Config, logger *slog.Logger, deps dependencies) (*application, error) {
	app := &application{
		config:    cfg,
		logger:    logger,
		jobs:      deps.jobs,
		artifacts: deps.artifacts,
		metrics:   metrics.New(),
		closers:   deps.closers,
	}

	app.health = processor.NewHealthMonitor(logger, cfg.Health.FailureThreshold, cfg.Health.Cooldown)
	app.metrics.RegisterHealth(app.health)

	registry, err := buildRegistry(cfg, logger, deps.client, deps.generator)
	if err != nil {
		runClosers(app.closers, logger)
		return nil, err
	}

	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(app.metrics)
	if cfg.Notify.WebhookURL != "" {
		// Delivery runs detached so a slow listener never holds a worker slot.
		webhook := events.NewAsyncHandler(notify.NewWebhookNotifier(
			logger,
			cfg.Notify.WebhookURL,
			cfg.Notify.Timeout,
			deps.guard,
			app.metrics.ObserveNotification,
		), logger)
		app.emitter.RegisterHandler(webhook)
		app.closers = append(app.closers, webhook.Close)
	}

	policy := task.RetryPolicy{
		MaxAttempts:   cfg.Engine.MaxAttempts,
		BaseDelay:     cfg.Engine.BackoffBase,
		PriorityBoost: cfg.Engine.PriorityBoost,
		PriorityCap:   cfg.Engine.PriorityCap,
	}

	app.runner = task.NewRunner(task.RunnerDeps{
		Jobs:      app.jobs,
		Artifacts: app.artifacts,
		Registry:  registry,
		Selector:  processor.NewSelector(app.health),
		Health:    app.health,
		Emitter:   app.emitter,
		Policy:    policy,
		Metrics:   app.metrics,
		Logger:    logger,
	}, task.RunnerConfig{
		NodeID:            resolveNodeID(cfg.Server.NodeID),
		MaxConcurrency:    cfg.Engine.MaxConcurrency,
		PollInterval:      cfg.Engine.PollInterval,
		HeartbeatInterval: cfg.Engine.HeartbeatInterval,
		AttemptTimeout:    cfg.Engine.AttemptTimeout,
	})

	app.sweeper = task.NewSweeper(task.SweeperDeps{
		Jobs:      app.jobs,
		Artifacts: app.artifacts,
		Health:    app.health,
		Emitter:   app.emitter,
		Policy:    policy,
		Metrics:   app.metrics,
		Logger:    logger,
	}, task.SweepConfig{
		StaleAfter:   cfg.Sweep.StaleAfter,
		TimeoutAfter: cfg.Sweep.TimeoutAfter,
		BatchSize:    cfg.Sweep.BatchSize,
	})
	app.scheduler = task.NewScheduler(app.sweeper.Sweep, cfg.Sweep.Interval, cfg.Sweep.InitialDelay, logger)

	app.service = task.NewService(app.jobs, app.artifacts, app.runner, cfg.Engine.MaxAttempts, app.metrics, logger)

	ops := api.NewOpsHandler(app.jobs, app.sweeper, app.health, app.runner, logger)
	app.router = api.NewRouter(ops, app.metrics.Handler(), logger)

	return app, nil
}

// buildRegistry creates the remote adapter and the two Gemini-backed local
// adapters. The secondary uses the lighter model and the reduced prompt.
func buildRegistry(
	cfg *config.Config,
	logger *slog.Logger,
	client *http.Client,
	generator gemini.ContentGenerator,
) (processor.Registry, error) {
	if client == nil {
		client = &http.Client{}
	}
	fetcher := processor.NewHTTPFetcher(client)

	remote := processor.NewRemoteAdapter(logger, client, fetcher, processor.RemoteOptions{
		Endpoint:            cfg.Remote.Endpoint,
		LargeThresholdBytes: cfg.Remote.LargeThresholdBytes,
		SmallTimeout:        cfg.Remote.SmallTimeout,
		LargeTimeout:        cfg.Remote.LargeTimeout,
	})

	primary, err := gemini.NewVisionAnalyzer(logger, generator, gemini.Options{
		Model:      cfg.Gemini.PrimaryModel,
		Strategy:   gemini.StrategyFull,
		MaxRetries: cfg.Gemini.MaxRetries,
		RetryDelay: cfg.Gemini.RetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create primary analyzer: %w", err)
	}
	secondary, err := gemini.NewVisionAnalyzer(logger, generator, gemini.Options{
		Model:      cfg.Gemini.SecondaryModel,
		Strategy:   gemini.StrategyReduced,
		MaxRetries: cfg.Gemini.MaxRetries,
		RetryDelay: cfg.Gemini.RetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create secondary analyzer: %w", err)
	}

	return processor.NewRegistry(
		remote,
		processor.NewLocalAdapter(domain.ProcessorLocalPrimary, logger, primary, fetcher),
		processor.NewLocalAdapter(domain.ProcessorLocalSecondary, logger, secondary, fetcher),
	)
}

// resolveNodeID returns configured, or hostname-pid when it is empty.
func resolveNodeID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// start launches the claim loop and the sweep scheduler.
func (app *application) start(ctx context.Context) error {
	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	app.scheduler.Start()
	app.logger.Info("analysis node started", "node_id", app.runner.NodeID())
	return nil
}

// stop halts the scheduler and drains the runner. In-flight jobs cut short
// by shutdown stay processing until a sweep reclaims them.
func (app *application) stop() {
	app.scheduler.Stop()
	app.runner.Stop()
}

// close stops the engine and releases external resources.
func (app *application) close() {
	app.stop()
	runClosers(app.closers, app.logger)
	app.closers = nil
}

func runClosers(closers []func() error, logger *slog.Logger) {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("failed to release resources", "error", err)
	}
}
