package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/events"
	"github.com/fieldlens/analysis-queue/internal/metrics"
	"github.com/fieldlens/analysis-queue/internal/processor"
	"github.com/fieldlens/analysis-queue/internal/store"
)

// finishTimeout bounds the store writes that record an attempt's outcome.
const finishTimeout = 30 * time.Second

// RunnerConfig holds configuration for the claim-and-execute loop
type RunnerConfig struct {
	// NodeID identifies this process in claims
	NodeID string

	// MaxConcurrency caps jobs in flight in this process
	MaxConcurrency int

	// PollInterval is how often the dispatcher looks for work without a wake signal
	PollInterval time.Duration

	// HeartbeatInterval is how often in-flight jobs refresh their heartbeat
	HeartbeatInterval time.Duration

	// AttemptTimeout bounds one attempt end to end
	AttemptTimeout time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with the standard settings
func DefaultRunnerConfig(nodeID string) RunnerConfig {
	return RunnerConfig{
		NodeID:            nodeID,
		MaxConcurrency:    25,
		PollInterval:      5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		AttemptTimeout:    15 * time.Minute,
	}
}

// Selector chooses the processor for a claimed job.
type Selector interface {
	Select(job *domain.Job) domain.ProcessorKind
}

// RunnerDeps are the collaborators of a Runner.
type RunnerDeps struct {
	Jobs      store.JobStore
	Artifacts store.ArtifactStore
	Registry  processor.Registry
	Selector  Selector
	Health    HealthRecorder
	Emitter   events.EventEmitter
	Policy    RetryPolicy
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Runner claims queued jobs and executes them on a bounded pool.
type Runner struct {
	jobs      store.JobStore
	artifacts store.ArtifactStore
	registry  processor.Registry
	selector  Selector
	finisher  *finisher
	pool      *WorkerPool
	config    RunnerConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	// wake has capacity one; pending signals coalesce
	wake chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	dispatch sync.WaitGroup
}

// NewRunner creates a Runner. It does nothing until Start.
func NewRunner(deps RunnerDeps, config RunnerConfig) *Runner {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = 15 * time.Minute
	}

	logger := deps.Logger.With("component", "task_runner", "node_id", config.NodeID)
	r := &Runner{
		jobs:      deps.Jobs,
		artifacts: deps.Artifacts,
		registry:  deps.Registry,
		selector:  deps.Selector,
		pool:      NewWorkerPool(config.MaxConcurrency, logger),
		config:    config,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
	r.finisher = &finisher{
		jobs:      deps.Jobs,
		artifacts: deps.Artifacts,
		health:    deps.Health,
		emitter:   deps.Emitter,
		policy:    deps.Policy,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       func() time.Time { return r.now() },
	}
	// A finished job frees a slot, which may make queued work claimable.
	r.pool.SetReleaseHandler(r.Wake)
	return r
}

// Wake asks the dispatcher to look for work. It never blocks.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start launches the dispatcher. It returns an error if called twice.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("runner already started")
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.dispatch.Add(1)
	go r.dispatchLoop()

	r.logger.Info("task runner started",
		"max_concurrency", r.pool.Size(),
		"poll_interval", r.config.PollInterval.String())
	r.Wake()
	return nil
}

// Stop halts claiming and waits for in-flight jobs. Jobs interrupted by
// shutdown are left processing for the sweep to reclaim. Safe to call more
// than once.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.cancel()
	r.mu.Unlock()

	r.dispatch.Wait()
	r.pool.Wait()
	r.logger.Info("task runner stopped")
}

// InFlight returns the number of jobs currently executing.
func (r *Runner) InFlight() int {
	return r.pool.InFlight()
}

// Capacity returns the maximum number of jobs executed concurrently.
func (r *Runner) Capacity() int {
	return r.pool.Size()
}

// NodeID returns the identity used in claims.
func (r *Runner) NodeID() string {
	return r.config.NodeID
}

func (r *Runner) dispatchLoop() {
	defer r.dispatch.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		case <-ticker.C:
		}
		r.drain()
	}
}

// drain claims jobs while slots are free and claims succeed. An empty claim
// or a store error parks the dispatcher until the next signal.
func (r *Runner) drain() {
	for {
		if !r.pool.Acquire(r.ctx) {
			return
		}

		job, err := r.jobs.ClaimNext(r.ctx, r.config.NodeID, r.now().UTC())
		if err != nil {
			r.pool.Release()
			if r.ctx.Err() == nil {
				r.metrics.ClaimErrors.Inc()
				r.logger.Error("failed to claim job, retrying on next tick", "error", err)
			}
			return
		}
		if job == nil {
			r.pool.Release()
			return
		}

		r.metrics.Claims.Inc()
		r.metrics.InFlight.Inc()
		claimed := job
		r.pool.Go(func() {
			defer r.metrics.InFlight.Dec()
			r.execute(claimed)
		}, func(perr error) {
			r.recordPanic(claimed, perr)
		})
	}
}

func (r *Runner) jobLogger(job *domain.Job) *slog.Logger {
	return r.logger.With(
		"job_id", job.ID.String(),
		"job_type", string(job.Type),
		"attempt", job.Attempts,
	)
}

// execute runs one claimed attempt to an outcome.
func (r *Runner) execute(job *domain.Job) {
	kind := r.selector.Select(job)
	log := r.jobLogger(job).With("processor", string(kind))
	fence := fenceOf(job)

	attemptCtx, cancel := context.WithTimeout(r.ctx, r.config.AttemptTimeout)
	defer cancel()

	stopHeartbeat := r.startHeartbeat(attemptCtx, cancel, fence, log)
	defer stopHeartbeat()

	log.InfoContext(attemptCtx, "processing job")

	if err := r.jobs.Assign(attemptCtx, fence, kind); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			r.metrics.ClaimLost.Inc()
			log.WarnContext(attemptCtx, "claim lost before processing started")
			return
		}
		log.WarnContext(attemptCtx, "failed to record selected processor", "error", err)
	}
	job.Processor = kind

	if err := r.artifacts.MarkProcessing(attemptCtx, job.SubjectID); err != nil {
		log.WarnContext(attemptCtx, "failed to mark artifact processing", "error", err)
	}

	result, procErr := r.process(attemptCtx, job, kind)

	if procErr != nil && r.ctx.Err() != nil {
		log.Warn("shutdown interrupted job, leaving it for recovery", "error", procErr)
		return
	}

	// Record the outcome even if the attempt context has expired.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(attemptCtx), finishTimeout)
	defer finishCancel()

	if procErr == nil {
		r.metrics.Attempts.WithLabelValues(string(kind), "success").Inc()
		_ = r.finisher.succeed(finishCtx, job, *result, kind, log)
		return
	}

	r.metrics.Attempts.WithLabelValues(string(kind), "failure").Inc()
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	if timedOut {
		procErr = fmt.Errorf("%w: %w", ErrAttemptTimeout, procErr)
	}
	if err := r.finisher.fail(finishCtx, job, kind, procErr, timedOut, log); err != nil && !errors.Is(err, store.ErrClaimLost) {
		log.Error("failed to record attempt failure", "error", err)
	}
}

func (r *Runner) process(ctx context.Context, job *domain.Job, kind domain.ProcessorKind) (*domain.Result, error) {
	adapter, err := r.registry.Get(kind)
	if err != nil {
		return nil, err
	}

	artifact, err := r.artifacts.Get(ctx, job.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}

	start := time.Now()
	result, err := adapter.Process(ctx, job, artifact)
	r.metrics.Duration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if result == nil || !result.Success {
		return nil, &processor.AdapterError{
			Processor: kind,
			Op:        "process",
			Err:       errors.New("processor reported an unsuccessful result"),
		}
	}
	return result, nil
}

// startHeartbeat refreshes the job's heartbeat until the returned stop
// function is called. Losing the claim cancels the attempt.
func (r *Runner) startHeartbeat(ctx context.Context, cancelAttempt context.CancelFunc, fence store.Fence, log *slog.Logger) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := r.jobs.Heartbeat(ctx, fence, r.now().UTC())
				switch {
				case err == nil:
				case errors.Is(err, store.ErrClaimLost):
					log.WarnContext(ctx, "claim lost during processing, cancelling attempt")
					cancelAttempt()
					return
				default:
					log.WarnContext(ctx, "heartbeat failed", "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// recordPanic routes a panicking attempt through the failure path.
func (r *Runner) recordPanic(job *domain.Job, perr error) {
	log := r.jobLogger(job)
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	kind := job.Processor
	if kind == "" {
		kind = r.selector.Select(job)
	}
	if err := r.finisher.fail(ctx, job, kind, perr, false, log); err != nil && !errors.Is(err, store.ErrClaimLost) {
		log.Error("failed to record panicked attempt", "error", err)
	}
}
