package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/events"
	"github.com/fieldlens/analysis-queue/internal/metrics"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/google/uuid"
)

// SweepConfig tunes one recovery pass.
type SweepConfig struct {
	// StaleAfter is the heartbeat age after which a worker is presumed dead
	StaleAfter time.Duration

	// TimeoutAfter is the processing age after which an attempt is overdue
	TimeoutAfter time.Duration

	// BatchSize caps the jobs examined per scan
	BatchSize int
}

// DefaultSweepConfig returns the standard thresholds.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		StaleAfter:   5 * time.Minute,
		TimeoutAfter: 15 * time.Minute,
		BatchSize:    100,
	}
}

// SweepReport summarises one pass.
type SweepReport struct {
	// Overdue jobs routed through the failure path
	Overdue []uuid.UUID `json:"overdue"`

	// Reclaimed stale jobs returned to the queue
	Reclaimed []uuid.UUID `json:"reclaimed"`

	// Skipped jobs whose state changed between scan and update
	Skipped int `json:"skipped"`

	Errors int `json:"errors"`
}

// SweeperDeps are the collaborators of a Sweeper.
type SweeperDeps struct {
	Jobs      store.JobStore
	Artifacts store.ArtifactStore
	Health    HealthRecorder
	Emitter   events.EventEmitter
	Policy    RetryPolicy
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Sweeper repairs jobs abandoned by crashed or stuck workers.
type Sweeper struct {
	jobs     store.JobStore
	finisher *finisher
	policy   RetryPolicy
	config   SweepConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(deps SweeperDeps, config SweepConfig) *Sweeper {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	logger := deps.Logger.With("component", "sweeper")
	s := &Sweeper{
		jobs:    deps.Jobs,
		policy:  deps.Policy,
		config:  config,
		metrics: deps.Metrics,
		logger:  logger,
		now:     time.Now,
	}
	s.finisher = &finisher{
		jobs:      deps.Jobs,
		artifacts: deps.Artifacts,
		health:    deps.Health,
		emitter:   deps.Emitter,
		policy:    deps.Policy,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       func() time.Time { return s.now() },
	}
	return s
}

// Sweep runs one pass: overdue attempts first, then stale heartbeats.
// Every update is conditional, so a job that changed after the scan is
// skipped rather than overwritten.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now().UTC()

	overdueErr := s.sweepOverdue(ctx, now, &report)
	staleErr := s.sweepStale(ctx, now, &report)

	err := errors.Join(overdueErr, staleErr)
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.SweepRuns.WithLabelValues(result).Inc()

	if len(report.Overdue) > 0 || len(report.Reclaimed) > 0 || report.Errors > 0 {
		s.logger.InfoContext(ctx, "sweep completed",
			"overdue", len(report.Overdue),
			"reclaimed", len(report.Reclaimed),
			"skipped", report.Skipped,
			"errors", report.Errors)
	}
	return report, err
}

func (s *Sweeper) sweepOverdue(ctx context.Context, now time.Time, report *SweepReport) error {
	cutoff := now.Add(-s.config.TimeoutAfter)
	jobs, err := s.jobs.ListOverdue(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list overdue jobs", "error", err)
		return fmt.Errorf("list overdue jobs: %w", err)
	}

	for _, job := range jobs {
		log := s.logger.With(
			"job_id", job.ID.String(),
			"attempt", job.Attempts,
			"claimed_by", job.ClaimedBy)

		cause := fmt.Errorf("%w: processing started at %s", ErrAttemptTimeout, job.ProcessingStartedAt.UTC().Format(time.RFC3339))
		err := s.finisher.fail(ctx, job, job.Processor, cause, true, log)
		switch {
		case err == nil:
			report.Overdue = append(report.Overdue, job.ID)
			s.metrics.SweepTimeouts.Inc()
		case errors.Is(err, store.ErrClaimLost), errors.Is(err, store.ErrNotFound):
			report.Skipped++
		default:
			report.Errors++
			log.ErrorContext(ctx, "failed to time out overdue job", "error", err)
		}
	}
	return nil
}

func (s *Sweeper) sweepStale(ctx context.Context, now time.Time, report *SweepReport) error {
	cutoff := now.Add(-s.config.StaleAfter)
	jobs, err := s.jobs.ListStale(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list stale jobs", "error", err)
		return fmt.Errorf("list stale jobs: %w", err)
	}

	for _, job := range jobs {
		ok, err := s.jobs.ReclaimStale(ctx, job.ID, cutoff, s.policy.Boost(job.Priority), now)
		switch {
		case err != nil:
			report.Errors++
			s.logger.ErrorContext(ctx, "failed to reclaim stale job", "job_id", job.ID.String(), "error", err)
		case !ok:
			report.Skipped++
		default:
			report.Reclaimed = append(report.Reclaimed, job.ID)
			s.metrics.SweepReclaims.Inc()
			s.logger.WarnContext(ctx, "reclaimed job from unresponsive worker",
				"job_id", job.ID.String(),
				"claimed_by", job.ClaimedBy,
				"last_heartbeat", job.LastHeartbeat)
		}
	}
	return nil
}

// Stalled lists processing jobs the next sweep would act on.
func (s *Sweeper) Stalled(ctx context.Context) (stale, overdue []*domain.Job, err error) {
	now := s.now().UTC()
	overdue, err = s.jobs.ListOverdue(ctx, now.Add(-s.config.TimeoutAfter), s.config.BatchSize)
	if err != nil {
		return nil, nil, err
	}
	stale, err = s.jobs.ListStale(ctx, now.Add(-s.config.StaleAfter), s.config.BatchSize)
	if err != nil {
		return nil, nil, err
	}
	return stale, overdue, nil
}
