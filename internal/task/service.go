package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/metrics"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/google/uuid"
)

// EnqueueRequest describes new analysis work.
type EnqueueRequest struct {
	Type      domain.WorkType
	SubjectID uuid.UUID
	Tenant    domain.TenantContext
	// SizeHint is the payload size in bytes, or 0 if unknown.
	SizeHint int64
	// ExplicitProcessor, when set, asks for a specific backend.
	ExplicitProcessor domain.ProcessorKind
	Source            string
}

// Waker is notified when new work may be claimable.
type Waker interface {
	Wake()
}

// Service is the entry point collaborators use to submit jobs.
type Service struct {
	jobs        store.JobStore
	artifacts   store.ArtifactStore
	waker       Waker
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a Service. waker may be nil when no runner shares the process.
func NewService(
	jobs store.JobStore,
	artifacts store.ArtifactStore,
	waker Waker,
	maxAttempts int,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		jobs:        jobs,
		artifacts:   artifacts,
		waker:       waker,
		maxAttempts: maxAttempts,
		metrics:     m,
		logger:      logger.With("component", "task_service"),
		now:         time.Now,
	}
}

// Enqueue persists a queued job, marks the artifact queued and wakes the
// local runner. The returned id is valid as soon as Enqueue returns; the
// work itself happens asynchronously.
//
// Validation failures wrap domain.ErrInvalidJob. Store failures are
// *store.PersistenceError values.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	job, err := domain.NewJob(
		req.Type,
		req.SubjectID,
		req.Tenant,
		req.SizeHint,
		req.ExplicitProcessor,
		s.maxAttempts,
		s.now(),
	)
	if err != nil {
		return uuid.Nil, err
	}
	job.Metadata.Source = req.Source

	if err := s.jobs.Create(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist job",
			"subject_id", req.SubjectID.String(),
			"error", err)
		return uuid.Nil, fmt.Errorf("failed to enqueue job: %w", store.NewPersistenceError("create job", err))
	}

	if err := s.artifacts.MarkQueued(ctx, job.SubjectID, job.ID); err != nil {
		s.logger.ErrorContext(ctx, "job persisted but artifact not marked queued",
			"job_id", job.ID.String(),
			"subject_id", job.SubjectID.String(),
			"error", err)
		return job.ID, fmt.Errorf("failed to mark artifact queued: %w", store.NewPersistenceError("mark artifact queued", err))
	}

	s.metrics.Enqueued.WithLabelValues(string(job.Type)).Inc()
	s.logger.InfoContext(ctx, "job enqueued",
		"job_id", job.ID.String(),
		"job_type", string(job.Type),
		"subject_id", job.SubjectID.String(),
		"priority", job.Priority)

	if s.waker != nil {
		s.waker.Wake()
	}
	return job.ID, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.jobs.Get(ctx, id)
}
