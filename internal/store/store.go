package store

import (
	"context"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/google/uuid"
)

// Fence identifies the claim a post-claim mutation belongs to. Updates apply
// only while the job is still processing under the same node and attempt.
type Fence struct {
	JobID   uuid.UUID
	NodeID  string
	Attempt int
}

// RequeueUpdate describes a retryable failure.
type RequeueUpdate struct {
	Error       domain.ErrorEntry
	Processor   domain.ProcessorKind
	Priority    int
	NextRetryAt time.Time
}

// FailUpdate describes a terminal failure. Status is failed or timed_out.
type FailUpdate struct {
	Status    domain.JobStatus
	Error     domain.ErrorEntry
	Processor domain.ProcessorKind
}

// JobStore is the durable record of analysis jobs. Every mutation is a single
// atomic conditional update; no read-then-write sequences are used.
type JobStore interface {
	// Create persists a new queued job.
	Create(ctx context.Context, job *domain.Job) error

	// Get returns the job with the given ID or ErrJobNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ClaimNext atomically moves the highest-priority, oldest-queued,
	// retry-eligible job to processing under nodeID, incrementing attempts
	// and stamping processing start and heartbeat. The processor is cleared
	// until Assign records this attempt's choice. Returns (nil, nil) when
	// nothing is claimable.
	ClaimNext(ctx context.Context, nodeID string, now time.Time) (*domain.Job, error)

	// Assign records the processor selected for the current attempt.
	Assign(ctx context.Context, fence Fence, processor domain.ProcessorKind) error

	// Heartbeat refreshes the last-heartbeat time of a claimed job.
	Heartbeat(ctx context.Context, fence Fence, now time.Time) error

	// Complete records a terminal success.
	Complete(ctx context.Context, fence Fence, result domain.Result, processor domain.ProcessorKind, now time.Time) error

	// Requeue returns a failed attempt to the queue with backoff.
	Requeue(ctx context.Context, fence Fence, update RequeueUpdate, now time.Time) error

	// Fail records a terminal failure.
	Fail(ctx context.Context, fence Fence, update FailUpdate, now time.Time) error

	// ReclaimStale resets a processing job whose heartbeat is older than
	// heartbeatBefore to queued with newPriority, leaving attempts and error
	// history untouched. Returns false if the job no longer qualifies.
	ReclaimStale(ctx context.Context, id uuid.UUID, heartbeatBefore time.Time, newPriority int, now time.Time) (bool, error)

	// ListStale lists processing jobs whose heartbeat is older than heartbeatBefore.
	ListStale(ctx context.Context, heartbeatBefore time.Time, limit int) ([]*domain.Job, error)

	// ListOverdue lists processing jobs that started before startedBefore.
	ListOverdue(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.Job, error)

	// CountByStatus returns the number of jobs in each status.
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	// ListBySubject lists every job recorded for an artifact, newest first.
	ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*domain.Job, error)

	// ListByTenant lists an organisation's jobs, newest first.
	ListByTenant(ctx context.Context, orgID string, limit int) ([]*domain.Job, error)
}

// ArtifactStore writes analysis state onto subject artifacts. The engine
// calls MarkQueued once per enqueue and exactly one terminal method per
// job lifecycle.
type ArtifactStore interface {
	// Get returns the artifact read view used by adapters.
	Get(ctx context.Context, id uuid.UUID) (*domain.Artifact, error)

	// MarkQueued associates jobID and increments the artifact's attempt counter.
	MarkQueued(ctx context.Context, id uuid.UUID, jobID uuid.UUID) error

	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, result domain.Result, processor domain.ProcessorKind) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	MarkTimedOut(ctx context.Context, id uuid.UUID) error
}
