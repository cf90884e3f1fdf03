package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/events"
	"github.com/fieldlens/analysis-queue/internal/metrics"
	"github.com/fieldlens/analysis-queue/internal/processor"
	"github.com/fieldlens/analysis-queue/internal/redact"
	"github.com/fieldlens/analysis-queue/internal/store"
)

// ErrAttemptTimeout marks an attempt that exceeded the processing ceiling.
var ErrAttemptTimeout = errors.New("attempt exceeded processing timeout")

// HealthRecorder receives remote success and failure signals.
type HealthRecorder interface {
	RecordSuccess()
	RecordFailure()
}

// finisher applies the outcome of an attempt. The runner and the sweep
// share it so both paths honour the same retry policy.
type finisher struct {
	jobs      store.JobStore
	artifacts store.ArtifactStore
	health    HealthRecorder
	emitter   events.EventEmitter
	policy    RetryPolicy
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func fenceOf(job *domain.Job) store.Fence {
	return store.Fence{JobID: job.ID, NodeID: job.ClaimedBy, Attempt: job.Attempts}
}

// succeed records a terminal success. Returns store.ErrClaimLost when the
// job was taken over in the meantime.
func (f *finisher) succeed(
	ctx context.Context,
	job *domain.Job,
	result domain.Result,
	kind domain.ProcessorKind,
	log *slog.Logger,
) error {
	now := f.now().UTC()
	if job.ProcessingStartedAt != nil {
		result.DurationMs = now.Sub(*job.ProcessingStartedAt).Milliseconds()
	}
	result.Success = true

	if kind == domain.ProcessorRemote {
		f.health.RecordSuccess()
	}

	if err := f.jobs.Complete(ctx, fenceOf(job), result, kind, now); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			f.metrics.ClaimLost.Inc()
			log.WarnContext(ctx, "claim lost before completion, dropping result")
		}
		return err
	}

	if err := f.artifacts.MarkCompleted(ctx, job.SubjectID, result, kind); err != nil {
		log.ErrorContext(ctx, "failed to update artifact after completion", "error", err)
	}

	done := job.Clone()
	done.Status = domain.JobStatusCompleted
	done.Processor = kind
	done.CompletedAt = &now
	done.Result = &result
	f.emit(ctx, done, &result, now, log)

	log.InfoContext(ctx, "job completed",
		"item_count", result.ItemCount,
		"box_count", result.BoxCount,
		"duration_ms", result.DurationMs)
	return nil
}

// fail appends the error and either requeues the job with backoff or ends
// it. timedOut selects timed_out over failed as the terminal status. A remote
// failure counts against remote health only once the fenced write lands, so
// attempts cancelled by a lost claim never trip the breaker.
func (f *finisher) fail(
	ctx context.Context,
	job *domain.Job,
	kind domain.ProcessorKind,
	cause error,
	timedOut bool,
	log *slog.Logger,
) error {
	now := f.now().UTC()
	remoteFailure := processor.IsRemoteFailure(cause)

	entry := domain.ErrorEntry{
		At:        now,
		Processor: kind,
		Message:   redact.Error(cause),
		Attempt:   job.Attempts,
	}

	if f.policy.Eligible(job.Attempts, job.MaxAttempts) {
		update := store.RequeueUpdate{
			Error:       entry,
			Processor:   kind,
			Priority:    f.policy.Boost(job.Priority),
			NextRetryAt: now.Add(f.policy.Delay(job.Attempts)),
		}
		if err := f.jobs.Requeue(ctx, fenceOf(job), update, now); err != nil {
			return f.lost(ctx, err, log)
		}
		if remoteFailure {
			f.health.RecordFailure()
		}
		log.WarnContext(ctx, "attempt failed, job requeued",
			"error", cause,
			"next_retry_at", update.NextRetryAt,
			"priority", update.Priority)
		return nil
	}

	status := domain.JobStatusFailed
	if timedOut {
		status = domain.JobStatusTimedOut
	}
	update := store.FailUpdate{Status: status, Error: entry, Processor: kind}
	if err := f.jobs.Fail(ctx, fenceOf(job), update, now); err != nil {
		return f.lost(ctx, err, log)
	}
	if remoteFailure {
		f.health.RecordFailure()
	}

	var err error
	if timedOut {
		err = f.artifacts.MarkTimedOut(ctx, job.SubjectID)
	} else {
		err = f.artifacts.MarkFailed(ctx, job.SubjectID, entry.Message)
	}
	if err != nil {
		log.ErrorContext(ctx, "failed to update artifact after terminal failure", "error", err)
	}

	done := job.Clone()
	done.Status = status
	done.Processor = kind
	done.CompletedAt = &now
	done.Errors = append(done.Errors, entry)
	f.emit(ctx, done, nil, now, log)

	log.ErrorContext(ctx, "job failed permanently",
		"status", string(status),
		"error", cause)
	return nil
}

func (f *finisher) lost(ctx context.Context, err error, log *slog.Logger) error {
	if errors.Is(err, store.ErrClaimLost) {
		f.metrics.ClaimLost.Inc()
		log.WarnContext(ctx, "claim lost before failure could be recorded, dropping outcome")
	}
	return err
}

// emit publishes the terminal outcome. Handler errors never reach the caller.
func (f *finisher) emit(ctx context.Context, job *domain.Job, result *domain.Result, at time.Time, log *slog.Logger) {
	if f.emitter == nil {
		return
	}
	if err := f.emitter.EmitEvent(ctx, events.NewCompletionEvent(job, result, at)); err != nil {
		log.WarnContext(ctx, "completion event handler failed", "error", err)
	}
}
