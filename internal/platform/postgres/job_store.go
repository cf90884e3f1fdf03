package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/platform/logger"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/google/uuid"
)

// jobColumns is the column list every job query selects, in scanJob order.
const jobColumns = `id, type, subject_id, project_id, user_id, org_id, status, processor,
	priority, attempts, max_attempts, created_at, queued_at, processing_started_at,
	completed_at, last_heartbeat, next_retry_at, claimed_by, errors, result, metadata`

// fenceClause restricts an update to the caller's claim.
const fenceClause = `id = $1 AND status = 'processing' AND claimed_by = $2 AND attempts = $3`

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// Create implements store.JobStore.Create
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return err
	}

	errs, err := json.Marshal(nonNilErrors(job.Errors))
	if err != nil {
		return fmt.Errorf("failed to encode job errors: %w", err)
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode job metadata: %w", err)
	}

	query := `
		INSERT INTO analysis_jobs (
			id, type, subject_id, project_id, user_id, org_id, status, processor,
			priority, attempts, max_attempts, created_at, queued_at, errors, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		string(job.Type),
		job.SubjectID,
		job.Tenant.ProjectID,
		job.Tenant.UserID,
		job.Tenant.OrgID,
		string(job.Status),
		string(job.Processor),
		job.Priority,
		job.Attempts,
		job.MaxAttempts,
		job.CreatedAt.UTC(),
		job.QueuedAt.UTC(),
		string(errs),
		string(meta),
	)
	if err != nil {
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return MapError("create job", err)
	}

	log.Debug("job created",
		slog.String("job_id", job.ID.String()),
		slog.Int("priority", job.Priority))
	return nil
}

// Get implements store.JobStore.Get
func (s *PostgresJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, MapError("get job", err)
	}
	return job, nil
}

// ClaimNext implements store.JobStore.ClaimNext. The inner SELECT locks the
// winning row with SKIP LOCKED, so concurrent claimers each take a
// different job and never block on one another.
func (s *PostgresJobStore) ClaimNext(ctx context.Context, nodeID string, now time.Time) (*domain.Job, error) {
	query := `
		UPDATE analysis_jobs
		SET status = 'processing',
			attempts = attempts + 1,
			processing_started_at = $2,
			last_heartbeat = $2,
			claimed_by = $1,
			processor = ''
		WHERE id = (
			SELECT id FROM analysis_jobs
			WHERE status = 'queued'
				AND (next_retry_at IS NULL OR next_retry_at <= $2)
			ORDER BY priority DESC, queued_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, nodeID, now.UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, MapError("claim job", err)
	}
	return job, nil
}

// Assign implements store.JobStore.Assign
func (s *PostgresJobStore) Assign(ctx context.Context, fence store.Fence, processor domain.ProcessorKind) error {
	query := `UPDATE analysis_jobs SET processor = $4 WHERE ` + fenceClause
	return s.execFenced(ctx, "assign processor", query, fence, string(processor))
}

// Heartbeat implements store.JobStore.Heartbeat
func (s *PostgresJobStore) Heartbeat(ctx context.Context, fence store.Fence, now time.Time) error {
	query := `UPDATE analysis_jobs SET last_heartbeat = $4 WHERE ` + fenceClause
	return s.execFenced(ctx, "heartbeat", query, fence, now.UTC())
}

// Complete implements store.JobStore.Complete
func (s *PostgresJobStore) Complete(
	ctx context.Context,
	fence store.Fence,
	result domain.Result,
	processor domain.ProcessorKind,
	now time.Time,
) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	query := `
		UPDATE analysis_jobs
		SET status = 'completed', result = $4::jsonb, processor = $5, completed_at = $6
		WHERE ` + fenceClause
	return s.execFenced(ctx, "complete job", query, fence, string(raw), string(processor), now.UTC())
}

// Requeue implements store.JobStore.Requeue
func (s *PostgresJobStore) Requeue(ctx context.Context, fence store.Fence, update store.RequeueUpdate, now time.Time) error {
	entry, err := json.Marshal([]domain.ErrorEntry{update.Error})
	if err != nil {
		return fmt.Errorf("failed to encode error entry: %w", err)
	}
	query := `
		UPDATE analysis_jobs
		SET status = 'queued',
			errors = errors || $4::jsonb,
			processor = $5,
			priority = $6,
			queued_at = $7,
			next_retry_at = $8,
			claimed_by = ''
		WHERE ` + fenceClause
	return s.execFenced(ctx, "requeue job", query, fence,
		string(entry),
		string(update.Processor),
		update.Priority,
		now.UTC(),
		update.NextRetryAt.UTC(),
	)
}

// Fail implements store.JobStore.Fail
func (s *PostgresJobStore) Fail(ctx context.Context, fence store.Fence, update store.FailUpdate, now time.Time) error {
	if update.Status != domain.JobStatusFailed && update.Status != domain.JobStatusTimedOut {
		return fmt.Errorf("%w: %q is not a failure status", store.ErrInvalidEntity, update.Status)
	}
	entry, err := json.Marshal([]domain.ErrorEntry{update.Error})
	if err != nil {
		return fmt.Errorf("failed to encode error entry: %w", err)
	}
	query := `
		UPDATE analysis_jobs
		SET status = $4, errors = errors || $5::jsonb, processor = $6, completed_at = $7
		WHERE ` + fenceClause
	return s.execFenced(ctx, "fail job", query, fence,
		string(update.Status),
		string(entry),
		string(update.Processor),
		now.UTC(),
	)
}

func (s *PostgresJobStore) execFenced(ctx context.Context, op, query string, fence store.Fence, args ...any) error {
	params := append([]any{fence.JobID, fence.NodeID, fence.Attempt}, args...)
	result, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("fenced update failed",
			slog.String("op", op),
			slog.String("job_id", fence.JobID.String()),
			slog.String("error", err.Error()))
		return MapError(op, err)
	}
	return checkFenced(op, result)
}

// ReclaimStale implements store.JobStore.ReclaimStale
func (s *PostgresJobStore) ReclaimStale(
	ctx context.Context,
	id uuid.UUID,
	heartbeatBefore time.Time,
	newPriority int,
	now time.Time,
) (bool, error) {
	query := `
		UPDATE analysis_jobs
		SET status = 'queued',
			priority = $3,
			queued_at = $4,
			next_retry_at = NULL,
			claimed_by = ''
		WHERE id = $1 AND status = 'processing' AND last_heartbeat < $2
	`
	result, err := s.db.ExecContext(ctx, query, id, heartbeatBefore.UTC(), newPriority, now.UTC())
	if err != nil {
		return false, MapError("reclaim stale job", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, store.NewPersistenceError("reclaim stale job", err)
	}
	return n == 1, nil
}

// ListStale implements store.JobStore.ListStale
func (s *PostgresJobStore) ListStale(ctx context.Context, heartbeatBefore time.Time, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs
		WHERE status = 'processing' AND last_heartbeat < $1
		ORDER BY last_heartbeat ASC
		LIMIT $2`
	return s.queryJobs(ctx, "list stale jobs", query, heartbeatBefore.UTC(), limitOrAll(limit))
}

// ListOverdue implements store.JobStore.ListOverdue
func (s *PostgresJobStore) ListOverdue(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs
		WHERE status = 'processing' AND processing_started_at < $1
		ORDER BY processing_started_at ASC
		LIMIT $2`
	return s.queryJobs(ctx, "list overdue jobs", query, startedBefore.UTC(), limitOrAll(limit))
}

// CountByStatus implements store.JobStore.CountByStatus
func (s *PostgresJobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM analysis_jobs GROUP BY status`)
	if err != nil {
		return nil, MapError("count jobs", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, MapError("count jobs", err)
		}
		counts[domain.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, MapError("count jobs", err)
	}
	return counts, nil
}

// ListBySubject implements store.JobStore.ListBySubject
func (s *PostgresJobStore) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs
		WHERE subject_id = $1
		ORDER BY created_at DESC`
	return s.queryJobs(ctx, "list jobs by subject", query, subjectID)
}

// ListByTenant implements store.JobStore.ListByTenant
func (s *PostgresJobStore) ListByTenant(ctx context.Context, orgID string, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return s.queryJobs(ctx, "list jobs by tenant", query, orgID, limitOrAll(limit))
}

func (s *PostgresJobStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("job query failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
		return nil, MapError(op, err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, MapError(op, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(op, err)
	}
	return jobs, nil
}

// limitOrAll maps a non-positive limit to NULL, which LIMIT treats as no limit.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                                      domain.Job
		jobType, status, processor               string
		started, completed, heartbeat, nextRetry sql.NullTime
		errs, result, meta                       []byte
	)
	err := row.Scan(
		&job.ID,
		&jobType,
		&job.SubjectID,
		&job.Tenant.ProjectID,
		&job.Tenant.UserID,
		&job.Tenant.OrgID,
		&status,
		&processor,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CreatedAt,
		&job.QueuedAt,
		&started,
		&completed,
		&heartbeat,
		&nextRetry,
		&job.ClaimedBy,
		&errs,
		&result,
		&meta,
	)
	if err != nil {
		return nil, err
	}

	job.Type = domain.WorkType(jobType)
	job.Status = domain.JobStatus(status)
	job.Processor = domain.ProcessorKind(processor)
	job.CreatedAt = job.CreatedAt.UTC()
	job.QueuedAt = job.QueuedAt.UTC()
	job.ProcessingStartedAt = nullTime(started)
	job.CompletedAt = nullTime(completed)
	job.LastHeartbeat = nullTime(heartbeat)
	job.NextRetryAt = nullTime(nextRetry)

	job.Errors = []domain.ErrorEntry{}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &job.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode job errors: %w", err)
		}
	}
	if len(result) > 0 {
		var r domain.Result
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
		job.Result = &r
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode job metadata: %w", err)
		}
	}
	return &job, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nonNilErrors(errs []domain.ErrorEntry) []domain.ErrorEntry {
	if errs == nil {
		return []domain.ErrorEntry{}
	}
	return errs
}
