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

// PostgresArtifactStore implements the store.ArtifactStore interface over
// the media_artifacts table.
type PostgresArtifactStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresArtifactStore creates a new PostgreSQL implementation of the ArtifactStore interface.
func NewPostgresArtifactStore(db store.DBTX, logger *slog.Logger) *PostgresArtifactStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresArtifactStore{
		db:     db,
		logger: logger.With(slog.String("component", "artifact_store")),
		now:    time.Now,
	}
}

// Ensure PostgresArtifactStore implements store.ArtifactStore interface
var _ store.ArtifactStore = (*PostgresArtifactStore)(nil)

// Register inserts or replaces the descriptive fields of an artifact. The
// media service owns these rows; this exists for seeding and backfills.
func (s *PostgresArtifactStore) Register(ctx context.Context, a *domain.Artifact) error {
	query := `
		INSERT INTO media_artifacts (id, project_id, user_id, org_id, source_url, content_type, size_bytes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			user_id = EXCLUDED.user_id,
			org_id = EXCLUDED.org_id,
			source_url = EXCLUDED.source_url,
			content_type = EXCLUDED.content_type,
			size_bytes = EXCLUDED.size_bytes,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.Tenant.ProjectID,
		a.Tenant.UserID,
		a.Tenant.OrgID,
		a.SourceURL,
		a.ContentType,
		a.SizeBytes,
		s.now().UTC(),
	)
	return MapError("register artifact", err)
}

// Get implements store.ArtifactStore.Get
func (s *PostgresArtifactStore) Get(ctx context.Context, id uuid.UUID) (*domain.Artifact, error) {
	query := `
		SELECT id, project_id, user_id, org_id, source_url, content_type, size_bytes,
			analysis_status, analysis_job_id, analysis_attempts, analysis_result,
			analysis_processor, analysis_error
		FROM media_artifacts
		WHERE id = $1
	`
	var (
		a                 domain.Artifact
		status, processor string
		jobID             uuid.NullUUID
		result            []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.Tenant.ProjectID,
		&a.Tenant.UserID,
		&a.Tenant.OrgID,
		&a.SourceURL,
		&a.ContentType,
		&a.SizeBytes,
		&status,
		&jobID,
		&a.AnalysisAttempts,
		&result,
		&processor,
		&a.AnalysisError,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrArtifactNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get artifact",
			slog.String("error", err.Error()),
			slog.String("artifact_id", id.String()))
		return nil, MapError("get artifact", err)
	}

	a.AnalysisStatus = domain.ArtifactStatus(status)
	a.AnalysisProcessor = domain.ProcessorKind(processor)
	if jobID.Valid {
		a.AnalysisJobID = jobID.UUID
	}
	if len(result) > 0 {
		var r domain.Result
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("failed to decode analysis result: %w", err)
		}
		a.AnalysisResult = &r
	}
	return &a, nil
}

// MarkQueued implements store.ArtifactStore.MarkQueued
func (s *PostgresArtifactStore) MarkQueued(ctx context.Context, id uuid.UUID, jobID uuid.UUID) error {
	query := `
		UPDATE media_artifacts
		SET analysis_status = 'queued',
			analysis_job_id = $2,
			analysis_attempts = analysis_attempts + 1,
			updated_at = $3
		WHERE id = $1
	`
	return s.exec(ctx, "mark artifact queued", query, id, jobID, s.now().UTC())
}

// MarkProcessing implements store.ArtifactStore.MarkProcessing
func (s *PostgresArtifactStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE media_artifacts SET analysis_status = 'processing', updated_at = $2 WHERE id = $1`
	return s.exec(ctx, "mark artifact processing", query, id, s.now().UTC())
}

// MarkCompleted implements store.ArtifactStore.MarkCompleted
func (s *PostgresArtifactStore) MarkCompleted(
	ctx context.Context,
	id uuid.UUID,
	result domain.Result,
	processor domain.ProcessorKind,
) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode analysis result: %w", err)
	}
	query := `
		UPDATE media_artifacts
		SET analysis_status = 'completed',
			analysis_result = $2::jsonb,
			analysis_processor = $3,
			analysis_error = '',
			updated_at = $4
		WHERE id = $1
	`
	return s.exec(ctx, "mark artifact completed", query, id, string(raw), string(processor), s.now().UTC())
}

// MarkFailed implements store.ArtifactStore.MarkFailed
func (s *PostgresArtifactStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE media_artifacts
		SET analysis_status = 'failed', analysis_error = $2, updated_at = $3
		WHERE id = $1
	`
	return s.exec(ctx, "mark artifact failed", query, id, message, s.now().UTC())
}

// MarkTimedOut implements store.ArtifactStore.MarkTimedOut
func (s *PostgresArtifactStore) MarkTimedOut(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE media_artifacts SET analysis_status = 'timed_out', updated_at = $2 WHERE id = $1`
	return s.exec(ctx, "mark artifact timed out", query, id, s.now().UTC())
}

func (s *PostgresArtifactStore) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("artifact update failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
		return MapError(op, err)
	}
	return checkFound(op, result, store.ErrArtifactNotFound)
}
