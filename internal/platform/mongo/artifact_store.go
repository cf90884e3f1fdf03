package mongo

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoArtifactStore implements store.ArtifactStore on a MongoDB collection.
type MongoArtifactStore struct {
	artifacts *driver.Collection
	logger    *slog.Logger
	now       func() time.Time
}

// NewMongoArtifactStore creates an ArtifactStore backed by the media_artifacts
// collection of db.
func NewMongoArtifactStore(db *driver.Database, logger *slog.Logger) *MongoArtifactStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoArtifactStore{
		artifacts: db.Collection(ArtifactsCollection),
		logger:    logger.With(slog.String("component", "mongo_artifact_store")),
		now:       time.Now,
	}
}

var _ store.ArtifactStore = (*MongoArtifactStore)(nil)

// Register upserts the descriptive fields of an artifact, leaving any
// analysis state in place.
func (s *MongoArtifactStore) Register(ctx context.Context, a *domain.Artifact) error {
	filter := bson.M{"_id": a.ID.String()}
	update := bson.M{
		"$set": bson.M{
			"tenant":       a.Tenant,
			"source_url":   a.SourceURL,
			"content_type": a.ContentType,
			"size_bytes":   a.SizeBytes,
			"updated_at":   s.now().UTC(),
		},
		"$setOnInsert": bson.M{
			"analysis_status":    "",
			"analysis_job_id":    "",
			"analysis_attempts":  0,
			"analysis_processor": "",
			"analysis_error":     "",
		},
	}
	_, err := s.artifacts.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return mapError("register artifact", err, store.ErrArtifactNotFound)
}

// Get implements store.ArtifactStore.Get
func (s *MongoArtifactStore) Get(ctx context.Context, id uuid.UUID) (*domain.Artifact, error) {
	var doc artifactDocument
	if err := s.artifacts.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		return nil, mapError("get artifact", err, store.ErrArtifactNotFound)
	}
	return doc.toDomain()
}

// MarkQueued implements store.ArtifactStore.MarkQueued
func (s *MongoArtifactStore) MarkQueued(ctx context.Context, id uuid.UUID, jobID uuid.UUID) error {
	return s.update(ctx, "mark artifact queued", id, bson.M{
		"$set": bson.M{
			"analysis_status": string(domain.ArtifactStatusQueued),
			"analysis_job_id": jobID.String(),
			"updated_at":      s.now().UTC(),
		},
		"$inc": bson.M{"analysis_attempts": 1},
	})
}

// MarkProcessing implements store.ArtifactStore.MarkProcessing
func (s *MongoArtifactStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, "mark artifact processing", id, domain.ArtifactStatusProcessing, nil)
}

// MarkCompleted implements store.ArtifactStore.MarkCompleted
func (s *MongoArtifactStore) MarkCompleted(
	ctx context.Context,
	id uuid.UUID,
	result domain.Result,
	processor domain.ProcessorKind,
) error {
	return s.setStatus(ctx, "mark artifact completed", id, domain.ArtifactStatusCompleted, bson.M{
		"analysis_result":    newResultDocument(result),
		"analysis_processor": string(processor),
		"analysis_error":     "",
	})
}

// MarkFailed implements store.ArtifactStore.MarkFailed
func (s *MongoArtifactStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	return s.setStatus(ctx, "mark artifact failed", id, domain.ArtifactStatusFailed, bson.M{
		"analysis_error": message,
	})
}

// MarkTimedOut implements store.ArtifactStore.MarkTimedOut
func (s *MongoArtifactStore) MarkTimedOut(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, "mark artifact timed out", id, domain.ArtifactStatusTimedOut, nil)
}

func (s *MongoArtifactStore) setStatus(
	ctx context.Context,
	op string,
	id uuid.UUID,
	status domain.ArtifactStatus,
	extra bson.M,
) error {
	set := bson.M{
		"analysis_status": string(status),
		"updated_at":      s.now().UTC(),
	}
	for k, v := range extra {
		set[k] = v
	}
	return s.update(ctx, op, id, bson.M{"$set": set})
}

func (s *MongoArtifactStore) update(ctx context.Context, op string, id uuid.UUID, update bson.M) error {
	result, err := s.artifacts.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		s.logger.ErrorContext(ctx, "artifact update failed",
			slog.String("op", op),
			slog.String("artifact_id", id.String()),
			slog.String("error", err.Error()))
		return mapError(op, err, store.ErrArtifactNotFound)
	}
	return checkMatched(op, result, store.ErrArtifactNotFound)
}
