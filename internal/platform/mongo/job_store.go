package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/platform/logger"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// claimSort is the dispatch order: highest priority, then oldest queue time.
var claimSort = bson.D{
	{Key: "priority", Value: -1},
	{Key: "queued_at", Value: 1},
	{Key: "_id", Value: 1},
}

// MongoJobStore implements store.JobStore on a MongoDB collection.
type MongoJobStore struct {
	jobs   *driver.Collection
	logger *slog.Logger
}

// NewMongoJobStore creates a JobStore backed by the analysis_jobs collection of db.
// If logger is nil, a default logger will be used.
func NewMongoJobStore(db *driver.Database, logger *slog.Logger) *MongoJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoJobStore{
		jobs:   db.Collection(JobsCollection),
		logger: logger.With(slog.String("component", "mongo_job_store")),
	}
}

// Ensure MongoJobStore implements store.JobStore interface
var _ store.JobStore = (*MongoJobStore)(nil)

func fenceFilter(fence store.Fence) bson.M {
	return bson.M{
		"_id":        fence.JobID.String(),
		"status":     string(domain.JobStatusProcessing),
		"claimed_by": fence.NodeID,
		"attempts":   fence.Attempt,
	}
}

// Create implements store.JobStore.Create
func (s *MongoJobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return err
	}

	if _, err := s.jobs.InsertOne(ctx, newJobDocument(job)); err != nil {
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return mapError("create job", err, store.ErrJobNotFound)
	}

	log.Debug("job created",
		slog.String("job_id", job.ID.String()),
		slog.Int("priority", job.Priority))
	return nil
}

// Get implements store.JobStore.Get
func (s *MongoJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var doc jobDocument
	if err := s.jobs.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		return nil, mapError("get job", err, store.ErrJobNotFound)
	}
	return doc.toDomain()
}

// ClaimNext implements store.JobStore.ClaimNext. FindOneAndUpdate matches
// and modifies one document atomically, so concurrent claimers never share
// a job.
func (s *MongoJobStore) ClaimNext(ctx context.Context, nodeID string, now time.Time) (*domain.Job, error) {
	now = now.UTC()
	filter := bson.M{
		"status": string(domain.JobStatusQueued),
		"$or": bson.A{
			bson.M{"next_retry_at": nil},
			bson.M{"next_retry_at": bson.M{"$lte": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":                string(domain.JobStatusProcessing),
			"claimed_by":            nodeID,
			"processing_started_at": now,
			"last_heartbeat":        now,
			"processor":             "",
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(claimSort).
		SetReturnDocument(options.After)

	var doc jobDocument
	err := s.jobs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("claim job", err, store.ErrJobNotFound)
	}
	return doc.toDomain()
}

// Assign implements store.JobStore.Assign
func (s *MongoJobStore) Assign(ctx context.Context, fence store.Fence, processor domain.ProcessorKind) error {
	return s.updateFenced(ctx, "assign processor", fence, bson.M{
		"$set": bson.M{"processor": string(processor)},
	})
}

// Heartbeat implements store.JobStore.Heartbeat
func (s *MongoJobStore) Heartbeat(ctx context.Context, fence store.Fence, now time.Time) error {
	return s.updateFenced(ctx, "heartbeat", fence, bson.M{
		"$set": bson.M{"last_heartbeat": now.UTC()},
	})
}

// Complete implements store.JobStore.Complete
func (s *MongoJobStore) Complete(
	ctx context.Context,
	fence store.Fence,
	result domain.Result,
	processor domain.ProcessorKind,
	now time.Time,
) error {
	return s.updateFenced(ctx, "complete job", fence, bson.M{
		"$set": bson.M{
			"status":       string(domain.JobStatusCompleted),
			"result":       newResultDocument(result),
			"processor":    string(processor),
			"completed_at": now.UTC(),
		},
	})
}

// Requeue implements store.JobStore.Requeue
func (s *MongoJobStore) Requeue(ctx context.Context, fence store.Fence, update store.RequeueUpdate, now time.Time) error {
	return s.updateFenced(ctx, "requeue job", fence, bson.M{
		"$set": bson.M{
			"status":        string(domain.JobStatusQueued),
			"processor":     string(update.Processor),
			"priority":      update.Priority,
			"queued_at":     now.UTC(),
			"next_retry_at": update.NextRetryAt.UTC(),
			"claimed_by":    "",
		},
		"$push": bson.M{"errors": update.Error},
	})
}

// Fail implements store.JobStore.Fail
func (s *MongoJobStore) Fail(ctx context.Context, fence store.Fence, update store.FailUpdate, now time.Time) error {
	if update.Status != domain.JobStatusFailed && update.Status != domain.JobStatusTimedOut {
		return fmt.Errorf("%w: %q is not a failure status", store.ErrInvalidEntity, update.Status)
	}
	return s.updateFenced(ctx, "fail job", fence, bson.M{
		"$set": bson.M{
			"status":       string(update.Status),
			"processor":    string(update.Processor),
			"completed_at": now.UTC(),
		},
		"$push": bson.M{"errors": update.Error},
	})
}

func (s *MongoJobStore) updateFenced(ctx context.Context, op string, fence store.Fence, update bson.M) error {
	result, err := s.jobs.UpdateOne(ctx, fenceFilter(fence), update)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("fenced update failed",
			slog.String("op", op),
			slog.String("job_id", fence.JobID.String()),
			slog.String("error", err.Error()))
		return mapError(op, err, store.ErrClaimLost)
	}
	return checkMatched(op, result, store.ErrClaimLost)
}

// ReclaimStale implements store.JobStore.ReclaimStale
func (s *MongoJobStore) ReclaimStale(
	ctx context.Context,
	id uuid.UUID,
	heartbeatBefore time.Time,
	newPriority int,
	now time.Time,
) (bool, error) {
	filter := bson.M{
		"_id":            id.String(),
		"status":         string(domain.JobStatusProcessing),
		"last_heartbeat": bson.M{"$lt": heartbeatBefore.UTC()},
	}
	update := bson.M{
		"$set": bson.M{
			"status":        string(domain.JobStatusQueued),
			"priority":      newPriority,
			"queued_at":     now.UTC(),
			"next_retry_at": nil,
			"claimed_by":    "",
		},
	}
	result, err := s.jobs.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, mapError("reclaim stale job", err, store.ErrJobNotFound)
	}
	return result.ModifiedCount == 1, nil
}

// ListStale implements store.JobStore.ListStale
func (s *MongoJobStore) ListStale(ctx context.Context, heartbeatBefore time.Time, limit int) ([]*domain.Job, error) {
	filter := bson.M{
		"status":         string(domain.JobStatusProcessing),
		"last_heartbeat": bson.M{"$lt": heartbeatBefore.UTC()},
	}
	return s.find(ctx, "list stale jobs", filter, bson.D{{Key: "last_heartbeat", Value: 1}}, limit)
}

// ListOverdue implements store.JobStore.ListOverdue
func (s *MongoJobStore) ListOverdue(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.Job, error) {
	filter := bson.M{
		"status":                string(domain.JobStatusProcessing),
		"processing_started_at": bson.M{"$lt": startedBefore.UTC()},
	}
	return s.find(ctx, "list overdue jobs", filter, bson.D{{Key: "processing_started_at", Value: 1}}, limit)
}

// CountByStatus implements store.JobStore.CountByStatus
func (s *MongoJobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	pipeline := driver.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.jobs.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, mapError("count jobs", err, store.ErrJobNotFound)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var rows []struct {
		Status string `bson:"_id"`
		N      int    `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, mapError("count jobs", err, store.ErrJobNotFound)
	}

	counts := make(map[domain.JobStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.JobStatus(row.Status)] = row.N
	}
	return counts, nil
}

// ListBySubject implements store.JobStore.ListBySubject
func (s *MongoJobStore) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*domain.Job, error) {
	return s.find(ctx, "list jobs by subject",
		bson.M{"subject_id": subjectID.String()},
		bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}},
		0)
}

// ListByTenant implements store.JobStore.ListByTenant
func (s *MongoJobStore) ListByTenant(ctx context.Context, orgID string, limit int) ([]*domain.Job, error) {
	return s.find(ctx, "list jobs by tenant",
		bson.M{"tenant.org_id": orgID},
		bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}},
		limit)
}

// find runs a sorted query. A non-positive limit returns every match.
func (s *MongoJobStore) find(ctx context.Context, op string, filter bson.M, sort bson.D, limit int) ([]*domain.Job, error) {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.jobs.Find(ctx, filter, opts)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("job query failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
		return nil, mapError(op, err, store.ErrJobNotFound)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var jobs []*domain.Job
	for cursor.Next(ctx) {
		var doc jobDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, mapError(op, err, store.ErrJobNotFound)
		}
		job, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := cursor.Err(); err != nil {
		return nil, mapError(op, err, store.ErrJobNotFound)
	}
	return jobs, nil
}
