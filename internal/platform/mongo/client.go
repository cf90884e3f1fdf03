package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	JobsCollection      = "analysis_jobs"
	ArtifactsCollection = "media_artifacts"
)

const connectTimeout = 10 * time.Second

// Connect establishes a connection to MongoDB and verifies it with a ping.
// The caller owns the client and must Disconnect it.
func Connect(ctx context.Context, uri string) (*driver.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := driver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// Disconnect closes the client, waiting at most connectTimeout.
func Disconnect(client *driver.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the claim and recovery queries rely on.
// Creating an index that already exists is a no-op.
func EnsureIndexes(ctx context.Context, db *driver.Database, logger *slog.Logger) error {
	jobIndexes := []driver.IndexModel{
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "queued_at", Value: 1},
				{Key: "_id", Value: 1},
			},
			Options: options.Index().SetName("claim_order"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "last_heartbeat", Value: 1}},
			Options: options.Index().SetName("processing_heartbeat"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "processing_started_at", Value: 1}},
			Options: options.Index().SetName("processing_started"),
		},
		{
			Keys:    bson.D{{Key: "subject_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_subject"),
		},
		{
			Keys:    bson.D{{Key: "tenant.org_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_org"),
		},
	}

	names, err := db.Collection(JobsCollection).Indexes().CreateMany(ctx, jobIndexes)
	if err != nil {
		return fmt.Errorf("failed to create job indexes: %w", err)
	}

	logger.Info("mongo indexes ensured",
		slog.String("database", db.Name()),
		slog.Any("indexes", names))
	return nil
}
