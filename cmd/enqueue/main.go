// Package main registers a media artifact and submits an analysis job for it.
// Worker nodes sharing the store pick the job up on their next poll.
//
// Usage:
//
//	enqueue -url https://media.example/a.jpg -size 812345 -project p1 -user u1 -org o1
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldlens/analysis-queue/internal/config"
	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/platform/logger"
	"github.com/fieldlens/analysis-queue/internal/platform/mongo"
	"github.com/fieldlens/analysis-queue/internal/platform/postgres"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/fieldlens/analysis-queue/internal/task"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// options are the command-line inputs.
type options struct {
	SubjectID   string `validate:"omitempty,uuid"`
	SourceURL   string `validate:"required,url"`
	ContentType string `validate:"required"`
	SizeBytes   int64  `validate:"gte=0"`
	WorkType    string `validate:"required,oneof=image_analysis video_frame_analysis"`
	Processor   string `validate:"omitempty,oneof=remote local_primary local_secondary"`
	ProjectID   string `validate:"required"`
	UserID      string `validate:"required"`
	OrgID       string `validate:"required"`
	Source      string
}

// registrar is implemented by both artifact stores.
type registrar interface {
	store.ArtifactStore
	Register(ctx context.Context, a *domain.Artifact) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "enqueue failed: %v\n", err)
		os.Exit(1)
	}
}

// parseOptions parses and validates args. Usage and errors go to errOut.
func parseOptions(args []string, errOut io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&opts.SubjectID, "id", "", "artifact id (default: new UUID)")
	fs.StringVar(&opts.SourceURL, "url", "", "URL the artifact bytes are fetched from")
	fs.StringVar(&opts.ContentType, "content-type", "image/jpeg", "artifact MIME type")
	fs.Int64Var(&opts.SizeBytes, "size", 0, "artifact size in bytes, 0 if unknown")
	fs.StringVar(&opts.WorkType, "type", string(domain.WorkTypeImageAnalysis), "work type")
	fs.StringVar(&opts.Processor, "processor", "", "request a specific processor")
	fs.StringVar(&opts.ProjectID, "project", "", "project id")
	fs.StringVar(&opts.UserID, "user", "", "user id")
	fs.StringVar(&opts.OrgID, "org", "", "organization id")
	fs.StringVar(&opts.Source, "source", "cli", "free-form origin recorded on the job")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if err := validator.New().Struct(opts); err != nil {
		fmt.Fprintf(errOut, "invalid arguments: %v\n", err)
		return options{}, err
	}
	return opts, nil
}

// request converts opts into the artifact to register and the job to submit.
func (o options) request() (*domain.Artifact, task.EnqueueRequest) {
	id := uuid.New()
	if o.SubjectID != "" {
		id = uuid.MustParse(o.SubjectID)
	}
	tenant := domain.TenantContext{ProjectID: o.ProjectID, UserID: o.UserID, OrgID: o.OrgID}

	artifact := &domain.Artifact{
		ID:          id,
		Tenant:      tenant,
		SourceURL:   o.SourceURL,
		ContentType: o.ContentType,
		SizeBytes:   o.SizeBytes,
	}
	return artifact, task.EnqueueRequest{
		Type:              domain.WorkType(o.WorkType),
		SubjectID:         id,
		Tenant:            tenant,
		SizeHint:          o.SizeBytes,
		ExplicitProcessor: domain.ProcessorKind(o.Processor),
		Source:            o.Source,
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.Setup(cfg.Server.LogLevel, os.Stderr)

	jobs, artifacts, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	return submit(ctx, opts, jobs, artifacts, cfg.Engine.MaxAttempts, log, out)
}

// submit registers the artifact and enqueues its job, printing the job id.
func submit(
	ctx context.Context,
	opts options,
	jobs store.JobStore,
	artifacts registrar,
	maxAttempts int,
	log *slog.Logger,
	out io.Writer,
) error {
	artifact, req := opts.request()
	if err := artifacts.Register(ctx, artifact); err != nil {
		return fmt.Errorf("failed to register artifact: %w", err)
	}

	service := task.NewService(jobs, artifacts, nil, maxAttempts, nil, log)
	jobID, err := service.Enqueue(ctx, req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "job %s queued for artifact %s\n", jobID, artifact.ID)
	return err
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.JobStore, registrar, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolOptions{MaxOpenConns: 2, MaxIdleConns: 1})
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { _ = db.Close() }
		if err := postgres.Migrate(ctx, db, log); err != nil {
			closeFn()
			return nil, nil, nil, err
		}
		return postgres.NewPostgresJobStore(db, log), postgres.NewPostgresArtifactStore(db, log), closeFn, nil

	case "mongo":
		client, err := mongo.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, nil, err
		}
		db := client.Database(cfg.Mongo.Database)
		return mongo.NewMongoJobStore(db, log), mongo.NewMongoArtifactStore(db, log),
			func() { _ = mongo.Disconnect(client) }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}
