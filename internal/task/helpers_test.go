package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/events"
	"github.com/fieldlens/analysis-queue/internal/metrics"
	"github.com/fieldlens/analysis-queue/internal/mocks"
	"github.com/fieldlens/analysis-queue/internal/processor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*events.CompletionEvent
}

func (r *eventRecorder) HandleEvent(ctx context.Context, e *events.CompletionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) All() []*events.CompletionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.CompletionEvent(nil), r.events...)
}

type stubTimer struct{}

func (stubTimer) Stop() bool { return true }

type harness struct {
	jobs      *mocks.JobStore
	artifacts *mocks.ArtifactStore
	remote    *mocks.Adapter
	primary   *mocks.Adapter
	secondary *mocks.Adapter
	health    *processor.HealthMonitor
	recorder  *eventRecorder
	emitter   *events.InMemoryEventEmitter
	metrics   *metrics.Metrics
	clock     *testClock
	policy    RetryPolicy
	logger    *slog.Logger
	service   *Service
	sweeper   *Sweeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := &harness{
		jobs:      mocks.NewJobStore(),
		artifacts: mocks.NewArtifactStore(),
		remote:    mocks.NewAdapter(domain.ProcessorRemote, 7, 6),
		primary:   mocks.NewAdapter(domain.ProcessorLocalPrimary, 5, 4),
		secondary: mocks.NewAdapter(domain.ProcessorLocalSecondary, 3, 0),
		recorder:  &eventRecorder{},
		metrics:   metrics.New(),
		clock:     newTestClock(),
		policy:    DefaultRetryPolicy(),
		logger:    logger,
	}
	h.health = processor.NewHealthMonitor(logger, 3, time.Minute,
		processor.WithAfterFunc(func(time.Duration, func()) processor.Timer { return stubTimer{} }))
	h.emitter = events.NewInMemoryEventEmitter(logger)
	h.emitter.RegisterHandler(h.recorder)

	h.service = NewService(h.jobs, h.artifacts, nil, h.policy.MaxAttempts, h.metrics, logger)
	h.service.now = h.clock.Now

	h.sweeper = NewSweeper(h.sweeperDeps(), DefaultSweepConfig())
	h.sweeper.now = h.clock.Now
	return h
}

func (h *harness) registry(t *testing.T, adapters ...processor.Adapter) processor.Registry {
	t.Helper()
	if len(adapters) == 0 {
		adapters = []processor.Adapter{h.remote, h.primary, h.secondary}
	}
	reg, err := processor.NewRegistry(adapters...)
	require.NoError(t, err)
	return reg
}

func (h *harness) sweeperDeps() SweeperDeps {
	return SweeperDeps{
		Jobs:      h.jobs,
		Artifacts: h.artifacts,
		Health:    h.health,
		Emitter:   h.emitter,
		Policy:    h.policy,
		Metrics:   h.metrics,
		Logger:    h.logger,
	}
}

func (h *harness) newRunner(t *testing.T, nodeID string, reg processor.Registry) *Runner {
	t.Helper()
	cfg := DefaultRunnerConfig(nodeID)
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 10 * time.Millisecond
	r := NewRunner(RunnerDeps{
		Jobs:      h.jobs,
		Artifacts: h.artifacts,
		Registry:  reg,
		Selector:  processor.NewSelector(h.health),
		Health:    h.health,
		Emitter:   h.emitter,
		Policy:    h.policy,
		Metrics:   h.metrics,
		Logger:    h.logger,
	}, cfg)
	r.now = h.clock.Now
	t.Cleanup(r.Stop)
	return r
}

// enqueue submits an image job for a new artifact of the given size.
func (h *harness) enqueue(t *testing.T, size int64, explicit domain.ProcessorKind) uuid.UUID {
	t.Helper()
	subject := uuid.New()
	h.artifacts.Put(&domain.Artifact{
		ID:          subject,
		SourceURL:   "http://media.invalid/" + subject.String(),
		ContentType: "image/jpeg",
		SizeBytes:   size,
	})
	id, err := h.service.Enqueue(context.Background(), EnqueueRequest{
		Type:              domain.WorkTypeImageAnalysis,
		SubjectID:         subject,
		Tenant:            domain.TenantContext{ProjectID: "proj", UserID: "user", OrgID: "org"},
		SizeHint:          size,
		ExplicitProcessor: explicit,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) job(t *testing.T, id uuid.UUID) *domain.Job {
	t.Helper()
	j, err := h.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return j
}

// waitStatus polls until the job reaches status.
func (h *harness) waitStatus(t *testing.T, id uuid.UUID, status domain.JobStatus) *domain.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.job(t, id).Status == status
	}, 5*time.Second, 5*time.Millisecond, "job never reached %s", status)
	return h.job(t, id)
}

// waitRequeued polls until the job is queued again after the given attempt.
func (h *harness) waitRequeued(t *testing.T, id uuid.UUID, attempts int) *domain.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		j := h.job(t, id)
		return j.Status == domain.JobStatusQueued && j.Attempts == attempts
	}, 5*time.Second, 5*time.Millisecond, "job never requeued after attempt %d", attempts)
	return h.job(t, id)
}
