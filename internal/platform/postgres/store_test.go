package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/platform/logger"
	"github.com/fieldlens/analysis-queue/internal/platform/postgres"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	dbOnce    sync.Once
	sharedDB  *sql.DB
	dbErr     error
	container *tcpostgres.PostgresContainer
)

func TestMain(m *testing.M) {
	code := m.Run()
	if sharedDB != nil {
		_ = sharedDB.Close()
	}
	if container != nil {
		_ = container.Terminate(context.Background())
	}
	os.Exit(code)
}

// setupTestDB starts one Postgres container for the package, applies the
// migrations and truncates the tables before each test.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dbOnce.Do(func() {
		ctx := context.Background()
		container, dbErr = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("analysis_test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if dbErr != nil {
			return
		}
		var connStr string
		connStr, dbErr = container.ConnectionString(ctx, "sslmode=disable")
		if dbErr != nil {
			return
		}
		sharedDB, dbErr = postgres.Open(ctx, connStr, postgres.PoolOptions{MaxOpenConns: 20})
		if dbErr != nil {
			return
		}
		dbErr = postgres.Migrate(ctx, sharedDB, logger.Discard())
	})
	require.NoError(t, dbErr)

	_, err := sharedDB.Exec(`TRUNCATE analysis_jobs, media_artifacts`)
	require.NoError(t, err)
	return sharedDB
}

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newJob(t *testing.T, size int64, queuedAt time.Time) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(domain.WorkTypeImageAnalysis, uuid.New(),
		domain.TenantContext{ProjectID: "p1", UserID: "u1", OrgID: "o1"},
		size, "", 3, queuedAt)
	require.NoError(t, err)
	return job
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, postgres.Migrate(context.Background(), db, logger.Discard()))
}

func TestJobStore_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	s := postgres.NewPostgresJobStore(db, logger.Discard())
	ctx := context.Background()

	job := newJob(t, 500<<10, epoch)
	job.Metadata.Source = "upload"
	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.SubjectID, got.SubjectID)
	assert.Equal(t, job.Tenant, got.Tenant)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, 50, got.Priority)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.True(t, epoch.Equal(got.QueuedAt))
	assert.Empty(t, got.Errors)
	assert.Nil(t, got.Result)
	assert.Equal(t, "upload", got.Metadata.Source)
	assert.Equal(t, int64(500<<10), got.Metadata.SizeBytes)

	assert.ErrorIs(t, s.Create(ctx, job), store.ErrDuplicate)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestJobStore_ClaimOrder(t *testing.T) {
	db := setupTestDB(t)
	s := postgres.NewPostgresJobStore(db, logger.Discard())
	ctx := context.Background()

	large := newJob(t, 30<<20, epoch)
	oldSmall := newJob(t, 1<<10, epoch)
	newSmall := newJob(t, 1<<10, epoch.Add(time.Second))
	for _, j := range []*domain.Job{newSmall, large, oldSmall} {
		require.NoError(t, s.Create(ctx, j))
	}

	now := epoch.Add(time.Minute)
	var order []uuid.UUID
	for i := 0; i < 3; i++ {
		j, err := s.ClaimNext(ctx, "node-a", now)
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, domain.JobStatusProcessing, j.Status)
		assert.Equal(t, 1, j.Attempts)
		assert.Equal(t, "node-a", j.ClaimedBy)
		require.NotNil(t, j.ProcessingStartedAt)
		assert.True(t, now.Equal(*j.LastHeartbeat))
		order = append(order, j.ID)
	}
	assert.Equal(t, []uuid.UUID{oldSmall.ID, newSmall.ID, large.ID}, order)

	j, err := s.ClaimNext(ctx, "node-a", now)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestJobStore_ConcurrentClaimsExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	s := postgres.NewPostgresJobStore(db, logger.Discard())
	ctx := context.Background()

	const total = 60
	for i := 0; i < total; i++ {
		require.NoError(t, s.Create(ctx, newJob(t, int64(i)<<10, epoch)))
	}

	var mu sync.Mutex
	claimed := make(map[uuid.UUID]string)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(node string) {
			defer wg.Done()
			for {
				j, err := s.ClaimNext(ctx, node, epoch.Add(time.Minute))
				if !assert.NoError(t, err) || j == nil {
					return
				}
				mu.Lock()
				_, dup := claimed[j.ID]
				assert.False(t, dup, "job %s claimed twice", j.ID)
				claimed[j.ID] = node
				mu.Unlock()
			}
		}(fmt.Sprintf("node-%d", w))
	}
	wg.Wait()

	assert.Len(t, claimed, total)
	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, counts[domain.JobStatusProcessing])
	assert.Zero(t, counts[domain.JobStatusQueued])
}

func TestJobStore_FencedUpdates(t *testing.T) {
	db := setupTestDB(t)
	s := postgres.NewPostgresJobStore(db, logger.Discard())
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newJob(t, 1<<10, epoch)))
	j, err := s.ClaimNext(ctx, "node-a", epoch)
	require.NoError(t, err)
	fence := store.Fence{JobID: j.ID, NodeID: "node-a", Attempt: 1}

	require.NoError(t, s.Assign(ctx, fence, domain.ProcessorRemote))
	require.NoError(t, s.Heartbeat(ctx, fence, epoch.Add(30*time.Second)))

	wrongNode := fence
	wrongNode.NodeID = "node-b"
	assert.ErrorIs(t, s.Heartbeat(ctx, wrongNode, epoch), store.ErrClaimLost)
	wrongAttempt := fence
	wrongAttempt.Attempt = 2
	assert.ErrorIs(t, s.Assign(ctx, wrongAttempt, domain.ProcessorLocalPrimary), store.ErrClaimLost)

	result := domain.Result{Success: true, ItemCount: 4, BoxCount: 2, DurationMs: 1200}
	require.NoError(t, s.Complete(ctx, fence, result, domain.ProcessorRemote, epoch.Add(time.Minute)))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, domain.ProcessorRemote, got.Processor)
	require.NotNil(t, got.Result)
	assert.Equal(t, 4, got.Result.ItemCount)
	assert.Equal(t, int64(1200), got.Result.DurationMs)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, epoch.Add(30*time.Second).Equal(*got.LastHeartbeat))

	// Terminal jobs reject every further write
	assert.ErrorIs(t, s.Heartbeat(ctx, fence, epoch), store.ErrClaimLost)
	assert.ErrorIs(t, s.Fail(ctx, fence, store.FailUpdate{Status: domain.JobStatusFailed}, epoch), store.ErrClaimLost)
}

func TestJobStore_RequeueAndFail(t *testing.T) {
	db := setupTestDB(t)
	s := postgres.NewPostgresJobStore(db, logger.Discard())
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newJob(t, 500<<10, epoch)))
	j, err := s.ClaimNext(ctx, "node-a", epoch)
	require.NoError(t, err)

	entry := domain.ErrorEntry{At: epoch, Processor: domain.ProcessorRemote, Message: "bad gateway", Attempt: 1}
	require.NoError(t, s.Requeue(ctx, store.Fence{JobID: j.ID, NodeID: "node-a", Attempt: 1}, store.RequeueUpdate{
		Error:       entry,
		Processor:   domain.ProcessorRemote,
		Priority:    60,
		NextRetryAt: epoch.Add(10 * time.Second),
	}, epoch))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, 60, got.Priority)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.ClaimedBy)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "bad gateway", got.Errors[0].Message)

	// Not claimable until the backoff elapses
	none, err := s.ClaimNext(ctx, "node-a", epoch.Add(5*time.Second))
	require.NoError(t, err)
	assert.Nil(t, none)

	j, err = s.ClaimNext(ctx, "node-b", epoch.Add(10*time.Second))
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, 2, j.Attempts)
	assert.Empty(t, j.Processor, "a new claim clears the previous attempt's processor")

	require.NoError(t, s.Fail(ctx, store.Fence{JobID: j.ID, NodeID: "node-b", Attempt: 2}, store.FailUpdate{
		Status:    domain.JobStatusTimedOut,
		Error:     domain.ErrorEntry{At: epoch, Processor: domain.ProcessorLocalPrimary, Message: "timeout", Attempt: 2},
		Processor: domain.ProcessorLocalPrimary,
	}, epoch.Add(20*time.Second)))

	got, err = s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusTimedOut, got.Status)
	require.Len(t, got.Errors, 2)
	assert.Equal(t, "timeout", got.LastError())

	err = s.Fail(ctx, store.Fence{JobID: j.ID}, store.FailUpdate{Status: domain.JobStatusCompleted}, epoch)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestJobStore_RecoveryQueries(t *testing.T) {
	db := setupTestDB(t)
	s := postgres.NewPostgresJobStore(db, logger.Discard())
	ctx := context.Background()

	stale := newJob(t, 1<<10, epoch)
	fresh := newJob(t, 1<<10, epoch)
	require.NoError(t, s.Create(ctx, stale))
	require.NoError(t, s.Create(ctx, fresh))

	a, err := s.ClaimNext(ctx, "node-a", epoch)
	require.NoError(t, err)
	b, err := s.ClaimNext(ctx, "node-b", epoch.Add(10*time.Minute))
	require.NoError(t, err)

	now := epoch.Add(12 * time.Minute)
	staleJobs, err := s.ListStale(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, staleJobs, 1)
	assert.Equal(t, a.ID, staleJobs[0].ID)

	overdue, err := s.ListOverdue(ctx, now.Add(-11*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, a.ID, overdue[0].ID)

	ok, err := s.ReclaimStale(ctx, a.ID, now.Add(-5*time.Minute), 60, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second reclaim of the same job finds nothing to do
	ok, err = s.ReclaimStale(ctx, a.ID, now.Add(-5*time.Minute), 70, now)
	require.NoError(t, err)
	assert.False(t, ok)

	// The fresh heartbeat is not reclaimable
	ok, err = s.ReclaimStale(ctx, b.ID, now.Add(-5*time.Minute), 60, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, 60, got.Priority)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.NextRetryAt)

	// The original worker's fence is dead
	err = s.Heartbeat(ctx, store.Fence{JobID: a.ID, NodeID: "node-a", Attempt: 1}, now)
	assert.ErrorIs(t, err, store.ErrClaimLost)
}

func TestJobStore_Listings(t *testing.T) {
	db := setupTestDB(t)
	s := postgres.NewPostgresJobStore(db, logger.Discard())
	ctx := context.Background()

	first := newJob(t, 1<<10, epoch)
	second, err := domain.NewJob(domain.WorkTypeVideoFrameAnalysis, first.SubjectID,
		domain.TenantContext{OrgID: "o1"}, 1<<10, domain.ProcessorRemote, 3, epoch.Add(time.Minute))
	require.NoError(t, err)
	other, err := domain.NewJob(domain.WorkTypeImageAnalysis, uuid.New(),
		domain.TenantContext{OrgID: "o2"}, 1<<10, "", 3, epoch)
	require.NoError(t, err)
	for _, j := range []*domain.Job{first, second, other} {
		require.NoError(t, s.Create(ctx, j))
	}

	bySubject, err := s.ListBySubject(ctx, first.SubjectID)
	require.NoError(t, err)
	require.Len(t, bySubject, 2)
	assert.Equal(t, second.ID, bySubject[0].ID, "newest first")
	assert.Equal(t, domain.ProcessorRemote, bySubject[0].Metadata.ExplicitProcessor)

	byTenant, err := s.ListByTenant(ctx, "o1", 1)
	require.NoError(t, err)
	require.Len(t, byTenant, 1)
	assert.Equal(t, second.ID, byTenant[0].ID)

	all, err := s.ListByTenant(ctx, "o1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.JobStatusQueued])
}

func TestArtifactStore_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	s := postgres.NewPostgresArtifactStore(db, logger.Discard())
	ctx := context.Background()

	art := &domain.Artifact{
		ID:          uuid.New(),
		Tenant:      domain.TenantContext{ProjectID: "p1", UserID: "u1", OrgID: "o1"},
		SourceURL:   "https://media.example.com/a.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   512 << 10,
	}
	require.NoError(t, s.Register(ctx, art))

	jobID := uuid.New()
	require.NoError(t, s.MarkQueued(ctx, art.ID, jobID))
	require.NoError(t, s.MarkQueued(ctx, art.ID, jobID))
	require.NoError(t, s.MarkProcessing(ctx, art.ID))
	require.NoError(t, s.MarkFailed(ctx, art.ID, "model unavailable"))

	got, err := s.Get(ctx, art.ID)
	require.NoError(t, err)
	assert.Equal(t, art.SourceURL, got.SourceURL)
	assert.Equal(t, art.Tenant, got.Tenant)
	assert.Equal(t, int64(512<<10), got.SizeBytes)
	assert.Equal(t, domain.ArtifactStatusFailed, got.AnalysisStatus)
	assert.Equal(t, jobID, got.AnalysisJobID)
	assert.Equal(t, 2, got.AnalysisAttempts)
	assert.Equal(t, "model unavailable", got.AnalysisError)

	result := domain.Result{Success: true, ItemCount: 5, BoxCount: 4}
	require.NoError(t, s.MarkCompleted(ctx, art.ID, result, domain.ProcessorLocalPrimary))
	got, err = s.Get(ctx, art.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactStatusCompleted, got.AnalysisStatus)
	assert.Equal(t, domain.ProcessorLocalPrimary, got.AnalysisProcessor)
	require.NotNil(t, got.AnalysisResult)
	assert.Equal(t, 5, got.AnalysisResult.ItemCount)
	assert.Empty(t, got.AnalysisError)

	require.NoError(t, s.MarkTimedOut(ctx, art.ID))
	got, err = s.Get(ctx, art.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactStatusTimedOut, got.AnalysisStatus)

	missing := uuid.New()
	_, err = s.Get(ctx, missing)
	assert.ErrorIs(t, err, store.ErrArtifactNotFound)
	assert.ErrorIs(t, s.MarkProcessing(ctx, missing), store.ErrArtifactNotFound)
}
