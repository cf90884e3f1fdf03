package mocks_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/mocks"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func queuedJob(t *testing.T, priority int, queuedAt time.Time) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(domain.WorkTypeImageAnalysis, uuid.New(), domain.TenantContext{OrgID: "o"}, 0, "", 5, queuedAt)
	require.NoError(t, err)
	job.Priority = priority
	return job
}

func TestJobStore_ClaimOrder(t *testing.T) {
	ctx := context.Background()
	s := mocks.NewJobStore()

	low := queuedJob(t, 20, t0)
	highOld := queuedJob(t, 50, t0)
	highNew := queuedJob(t, 50, t0.Add(time.Second))
	for _, j := range []*domain.Job{low, highNew, highOld} {
		require.NoError(t, s.Create(ctx, j))
	}

	var order []uuid.UUID
	for i := 0; i < 3; i++ {
		j, err := s.ClaimNext(ctx, "n1", t0.Add(time.Minute))
		require.NoError(t, err)
		require.NotNil(t, j)
		order = append(order, j.ID)
		assert.Equal(t, domain.JobStatusProcessing, j.Status)
		assert.Equal(t, 1, j.Attempts)
		assert.Equal(t, "n1", j.ClaimedBy)
		assert.NotNil(t, j.ProcessingStartedAt)
		assert.NotNil(t, j.LastHeartbeat)
	}
	assert.Equal(t, []uuid.UUID{highOld.ID, highNew.ID, low.ID}, order)

	j, err := s.ClaimNext(ctx, "n1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestJobStore_RetryEligibility(t *testing.T) {
	ctx := context.Background()
	s := mocks.NewJobStore()
	job := queuedJob(t, 50, t0)
	require.NoError(t, s.Create(ctx, job))

	claimed, err := s.ClaimNext(ctx, "n1", t0)
	require.NoError(t, err)
	fence := store.Fence{JobID: job.ID, NodeID: "n1", Attempt: 1}

	retryAt := t0.Add(10 * time.Second)
	require.NoError(t, s.Requeue(ctx, fence, store.RequeueUpdate{
		Error:       domain.ErrorEntry{Message: "boom", Attempt: 1},
		Processor:   domain.ProcessorRemote,
		Priority:    60,
		NextRetryAt: retryAt,
	}, t0))

	got, err := s.ClaimNext(ctx, "n1", retryAt.Add(-time.Millisecond))
	require.NoError(t, err)
	assert.Nil(t, got, "not claimable before next retry")

	got, err = s.ClaimNext(ctx, "n1", retryAt)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, claimed.Attempts+1, got.Attempts)
	assert.Equal(t, 60, got.Priority)
	assert.Len(t, got.Errors, 1)
	assert.Empty(t, got.Processor, "a new claim clears the previous attempt's processor")
}

func TestJobStore_FencedUpdates(t *testing.T) {
	ctx := context.Background()
	s := mocks.NewJobStore()
	job := queuedJob(t, 50, t0)
	require.NoError(t, s.Create(ctx, job))
	_, err := s.ClaimNext(ctx, "n1", t0)
	require.NoError(t, err)

	wrongNode := store.Fence{JobID: job.ID, NodeID: "n2", Attempt: 1}
	wrongAttempt := store.Fence{JobID: job.ID, NodeID: "n1", Attempt: 2}
	for _, f := range []store.Fence{wrongNode, wrongAttempt} {
		assert.ErrorIs(t, s.Heartbeat(ctx, f, t0), store.ErrClaimLost)
		assert.ErrorIs(t, s.Complete(ctx, f, domain.Result{}, domain.ProcessorRemote, t0), store.ErrClaimLost)
		assert.ErrorIs(t, s.Fail(ctx, f, store.FailUpdate{Status: domain.JobStatusFailed}, t0), store.ErrClaimLost)
	}

	good := store.Fence{JobID: job.ID, NodeID: "n1", Attempt: 1}
	require.NoError(t, s.Complete(ctx, good, domain.Result{Success: true, ItemCount: 2}, domain.ProcessorRemote, t0))
	assert.ErrorIs(t, s.Complete(ctx, good, domain.Result{}, domain.ProcessorRemote, t0), store.ErrClaimLost,
		"terminal jobs accept no further updates")

	got, err := s.ClaimNext(ctx, "n1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got, "terminal jobs are never re-claimed")

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.Result.ItemCount)
}

func TestJobStore_ReclaimStale(t *testing.T) {
	ctx := context.Background()
	s := mocks.NewJobStore()
	job := queuedJob(t, 50, t0)
	require.NoError(t, s.Create(ctx, job))
	_, err := s.ClaimNext(ctx, "n1", t0)
	require.NoError(t, err)

	ok, err := s.ReclaimStale(ctx, job.ID, t0, 60, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "heartbeat not older than cutoff")

	ok, err = s.ReclaimStale(ctx, job.ID, t0.Add(time.Second), 60, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := s.Get(ctx, job.ID)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.Errors)
	assert.Equal(t, 60, got.Priority)
	assert.Empty(t, got.ClaimedBy)

	assert.ErrorIs(t, s.Heartbeat(ctx, store.Fence{JobID: job.ID, NodeID: "n1", Attempt: 1}, t0), store.ErrClaimLost)
}

func TestJobStore_InjectedErrors(t *testing.T) {
	ctx := context.Background()
	s := mocks.NewJobStore()
	s.CreateErr = errors.New("connection refused")

	err := s.Create(ctx, queuedJob(t, 50, t0))
	assert.True(t, store.IsPersistenceError(err))

	s.SetClaimErr(errors.New("timeout"))
	_, err = s.ClaimNext(ctx, "n1", t0)
	assert.True(t, store.IsPersistenceError(err))
}
