package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaker struct {
	n atomic.Int32
}

func (w *countingWaker) Wake() { w.n.Add(1) }

func TestService_Enqueue(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	waker := &countingWaker{}
	h.service.waker = waker

	subject := uuid.New()
	id, err := h.service.Enqueue(context.Background(), EnqueueRequest{
		Type:      domain.WorkTypeImageAnalysis,
		SubjectID: subject,
		Tenant:    domain.TenantContext{ProjectID: "p1", UserID: "u1", OrgID: "o1"},
		SizeHint:  3 << 20,
		Source:    "upload",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	job, err := h.service.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 40, job.Priority)
	assert.Equal(t, h.policy.MaxAttempts, job.MaxAttempts)
	assert.Equal(t, "upload", job.Metadata.Source)
	assert.Equal(t, "o1", job.Tenant.OrgID)
	assert.Equal(t, testEpoch, job.QueuedAt)

	art, err := h.artifacts.Get(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactStatusQueued, art.AnalysisStatus)
	assert.Equal(t, id, art.AnalysisJobID)

	assert.Equal(t, int32(1), waker.n.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Enqueued.WithLabelValues(string(domain.WorkTypeImageAnalysis))))
}

func TestService_EnqueueValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		name string
		req  EnqueueRequest
	}{
		{name: "unknown type", req: EnqueueRequest{Type: "audio", SubjectID: uuid.New()}},
		{name: "missing subject", req: EnqueueRequest{Type: domain.WorkTypeImageAnalysis}},
		{name: "unknown processor", req: EnqueueRequest{
			Type:              domain.WorkTypeImageAnalysis,
			SubjectID:         uuid.New(),
			ExplicitProcessor: "gpu_farm",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := h.service.Enqueue(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidJob)
			assert.Equal(t, uuid.Nil, id)
		})
	}
	assert.Empty(t, h.jobs.All())
}

func TestService_EnqueueStoreFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.jobs.CreateErr = errors.New("connection refused")

	id, err := h.service.Enqueue(context.Background(), EnqueueRequest{
		Type:      domain.WorkTypeVideoFrameAnalysis,
		SubjectID: uuid.New(),
	})
	assert.Equal(t, uuid.Nil, id)
	var pe *store.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, h.artifacts.Calls())
}

func TestService_EnqueueArtifactFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.artifacts.MarkErr = errors.New("write conflict")

	id, err := h.service.Enqueue(context.Background(), EnqueueRequest{
		Type:      domain.WorkTypeImageAnalysis,
		SubjectID: uuid.New(),
	})
	require.Error(t, err)
	var pe *store.PersistenceError
	assert.ErrorAs(t, err, &pe)

	// The job itself was persisted and remains claimable
	require.NotEqual(t, uuid.Nil, id)
	job := h.job(t, id)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
}
