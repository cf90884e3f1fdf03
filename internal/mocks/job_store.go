package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/google/uuid"
)

// JobStore is an in-memory store.JobStore. A single mutex makes every method
// atomic, which is the in-process analogue of a conditional document update.
type JobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	// claims counts successful claims per job.
	claims map[uuid.UUID]int

	// Error injection. When set, the corresponding method returns the error
	// without touching state.
	CreateErr error
	ClaimErr  error
	UpdateErr error
}

var _ store.JobStore = (*JobStore)(nil)

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[uuid.UUID]*domain.Job),
		claims: make(map[uuid.UUID]int),
	}
}

// Put stores a copy of job as-is, bypassing validation. Used to seed state.
func (s *JobStore) Put(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

// ClaimCount returns how many times job id has been claimed.
func (s *JobStore) ClaimCount(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[id]
}

// All returns copies of every stored job.
func (s *JobStore) All() []*domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	return out
}

// SetClaimErr sets or clears the ClaimNext failure while the store is in use.
func (s *JobStore) SetClaimErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClaimErr = err
}

// SetUpdateErr sets or clears the failure of post-claim updates.
func (s *JobStore) SetUpdateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdateErr = err
}

// Create implements store.JobStore.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return store.NewPersistenceError("create job", s.CreateErr)
	}
	if _, exists := s.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get implements store.JobStore.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ClaimNext implements store.JobStore.
func (s *JobStore) ClaimNext(ctx context.Context, nodeID string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClaimErr != nil {
		return nil, store.NewPersistenceError("claim", s.ClaimErr)
	}

	var candidates []*domain.Job
	for _, j := range s.jobs {
		if j.Status != domain.JobStatusQueued {
			continue
		}
		if j.NextRetryAt != nil && j.NextRetryAt.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(a, b int) bool {
		ja, jb := candidates[a], candidates[b]
		if ja.Priority != jb.Priority {
			return ja.Priority > jb.Priority
		}
		if !ja.QueuedAt.Equal(jb.QueuedAt) {
			return ja.QueuedAt.Before(jb.QueuedAt)
		}
		return ja.ID.String() < jb.ID.String()
	})

	j := candidates[0]
	t := now
	j.Status = domain.JobStatusProcessing
	j.Attempts++
	j.ProcessingStartedAt = &t
	j.LastHeartbeat = &t
	j.ClaimedBy = nodeID
	j.Processor = ""
	s.claims[j.ID]++

	return j.Clone(), nil
}

// fenced returns the job when it is still processing under fence.
// Caller holds the lock.
func (s *JobStore) fenced(fence store.Fence) (*domain.Job, error) {
	if s.UpdateErr != nil {
		return nil, store.NewPersistenceError("update job", s.UpdateErr)
	}
	j, ok := s.jobs[fence.JobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	if j.Status != domain.JobStatusProcessing || j.ClaimedBy != fence.NodeID || j.Attempts != fence.Attempt {
		return nil, store.ErrClaimLost
	}
	return j, nil
}

// Assign implements store.JobStore.
func (s *JobStore) Assign(ctx context.Context, fence store.Fence, processor domain.ProcessorKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.fenced(fence)
	if err != nil {
		return err
	}
	j.Processor = processor
	return nil
}

// Heartbeat implements store.JobStore.
func (s *JobStore) Heartbeat(ctx context.Context, fence store.Fence, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.fenced(fence)
	if err != nil {
		return err
	}
	t := now
	j.LastHeartbeat = &t
	return nil
}

// Complete implements store.JobStore.
func (s *JobStore) Complete(ctx context.Context, fence store.Fence, result domain.Result, processor domain.ProcessorKind, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.fenced(fence)
	if err != nil {
		return err
	}
	t := now
	r := result
	j.Status = domain.JobStatusCompleted
	j.Processor = processor
	j.CompletedAt = &t
	j.Result = &r
	return nil
}

// Requeue implements store.JobStore.
func (s *JobStore) Requeue(ctx context.Context, fence store.Fence, update store.RequeueUpdate, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.fenced(fence)
	if err != nil {
		return err
	}
	next := update.NextRetryAt
	j.Status = domain.JobStatusQueued
	j.Processor = update.Processor
	j.Priority = update.Priority
	j.QueuedAt = now
	j.NextRetryAt = &next
	j.ClaimedBy = ""
	j.Errors = append(j.Errors, update.Error)
	return nil
}

// Fail implements store.JobStore.
func (s *JobStore) Fail(ctx context.Context, fence store.Fence, update store.FailUpdate, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.fenced(fence)
	if err != nil {
		return err
	}
	t := now
	j.Status = update.Status
	j.Processor = update.Processor
	j.CompletedAt = &t
	j.Errors = append(j.Errors, update.Error)
	return nil
}

// ReclaimStale implements store.JobStore.
func (s *JobStore) ReclaimStale(ctx context.Context, id uuid.UUID, heartbeatBefore time.Time, newPriority int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return false, store.NewPersistenceError("reclaim stale job", s.UpdateErr)
	}
	j, ok := s.jobs[id]
	if !ok || j.Status != domain.JobStatusProcessing || j.LastHeartbeat == nil || !j.LastHeartbeat.Before(heartbeatBefore) {
		return false, nil
	}
	j.Status = domain.JobStatusQueued
	j.Priority = newPriority
	j.QueuedAt = now
	j.NextRetryAt = nil
	j.ClaimedBy = ""
	return true, nil
}

// ListStale implements store.JobStore.
func (s *JobStore) ListStale(ctx context.Context, heartbeatBefore time.Time, limit int) ([]*domain.Job, error) {
	return s.list(limit, func(j *domain.Job) bool {
		return j.Status == domain.JobStatusProcessing && j.LastHeartbeat != nil && j.LastHeartbeat.Before(heartbeatBefore)
	}, func(a, b *domain.Job) bool { return a.LastHeartbeat.Before(*b.LastHeartbeat) })
}

// ListOverdue implements store.JobStore.
func (s *JobStore) ListOverdue(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.Job, error) {
	return s.list(limit, func(j *domain.Job) bool {
		return j.Status == domain.JobStatusProcessing && j.ProcessingStartedAt != nil && j.ProcessingStartedAt.Before(startedBefore)
	}, func(a, b *domain.Job) bool { return a.ProcessingStartedAt.Before(*b.ProcessingStartedAt) })
}

// CountByStatus implements store.JobStore.
func (s *JobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.JobStatus]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// ListBySubject implements store.JobStore.
func (s *JobStore) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*domain.Job, error) {
	return s.list(0, func(j *domain.Job) bool { return j.SubjectID == subjectID },
		func(a, b *domain.Job) bool { return a.CreatedAt.After(b.CreatedAt) })
}

// ListByTenant implements store.JobStore.
func (s *JobStore) ListByTenant(ctx context.Context, orgID string, limit int) ([]*domain.Job, error) {
	return s.list(limit, func(j *domain.Job) bool { return j.Tenant.OrgID == orgID },
		func(a, b *domain.Job) bool { return a.CreatedAt.After(b.CreatedAt) })
}

func (s *JobStore) list(limit int, match func(*domain.Job) bool, less func(a, b *domain.Job) bool) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.jobs {
		if match(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return less(out[a], out[b]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
