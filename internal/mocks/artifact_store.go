package mocks

import (
	"context"
	"sync"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/google/uuid"
)

// ArtifactCall records one write made against the ArtifactStore.
type ArtifactCall struct {
	Method    string
	SubjectID uuid.UUID
	JobID     uuid.UUID
	Message   string
	Processor domain.ProcessorKind
}

// ArtifactStore is an in-memory store.ArtifactStore that also records calls.
type ArtifactStore struct {
	mu        sync.Mutex
	artifacts map[uuid.UUID]*domain.Artifact
	calls     []ArtifactCall

	// MarkErr, when set, is returned by every Mark* method.
	MarkErr error
}

var _ store.ArtifactStore = (*ArtifactStore)(nil)

// NewArtifactStore creates an empty ArtifactStore.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{artifacts: make(map[uuid.UUID]*domain.Artifact)}
}

// Put seeds an artifact.
func (s *ArtifactStore) Put(a *domain.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	s.artifacts[a.ID] = &c
}

// Register stores the descriptive fields of a, keeping any analysis state.
func (s *ArtifactStore) Register(ctx context.Context, a *domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	if prev, ok := s.artifacts[a.ID]; ok {
		c.AnalysisStatus = prev.AnalysisStatus
		c.AnalysisJobID = prev.AnalysisJobID
		c.AnalysisAttempts = prev.AnalysisAttempts
		c.AnalysisResult = prev.AnalysisResult
		c.AnalysisProcessor = prev.AnalysisProcessor
		c.AnalysisError = prev.AnalysisError
	}
	s.artifacts[a.ID] = &c
	return nil
}

// Calls returns a copy of the recorded writes.
func (s *ArtifactStore) Calls() []ArtifactCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ArtifactCall(nil), s.calls...)
}

// CallsFor returns the method names recorded for subjectID, in order.
func (s *ArtifactStore) CallsFor(subjectID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		if c.SubjectID == subjectID {
			out = append(out, c.Method)
		}
	}
	return out
}

// Get implements store.ArtifactStore.
func (s *ArtifactStore) Get(ctx context.Context, id uuid.UUID) (*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, store.ErrArtifactNotFound
	}
	c := *a
	return &c, nil
}

func (s *ArtifactStore) mark(call ArtifactCall, apply func(a *domain.Artifact)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarkErr != nil {
		return store.NewPersistenceError("mark artifact", s.MarkErr)
	}
	s.calls = append(s.calls, call)
	a, ok := s.artifacts[call.SubjectID]
	if !ok {
		a = &domain.Artifact{ID: call.SubjectID}
		s.artifacts[call.SubjectID] = a
	}
	apply(a)
	return nil
}

// MarkQueued implements store.ArtifactStore.
func (s *ArtifactStore) MarkQueued(ctx context.Context, id uuid.UUID, jobID uuid.UUID) error {
	return s.mark(ArtifactCall{Method: "MarkQueued", SubjectID: id, JobID: jobID}, func(a *domain.Artifact) {
		a.AnalysisStatus = domain.ArtifactStatusQueued
		a.AnalysisJobID = jobID
		a.AnalysisAttempts++
	})
}

// MarkProcessing implements store.ArtifactStore.
func (s *ArtifactStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.mark(ArtifactCall{Method: "MarkProcessing", SubjectID: id}, func(a *domain.Artifact) {
		a.AnalysisStatus = domain.ArtifactStatusProcessing
	})
}

// MarkCompleted implements store.ArtifactStore.
func (s *ArtifactStore) MarkCompleted(ctx context.Context, id uuid.UUID, result domain.Result, processor domain.ProcessorKind) error {
	return s.mark(ArtifactCall{Method: "MarkCompleted", SubjectID: id, Processor: processor}, func(a *domain.Artifact) {
		r := result
		a.AnalysisStatus = domain.ArtifactStatusCompleted
		a.AnalysisResult = &r
		a.AnalysisProcessor = processor
		a.AnalysisError = ""
	})
}

// MarkFailed implements store.ArtifactStore.
func (s *ArtifactStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	return s.mark(ArtifactCall{Method: "MarkFailed", SubjectID: id, Message: message}, func(a *domain.Artifact) {
		a.AnalysisStatus = domain.ArtifactStatusFailed
		a.AnalysisError = message
	})
}

// MarkTimedOut implements store.ArtifactStore.
func (s *ArtifactStore) MarkTimedOut(ctx context.Context, id uuid.UUID) error {
	return s.mark(ArtifactCall{Method: "MarkTimedOut", SubjectID: id}, func(a *domain.Artifact) {
		a.AnalysisStatus = domain.ArtifactStatusTimedOut
	})
}
