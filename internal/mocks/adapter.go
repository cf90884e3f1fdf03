package mocks

import (
	"context"
	"sync"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/google/uuid"
)

// Adapter is a function-field fake of processor.Adapter.
type Adapter struct {
	KindValue domain.ProcessorKind
	ProcessFn func(ctx context.Context, job *domain.Job, artifact *domain.Artifact) (*domain.Result, error)

	mu    sync.Mutex
	calls []AdapterCall
}

// AdapterCall records one Process invocation.
type AdapterCall struct {
	JobID   uuid.UUID
	Attempt int
}

// NewAdapter creates an Adapter that succeeds with the given counts.
func NewAdapter(kind domain.ProcessorKind, items, boxes int) *Adapter {
	return &Adapter{
		KindValue: kind,
		ProcessFn: func(ctx context.Context, job *domain.Job, artifact *domain.Artifact) (*domain.Result, error) {
			return &domain.Result{Success: true, ItemCount: items, BoxCount: boxes}, nil
		},
	}
}

// Kind implements processor.Adapter.
func (a *Adapter) Kind() domain.ProcessorKind {
	return a.KindValue
}

// Process implements processor.Adapter.
func (a *Adapter) Process(ctx context.Context, job *domain.Job, artifact *domain.Artifact) (*domain.Result, error) {
	a.mu.Lock()
	a.calls = append(a.calls, AdapterCall{JobID: job.ID, Attempt: job.Attempts})
	fn := a.ProcessFn
	a.mu.Unlock()
	return fn(ctx, job, artifact)
}

// Calls returns the recorded invocations.
func (a *Adapter) Calls() []AdapterCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AdapterCall(nil), a.calls...)
}

// SetProcessFn swaps the behaviour safely while a runner is active.
func (a *Adapter) SetProcessFn(fn func(ctx context.Context, job *domain.Job, artifact *domain.Artifact) (*domain.Result, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ProcessFn = fn
}
