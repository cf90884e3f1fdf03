package processor

import (
	"context"
	"fmt"

	"github.com/fieldlens/analysis-queue/internal/domain"
)

// Adapter processes one attempt of a job.
type Adapter interface {
	// Kind identifies the backend for selection and error attribution.
	Kind() domain.ProcessorKind

	// Process runs the analysis. Failures should be returned as *AdapterError.
	Process(ctx context.Context, job *domain.Job, artifact *domain.Artifact) (*domain.Result, error)
}

// Registry maps processor kinds to adapters.
type Registry map[domain.ProcessorKind]Adapter

// NewRegistry builds a Registry keyed by each adapter's Kind.
func NewRegistry(adapters ...Adapter) (Registry, error) {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		k := a.Kind()
		if !k.Valid() {
			return nil, fmt.Errorf("unknown processor kind %q", k)
		}
		if _, dup := r[k]; dup {
			return nil, fmt.Errorf("duplicate adapter for processor %q", k)
		}
		r[k] = a
	}
	return r, nil
}

// Get returns the adapter registered for kind.
func (r Registry) Get(kind domain.ProcessorKind) (Adapter, error) {
	a, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for processor %q", kind)
	}
	return a, nil
}
