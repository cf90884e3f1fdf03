// Package mocks provides centralized test doubles for the engine's
// collaborators.
//
// JobStore and ArtifactStore are in-memory implementations that honour the
// same atomic conditional-update semantics as the real stores (claim ordering,
// fenced updates, stale reclaim), so engine tests exercise real concurrency
// rather than scripted call sequences. Adapter is a function-field fake in the
// usual style:
//
//	adapter := &mocks.Adapter{
//	    KindValue: domain.ProcessorRemote,
//	    ProcessFn: func(ctx context.Context, job *domain.Job, a *domain.Artifact) (*domain.Result, error) {
//	        return &domain.Result{Success: true}, nil
//	    },
//	}
package mocks
