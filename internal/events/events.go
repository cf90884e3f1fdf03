package events

import (
	"context"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/google/uuid"
)

// CompletionEvent reports the terminal outcome of a job.
type CompletionEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	JobID     uuid.UUID            `json:"job_id"`
	SubjectID uuid.UUID            `json:"subject_id"`
	Tenant    domain.TenantContext `json:"tenant"`
	WorkType  domain.WorkType      `json:"work_type"`
	Status    domain.JobStatus     `json:"status"`
	Processor domain.ProcessorKind `json:"processor"`

	// Attempt is the attempt number that produced the outcome.
	Attempt   int    `json:"attempt"`
	Success   bool   `json:"success"`
	ItemCount int    `json:"item_count"`
	BoxCount  int    `json:"box_count"`
	Error     string `json:"error,omitempty"`

	// DurationMs is the processing time of the final attempt.
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewCompletionEvent builds an event from a job's terminal state.
// result is nil for failures.
func NewCompletionEvent(job *domain.Job, result *domain.Result, at time.Time) *CompletionEvent {
	e := &CompletionEvent{
		ID:        uuid.New(),
		JobID:     job.ID,
		SubjectID: job.SubjectID,
		Tenant:    job.Tenant,
		WorkType:  job.Type,
		Status:    job.Status,
		Processor: job.Processor,
		Attempt:   job.Attempts,
		Timestamp: at,
	}
	if result != nil {
		e.Success = result.Success
		e.ItemCount = result.ItemCount
		e.BoxCount = result.BoxCount
		e.DurationMs = result.DurationMs
	} else {
		e.Error = job.LastError()
	}
	return e
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *CompletionEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *CompletionEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *CompletionEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows the engine to publish outcomes without knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *CompletionEvent) error
}
