package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkType identifies the kind of analysis a job performs.
type WorkType string

// Supported work types
const (
	WorkTypeImageAnalysis      WorkType = "image_analysis"
	WorkTypeVideoFrameAnalysis WorkType = "video_frame_analysis"
)

// Valid reports whether t is a known work type.
func (t WorkType) Valid() bool {
	return t == WorkTypeImageAnalysis || t == WorkTypeVideoFrameAnalysis
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Possible job status values
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusTimedOut   JobStatus = "timed_out"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusTimedOut,
}

// Terminal reports whether s is a final state that is never reclaimed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusTimedOut
}

// CanTransitionTo reports whether moving from s to next respects the
// queued -> processing -> {completed | queued | failed | timed_out} machine.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusQueued ||
			next == JobStatusFailed || next == JobStatusTimedOut
	default:
		return false
	}
}

// ProcessorKind names an interchangeable processing backend.
type ProcessorKind string

// Known processor kinds
const (
	ProcessorRemote         ProcessorKind = "remote"
	ProcessorLocalPrimary   ProcessorKind = "local_primary"
	ProcessorLocalSecondary ProcessorKind = "local_secondary"
)

// Valid reports whether k is a known processor kind.
func (k ProcessorKind) Valid() bool {
	switch k {
	case ProcessorRemote, ProcessorLocalPrimary, ProcessorLocalSecondary:
		return true
	}
	return false
}

// TenantContext carries the opaque ownership identifiers of a job.
type TenantContext struct {
	ProjectID string `json:"project_id" bson:"project_id"`
	UserID    string `json:"user_id" bson:"user_id"`
	OrgID     string `json:"org_id" bson:"org_id"`
}

// ErrorEntry is one element of a job's append-only error history.
type ErrorEntry struct {
	At        time.Time     `json:"at" bson:"at"`
	Processor ProcessorKind `json:"processor" bson:"processor"`
	Message   string        `json:"message" bson:"message"`
	Attempt   int           `json:"attempt" bson:"attempt"`
}

// Result is the outcome of a successful processing attempt.
type Result struct {
	Success    bool            `json:"success"`
	ItemCount  int             `json:"item_count"`
	BoxCount   int             `json:"box_count"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// Metadata is the free-form bag attached to a job at enqueue.
type Metadata struct {
	// ExplicitProcessor is set when the caller asked for a specific backend.
	ExplicitProcessor ProcessorKind `json:"explicit_processor,omitempty"`
	Source            string        `json:"source,omitempty"`
	SizeBytes         int64         `json:"size_bytes"`
}

// Job is one durable unit of asynchronous analysis work. The same ID is kept
// across every retry of that work.
type Job struct {
	ID        uuid.UUID     `json:"id"`
	Type      WorkType      `json:"type"`
	SubjectID uuid.UUID     `json:"subject_id"`
	Tenant    TenantContext `json:"tenant"`
	Status    JobStatus     `json:"status"`
	// Processor is the backend chosen for the most recent attempt.
	Processor   ProcessorKind `json:"processor,omitempty"`
	Priority    int           `json:"priority"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`

	CreatedAt           time.Time  `json:"created_at"`
	QueuedAt            time.Time  `json:"queued_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	LastHeartbeat       *time.Time `json:"last_heartbeat,omitempty"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
	ClaimedBy           string     `json:"claimed_by,omitempty"`

	Errors   []ErrorEntry `json:"errors"`
	Result   *Result      `json:"result,omitempty"`
	Metadata Metadata     `json:"metadata"`
}

// NewJob creates a queued job with a fresh ID and a priority derived from the
// size hint. Returns an error if validation fails.
func NewJob(
	workType WorkType,
	subjectID uuid.UUID,
	tenant TenantContext,
	sizeHint int64,
	explicit ProcessorKind,
	maxAttempts int,
	now time.Time,
) (*Job, error) {
	now = now.UTC()
	job := &Job{
		ID:          uuid.New(),
		Type:        workType,
		SubjectID:   subjectID,
		Tenant:      tenant,
		Status:      JobStatusQueued,
		Priority:    InitialPriority(workType, sizeHint),
		Attempts:    0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		QueuedAt:    now,
		Errors:      []ErrorEntry{},
		Metadata: Metadata{
			ExplicitProcessor: explicit,
			SizeBytes:         sizeHint,
		},
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks the fields that must hold for any persisted job.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("%w: job id cannot be empty", ErrInvalidJob)
	}
	if !j.Type.Valid() {
		return fmt.Errorf("%w: unknown work type %q", ErrInvalidJob, j.Type)
	}
	if j.SubjectID == uuid.Nil {
		return fmt.Errorf("%w: subject id cannot be empty", ErrInvalidJob)
	}
	if j.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidJob)
	}
	if j.Metadata.ExplicitProcessor != "" && !j.Metadata.ExplicitProcessor.Valid() {
		return fmt.Errorf("%w: unknown processor %q", ErrInvalidJob, j.Metadata.ExplicitProcessor)
	}
	return nil
}

// LastError returns the most recent error message, or "" if none.
func (j *Job) LastError() string {
	if len(j.Errors) == 0 {
		return ""
	}
	return j.Errors[len(j.Errors)-1].Message
}

// Clone returns a deep copy of the job, so stores can hand out records
// without sharing mutable state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.ProcessingStartedAt = cloneTime(j.ProcessingStartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.LastHeartbeat = cloneTime(j.LastHeartbeat)
	c.NextRetryAt = cloneTime(j.NextRetryAt)
	c.Errors = append([]ErrorEntry(nil), j.Errors...)
	if j.Result != nil {
		r := *j.Result
		r.Raw = append(json.RawMessage(nil), j.Result.Raw...)
		c.Result = &r
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
