package mongo

import (
	"fmt"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/google/uuid"
)

type resultDocument struct {
	Success    bool   `bson:"success"`
	ItemCount  int    `bson:"item_count"`
	BoxCount   int    `bson:"box_count"`
	Raw        string `bson:"raw,omitempty"`
	DurationMs int64  `bson:"duration_ms"`
}

type metadataDocument struct {
	ExplicitProcessor string `bson:"explicit_processor,omitempty"`
	Source            string `bson:"source,omitempty"`
	SizeBytes         int64  `bson:"size_bytes"`
}

type jobDocument struct {
	ID          string               `bson:"_id"`
	Type        string               `bson:"type"`
	SubjectID   string               `bson:"subject_id"`
	Tenant      domain.TenantContext `bson:"tenant"`
	Status      string               `bson:"status"`
	Processor   string               `bson:"processor"`
	Priority    int                  `bson:"priority"`
	Attempts    int                  `bson:"attempts"`
	MaxAttempts int                  `bson:"max_attempts"`

	CreatedAt           time.Time  `bson:"created_at"`
	QueuedAt            time.Time  `bson:"queued_at"`
	ProcessingStartedAt *time.Time `bson:"processing_started_at"`
	CompletedAt         *time.Time `bson:"completed_at"`
	LastHeartbeat       *time.Time `bson:"last_heartbeat"`
	NextRetryAt         *time.Time `bson:"next_retry_at"`
	ClaimedBy           string     `bson:"claimed_by"`

	Errors   []domain.ErrorEntry `bson:"errors"`
	Result   *resultDocument     `bson:"result"`
	Metadata metadataDocument    `bson:"metadata"`
}

type artifactDocument struct {
	ID          string               `bson:"_id"`
	Tenant      domain.TenantContext `bson:"tenant"`
	SourceURL   string               `bson:"source_url"`
	ContentType string               `bson:"content_type"`
	SizeBytes   int64                `bson:"size_bytes"`

	AnalysisStatus    string          `bson:"analysis_status"`
	AnalysisJobID     string          `bson:"analysis_job_id"`
	AnalysisAttempts  int             `bson:"analysis_attempts"`
	AnalysisResult    *resultDocument `bson:"analysis_result"`
	AnalysisProcessor string          `bson:"analysis_processor"`
	AnalysisError     string          `bson:"analysis_error"`
	UpdatedAt         time.Time       `bson:"updated_at"`
}

func newResultDocument(r domain.Result) *resultDocument {
	return &resultDocument{
		Success:    r.Success,
		ItemCount:  r.ItemCount,
		BoxCount:   r.BoxCount,
		Raw:        string(r.Raw),
		DurationMs: r.DurationMs,
	}
}

func (d *resultDocument) toDomain() *domain.Result {
	if d == nil {
		return nil
	}
	r := &domain.Result{
		Success:    d.Success,
		ItemCount:  d.ItemCount,
		BoxCount:   d.BoxCount,
		DurationMs: d.DurationMs,
	}
	if d.Raw != "" {
		r.Raw = []byte(d.Raw)
	}
	return r
}

func newJobDocument(job *domain.Job) *jobDocument {
	errs := job.Errors
	if errs == nil {
		errs = []domain.ErrorEntry{}
	}
	doc := &jobDocument{
		ID:                  job.ID.String(),
		Type:                string(job.Type),
		SubjectID:           job.SubjectID.String(),
		Tenant:              job.Tenant,
		Status:              string(job.Status),
		Processor:           string(job.Processor),
		Priority:            job.Priority,
		Attempts:            job.Attempts,
		MaxAttempts:         job.MaxAttempts,
		CreatedAt:           job.CreatedAt.UTC(),
		QueuedAt:            job.QueuedAt.UTC(),
		ProcessingStartedAt: utcPtr(job.ProcessingStartedAt),
		CompletedAt:         utcPtr(job.CompletedAt),
		LastHeartbeat:       utcPtr(job.LastHeartbeat),
		NextRetryAt:         utcPtr(job.NextRetryAt),
		ClaimedBy:           job.ClaimedBy,
		Errors:              errs,
		Metadata: metadataDocument{
			ExplicitProcessor: string(job.Metadata.ExplicitProcessor),
			Source:            job.Metadata.Source,
			SizeBytes:         job.Metadata.SizeBytes,
		},
	}
	if job.Result != nil {
		doc.Result = newResultDocument(*job.Result)
	}
	return doc
}

func (d *jobDocument) toDomain() (*domain.Job, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", d.ID, err)
	}
	subject, err := uuid.Parse(d.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("invalid subject id %q: %w", d.SubjectID, err)
	}

	errs := d.Errors
	if errs == nil {
		errs = []domain.ErrorEntry{}
	}
	for i := range errs {
		errs[i].At = errs[i].At.UTC()
	}

	return &domain.Job{
		ID:                  id,
		Type:                domain.WorkType(d.Type),
		SubjectID:           subject,
		Tenant:              d.Tenant,
		Status:              domain.JobStatus(d.Status),
		Processor:           domain.ProcessorKind(d.Processor),
		Priority:            d.Priority,
		Attempts:            d.Attempts,
		MaxAttempts:         d.MaxAttempts,
		CreatedAt:           d.CreatedAt.UTC(),
		QueuedAt:            d.QueuedAt.UTC(),
		ProcessingStartedAt: utcPtr(d.ProcessingStartedAt),
		CompletedAt:         utcPtr(d.CompletedAt),
		LastHeartbeat:       utcPtr(d.LastHeartbeat),
		NextRetryAt:         utcPtr(d.NextRetryAt),
		ClaimedBy:           d.ClaimedBy,
		Errors:              errs,
		Result:              d.Result.toDomain(),
		Metadata: domain.Metadata{
			ExplicitProcessor: domain.ProcessorKind(d.Metadata.ExplicitProcessor),
			Source:            d.Metadata.Source,
			SizeBytes:         d.Metadata.SizeBytes,
		},
	}, nil
}

func (d *artifactDocument) toDomain() (*domain.Artifact, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact id %q: %w", d.ID, err)
	}
	a := &domain.Artifact{
		ID:                id,
		Tenant:            d.Tenant,
		SourceURL:         d.SourceURL,
		ContentType:       d.ContentType,
		SizeBytes:         d.SizeBytes,
		AnalysisStatus:    domain.ArtifactStatus(d.AnalysisStatus),
		AnalysisAttempts:  d.AnalysisAttempts,
		AnalysisResult:    d.AnalysisResult.toDomain(),
		AnalysisProcessor: domain.ProcessorKind(d.AnalysisProcessor),
		AnalysisError:     d.AnalysisError,
	}
	if d.AnalysisJobID != "" {
		jobID, err := uuid.Parse(d.AnalysisJobID)
		if err != nil {
			return nil, fmt.Errorf("invalid analysis job id %q: %w", d.AnalysisJobID, err)
		}
		a.AnalysisJobID = jobID
	}
	return a, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
