package domain

import "github.com/google/uuid"

// ArtifactStatus mirrors the analysis state written onto a subject artifact.
type ArtifactStatus string

// Analysis states recorded on an artifact
const (
	ArtifactStatusQueued     ArtifactStatus = "queued"
	ArtifactStatusProcessing ArtifactStatus = "processing"
	ArtifactStatusCompleted  ArtifactStatus = "completed"
	ArtifactStatusFailed     ArtifactStatus = "failed"
	ArtifactStatusTimedOut   ArtifactStatus = "timed_out"
)

// Artifact is the read view of the external media record a job analyses.
// Its full lifecycle belongs to other services; the engine only reads where
// the bytes live and writes analysis status and result.
type Artifact struct {
	ID          uuid.UUID     `json:"id"`
	Tenant      TenantContext `json:"tenant"`
	SourceURL   string        `json:"source_url"`
	ContentType string        `json:"content_type"`
	SizeBytes   int64         `json:"size_bytes"`

	AnalysisStatus    ArtifactStatus `json:"analysis_status,omitempty"`
	AnalysisJobID     uuid.UUID      `json:"analysis_job_id"`
	AnalysisAttempts  int            `json:"analysis_attempts"`
	AnalysisResult    *Result        `json:"analysis_result,omitempty"`
	AnalysisProcessor ProcessorKind  `json:"analysis_processor,omitempty"`
	AnalysisError     string         `json:"analysis_error,omitempty"`
}
