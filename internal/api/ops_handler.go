package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fieldlens/analysis-queue/internal/api/shared"
	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/platform/logger"
	"github.com/fieldlens/analysis-queue/internal/processor"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// JobReader is the read side of the job store the ops surface needs.
type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*domain.Job, error)
	ListByTenant(ctx context.Context, orgID string, limit int) ([]*domain.Job, error)
}

// StalledLister reports jobs the next sweep would act on.
type StalledLister interface {
	Stalled(ctx context.Context) (stale, overdue []*domain.Job, err error)
}

// HealthReporter exposes the remote processor circuit state.
type HealthReporter interface {
	Snapshot() processor.HealthSnapshot
}

// NodeReporter describes the local claim loop.
type NodeReporter interface {
	NodeID() string
	InFlight() int
	Capacity() int
}

// OpsHandler serves the operational read surfaces.
type OpsHandler struct {
	jobs    JobReader
	stalled StalledLister
	health  HealthReporter
	node    NodeReporter
	logger  *slog.Logger
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(
	jobs JobReader,
	stalled StalledLister,
	health HealthReporter,
	node NodeReporter,
	logger *slog.Logger,
) *OpsHandler {
	return &OpsHandler{
		jobs:    jobs,
		stalled: stalled,
		health:  health,
		node:    node,
		logger:  logger.With("component", "ops_handler"),
	}
}

// CountsResponse is the body of GET /ops/jobs/counts.
type CountsResponse struct {
	Counts map[domain.JobStatus]int `json:"counts"`
	Total  int                      `json:"total"`
}

// NodeResponse is the body of GET /ops/node.
type NodeResponse struct {
	NodeID   string `json:"node_id"`
	InFlight int    `json:"in_flight"`
	Capacity int    `json:"capacity"`
}

// StalledResponse is the body of GET /ops/jobs/stalled.
type StalledResponse struct {
	Stale   []*domain.Job `json:"stale"`
	Overdue []*domain.Job `json:"overdue"`
}

// JobsResponse wraps a job listing.
type JobsResponse struct {
	Jobs []*domain.Job `json:"jobs"`
}

type listJobsQuery struct {
	OrgID string `validate:"required"`
	Limit int    `validate:"gte=0,lte=500"`
}

const defaultListLimit = 50

// JobCounts handles GET /ops/jobs/counts.
func (h *OpsHandler) JobCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.jobs.CountByStatus(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := CountsResponse{Counts: make(map[domain.JobStatus]int, len(counts))}
	for _, status := range domain.AllJobStatuses {
		resp.Counts[status] = counts[status]
		resp.Total += counts[status]
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Node handles GET /ops/node.
func (h *OpsHandler) Node(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, NodeResponse{
		NodeID:   h.node.NodeID(),
		InFlight: h.node.InFlight(),
		Capacity: h.node.Capacity(),
	})
}

// Health handles GET /ops/health.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.health.Snapshot())
}

// Stalled handles GET /ops/jobs/stalled.
func (h *OpsHandler) Stalled(w http.ResponseWriter, r *http.Request) {
	stale, overdue, err := h.stalled.Stalled(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, StalledResponse{
		Stale:   nonNil(stale),
		Overdue: nonNil(overdue),
	})
}

// GetJob handles GET /ops/jobs/{id}.
func (h *OpsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, job)
}

// SubjectJobs handles GET /ops/subjects/{id}/jobs.
func (h *OpsHandler) SubjectJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	jobs, err := h.jobs.ListBySubject(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobsResponse{Jobs: nonNil(jobs)})
}

// TenantJobs handles GET /ops/jobs?org_id=&limit=.
func (h *OpsHandler) TenantJobs(w http.ResponseWriter, r *http.Request) {
	q := listJobsQuery{OrgID: r.URL.Query().Get("org_id"), Limit: defaultListLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = n
	}
	if err := shared.ValidateRequest(q); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}

	jobs, err := h.jobs.ListByTenant(r.Context(), q.OrgID, q.Limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobsResponse{Jobs: nonNil(jobs)})
}

func (h *OpsHandler) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid ID format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *OpsHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		logger.FromContextOrDefault(r.Context(), h.logger).Debug("request cancelled", "path", r.URL.Path)
		return
	}
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}

func nonNil(jobs []*domain.Job) []*domain.Job {
	if jobs == nil {
		return []*domain.Job{}
	}
	return jobs
}
