package api

import (
	"log/slog"
	"net/http"

	apimiddleware "github.com/fieldlens/analysis-queue/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the ops router. metrics may be nil to omit /metrics.
func NewRouter(ops *OpsHandler, metrics http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apimiddleware.NewTraceMiddleware(logger))

	r.Route("/ops", func(r chi.Router) {
		r.Get("/node", ops.Node)
		r.Get("/health", ops.Health)
		r.Get("/jobs", ops.TenantJobs)
		r.Get("/jobs/counts", ops.JobCounts)
		r.Get("/jobs/stalled", ops.Stalled)
		r.Get("/jobs/{id}", ops.GetJob)
		r.Get("/subjects/{id}/jobs", ops.SubjectJobs)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("failed to write health check response", "error", err)
		}
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}
