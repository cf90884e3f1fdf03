// Package api exposes the engine's operational read surfaces over HTTP:
// job counts, node identity, remote health, stalled work and single-job
// lookups, plus liveness and Prometheus metrics. Submitting work is done
// in-process through task.Service, not over this router.
package api
