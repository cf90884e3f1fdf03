package api

import (
	"errors"
	"net/http"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking their types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidJob),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest
	case store.IsPersistenceError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-safe message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"
	case errors.Is(err, domain.ErrInvalidJob),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"
	case store.IsPersistenceError(err):
		return "Job store unavailable"
	default:
		return "An unexpected error occurred"
	}
}
