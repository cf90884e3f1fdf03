package processor

import "github.com/fieldlens/analysis-queue/internal/domain"

// HealthChecker reports whether the remote processor may be used.
type HealthChecker interface {
	IsHealthy() bool
}

// Selector chooses a processor for a claimed job.
type Selector struct {
	health HealthChecker
}

// NewSelector creates a Selector reading remote health from health.
func NewSelector(health HealthChecker) *Selector {
	return &Selector{health: health}
}

// Select applies the decision table to job.Attempts, which the claim has
// already incremented, so the first attempt is 1:
//
//	attempt 1, explicit remote  -> remote
//	attempt 1, remote healthy   -> remote
//	attempt <= 2 or unhealthy   -> local_primary
//	otherwise                   -> local_secondary
func (s *Selector) Select(job *domain.Job) domain.ProcessorKind {
	attempt := job.Attempts
	if attempt < 1 {
		attempt = 1
	}

	if attempt == 1 && job.Metadata.ExplicitProcessor == domain.ProcessorRemote {
		return domain.ProcessorRemote
	}

	healthy := s.health.IsHealthy()
	if attempt == 1 && healthy {
		return domain.ProcessorRemote
	}
	if attempt <= 2 || !healthy {
		return domain.ProcessorLocalPrimary
	}
	return domain.ProcessorLocalSecondary
}
