package task

import "time"

// maxBackoffShift bounds the exponent so the delay cannot overflow.
const maxBackoffShift = 20

// RetryPolicy decides whether and when a failed job runs again.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	PriorityBoost int
	PriorityCap   int
}

// DefaultRetryPolicy returns the standard policy: five attempts, a 5s base
// delay doubling per attempt, and a +10 priority boost capped at 100.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   5,
		BaseDelay:     5 * time.Second,
		PriorityBoost: 10,
		PriorityCap:   100,
	}
}

// Eligible reports whether a job that has used attempts of max may retry.
// A non-positive max falls back to the policy's MaxAttempts.
func (p RetryPolicy) Eligible(attempts, max int) bool {
	if max <= 0 {
		max = p.MaxAttempts
	}
	return attempts < max
}

// Delay returns BaseDelay * 2^attempts.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffShift {
		attempts = maxBackoffShift
	}
	return p.BaseDelay << uint(attempts)
}

// Boost raises priority by PriorityBoost up to PriorityCap. A priority
// already above the cap is returned unchanged.
func (p RetryPolicy) Boost(priority int) int {
	if priority >= p.PriorityCap {
		return priority
	}
	boosted := priority + p.PriorityBoost
	if boosted > p.PriorityCap {
		return p.PriorityCap
	}
	return boosted
}
