package processor

import (
	"log/slog"
	"sync"
	"time"
)

// Timer is the handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc is the production value.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// HealthSnapshot is a point-in-time copy of the monitor state.
type HealthSnapshot struct {
	Healthy             bool       `json:"healthy"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalFailures       int        `json:"total_failures"`
	Threshold           int        `json:"threshold"`
	Cooldown            string     `json:"cooldown"`
	UnhealthySince      *time.Time `json:"unhealthy_since,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

// HealthMonitor tracks consecutive remote failures for this process.
// Reaching the threshold marks remote unhealthy and schedules a one-shot
// reset after the cool-down. A success resets immediately.
type HealthMonitor struct {
	mu        sync.Mutex
	logger    *slog.Logger
	threshold int
	cooldown  time.Duration
	afterFunc AfterFunc
	now       func() time.Time

	healthy        bool
	failures       int
	total          int
	unhealthySince time.Time
	lastFailure    time.Time
	timer          Timer
	// generation invalidates reset callbacks from superseded timers.
	generation uint64
}

// HealthOption customises a HealthMonitor.
type HealthOption func(*HealthMonitor)

// WithAfterFunc replaces the timer factory.
func WithAfterFunc(f AfterFunc) HealthOption {
	return func(h *HealthMonitor) { h.afterFunc = f }
}

// WithHealthClock replaces the time source used for snapshots.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthMonitor) { h.now = now }
}

// NewHealthMonitor creates a healthy monitor.
func NewHealthMonitor(logger *slog.Logger, threshold int, cooldown time.Duration, opts ...HealthOption) *HealthMonitor {
	if threshold < 1 {
		threshold = 1
	}
	h := &HealthMonitor{
		logger:    logger.With("component", "health_monitor"),
		threshold: threshold,
		cooldown:  cooldown,
		afterFunc: realAfterFunc,
		now:       time.Now,
		healthy:   true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsHealthy reports whether remote may be selected.
func (h *HealthMonitor) IsHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

// RecordFailure counts a remote failure.
func (h *HealthMonitor) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures++
	h.total++
	h.lastFailure = h.now()

	if !h.healthy || h.failures < h.threshold {
		return
	}

	h.healthy = false
	h.unhealthySince = h.lastFailure
	h.generation++
	gen := h.generation
	h.timer = h.afterFunc(h.cooldown, func() { h.reset(gen) })

	h.logger.Warn("remote processor marked unhealthy",
		"consecutive_failures", h.failures,
		"cooldown", h.cooldown.String())
}

// RecordSuccess clears the failure count and restores health.
func (h *HealthMonitor) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasHealthy := h.healthy
	h.failures = 0
	h.healthy = true
	h.generation++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if !wasHealthy {
		h.logger.Info("remote processor healthy after success")
	}
}

func (h *HealthMonitor) reset(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.generation {
		return
	}
	h.healthy = true
	h.failures = 0
	h.timer = nil
	h.logger.Info("remote processor cool-down elapsed, marked healthy")
}

// Snapshot returns the current state.
func (h *HealthMonitor) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := HealthSnapshot{
		Healthy:             h.healthy,
		ConsecutiveFailures: h.failures,
		TotalFailures:       h.total,
		Threshold:           h.threshold,
		Cooldown:            h.cooldown.String(),
	}
	if !h.healthy {
		t := h.unhealthySince
		s.UnhealthySince = &t
	}
	if !h.lastFailure.IsZero() {
		t := h.lastFailure
		s.LastFailureAt = &t
	}
	return s
}
