package metrics

import (
	"context"
	"net/http"

	"github.com/fieldlens/analysis-queue/internal/events"
	"github.com/fieldlens/analysis-queue/internal/notify"
	"github.com/fieldlens/analysis-queue/internal/processor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analysis_queue"

// Metrics holds every collector registered by the engine.
type Metrics struct {
	registry *prometheus.Registry

	Enqueued      *prometheus.CounterVec
	Claims        prometheus.Counter
	ClaimErrors   prometheus.Counter
	ClaimLost     prometheus.Counter
	Attempts      *prometheus.CounterVec
	Outcomes      *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	InFlight      prometheus.Gauge
	SweepReclaims prometheus.Counter
	SweepTimeouts prometheus.Counter
	SweepRuns     *prometheus.CounterVec
	Notifications *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted by Enqueue.",
		}, []string{"type"}),
		Claims: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Jobs claimed by this process.",
		}),
		ClaimErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_errors_total",
			Help:      "Claim attempts that failed with a store error.",
		}),
		ClaimLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_lost_total",
			Help:      "Outcomes dropped because the claim was taken over.",
		}),
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Processing attempts by processor and result.",
		}, []string{"processor", "result"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Terminal job outcomes.",
		}, []string{"status", "processor"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Adapter call duration.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
		}, []string{"processor"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently held by this process.",
		}),
		SweepReclaims: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_reclaimed_total",
			Help:      "Stale jobs returned to the queue by the sweep.",
		}),
		SweepTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_overdue_total",
			Help:      "Overdue jobs routed through the failure path by the sweep.",
		}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Sweep passes by result.",
		}, []string{"result"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Completion callbacks by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterHealth exposes the remote health monitor as gauges.
func (m *Metrics) RegisterHealth(h *processor.HealthMonitor) {
	f := promauto.With(m.registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "remote_healthy",
		Help:      "1 when the remote processor is selectable.",
	}, func() float64 {
		if h.IsHealthy() {
			return 1
		}
		return 0
	})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "remote_consecutive_failures",
		Help:      "Consecutive remote failures counted by the health monitor.",
	}, func() float64 {
		return float64(h.Snapshot().ConsecutiveFailures)
	})
}

// ObserveNotification counts one notifier outcome.
func (m *Metrics) ObserveNotification(o notify.Outcome) {
	m.Notifications.WithLabelValues(string(o)).Inc()
}

// HandleEvent implements events.EventHandler by counting terminal outcomes.
func (m *Metrics) HandleEvent(ctx context.Context, event *events.CompletionEvent) error {
	m.Outcomes.WithLabelValues(string(event.Status), string(event.Processor)).Inc()
	return nil
}
