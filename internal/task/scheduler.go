package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweepFunc runs one sweep pass.
type SweepFunc func(ctx context.Context) (SweepReport, error)

// Scheduler runs the sweep on a fixed interval after an initial delay.
type Scheduler struct {
	sweep        SweepFunc
	interval     time.Duration
	initialDelay time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a Scheduler for sweep.
func NewScheduler(sweep SweepFunc, interval, initialDelay time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		sweep:        sweep,
		interval:     interval,
		initialDelay: initialDelay,
		logger:       logger.With("component", "sweep_scheduler"),
		done:         make(chan struct{}),
	}
}

// Start launches the timer loop. Calling Start again, or after Stop, does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(ctx)

	s.logger.Info("sweep scheduler started",
		"interval", s.interval.String(),
		"initial_delay", s.initialDelay.String())
}

// Stop halts the loop and waits for a running pass to finish. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	if started {
		s.cancel()
	}
	s.mu.Unlock()

	if started {
		<-s.done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	delay := time.NewTimer(s.initialDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked", "panic", r)
		}
	}()
	if _, err := s.sweep(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}
