package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrHandlerClosed is returned by AsyncHandler once Close has been called.
var ErrHandlerClosed = errors.New("event handler closed")

// AsyncHandler runs a slow handler off the emitting goroutine, so the
// emitter returns as soon as the event is handed over. The handler sees a
// context that keeps the emitter's values but not its cancellation.
type AsyncHandler struct {
	handler EventHandler
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

var _ EventHandler = (*AsyncHandler)(nil)

// NewAsyncHandler wraps handler.
func NewAsyncHandler(handler EventHandler, logger *slog.Logger) *AsyncHandler {
	return &AsyncHandler{
		handler: handler,
		logger:  logger.With("component", "async_event_handler"),
	}
}

// HandleEvent implements EventHandler. It never blocks on the wrapped handler.
func (a *AsyncHandler) HandleEvent(ctx context.Context, event *CompletionEvent) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrHandlerClosed
	}
	a.pending.Add(1)
	a.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer a.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("event handler panic", "panic", r, "job_id", event.JobID)
			}
		}()
		if err := a.handler.HandleEvent(detached, event); err != nil {
			a.logger.Warn("event handler failed", "error", err, "job_id", event.JobID)
		}
	}()
	return nil
}

// Close rejects new events and waits for those already handed over.
func (a *AsyncHandler) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.pending.Wait()
	return nil
}
