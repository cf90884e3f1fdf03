package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// WorkerPool caps the number of jobs a process works on at once.
// Each job runs in its own goroutine holding one slot.
type WorkerPool struct {
	// slots is a counting semaphore of the configured size
	slots chan struct{}

	// wg tracks running jobs for clean shutdown
	wg sync.WaitGroup

	inFlight atomic.Int64

	logger *slog.Logger

	// onRelease runs after a slot is freed
	onRelease func()
}

// NewWorkerPool creates a pool with size slots.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", size,
			"default_count", 1)
		size = 1
	}
	return &WorkerPool{
		slots:     make(chan struct{}, size),
		logger:    logger,
		onRelease: func() {},
	}
}

// SetReleaseHandler registers a callback run whenever a slot frees up.
func (p *WorkerPool) SetReleaseHandler(fn func()) {
	p.onRelease = fn
}

// Acquire blocks until a slot is free or ctx is done.
func (p *WorkerPool) Acquire(ctx context.Context) bool {
	select {
	case p.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Release returns a slot obtained with Acquire that was not handed to Go.
func (p *WorkerPool) Release() {
	<-p.slots
}

// Go runs fn in a new goroutine that owns an already acquired slot. The slot
// is released when fn returns or panics; a panic is passed to onPanic.
func (p *WorkerPool) Go(fn func(), onPanic func(err error)) {
	p.wg.Add(1)
	p.inFlight.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("worker panic: %v", r)
				p.logger.Error("recovered from worker panic", "error", err)
				if onPanic != nil {
					onPanic(err)
				}
			}
			p.inFlight.Add(-1)
			<-p.slots
			p.wg.Done()
			p.onRelease()
		}()
		fn()
	}()
}

// InFlight returns the number of running jobs.
func (p *WorkerPool) InFlight() int {
	return int(p.inFlight.Load())
}

// Size returns the slot count.
func (p *WorkerPool) Size() int {
	return cap(p.slots)
}

// Wait blocks until every running job has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
