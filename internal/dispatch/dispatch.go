// Package dispatch runs update handlers concurrently across keys while
// preserving arrival order within each key.
package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

const defaultConcurrency = 8

// Job handles one update.
type Job func(ctx context.Context)

// Dispatcher owns one FIFO queue per key. A key present in queues has a
// worker draining it; the semaphore bounds how many jobs run at once.
type Dispatcher struct {
	ctx    context.Context
	mu     sync.Mutex
	queues map[int64][]Job
	sem    chan struct{}
	wg     sync.WaitGroup
	closed bool
	logger *slog.Logger
}

// New creates a Dispatcher. Jobs receive ctx.
func New(ctx context.Context, concurrency int, logger *slog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Dispatcher{
		ctx:    ctx,
		queues: make(map[int64][]Job),
		sem:    make(chan struct{}, concurrency),
		logger: logger,
	}
}

// Submit enqueues job behind any pending work for key. It returns false once
// the dispatcher is closed.
func (d *Dispatcher) Submit(key int64, job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.logger.Warn("attempted to submit to closed dispatcher", "key", key)
		return false
	}
	if q, running := d.queues[key]; running {
		d.queues[key] = append(q, job)
		return true
	}
	d.queues[key] = nil
	d.wg.Add(1)
	go d.drain(key, job)
	return true
}

func (d *Dispatcher) drain(key int64, job Job) {
	defer d.wg.Done()
	for {
		d.sem <- struct{}{}
		d.run(key, job)
		<-d.sem

		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		job = q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(key int64, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job panicked",
				"key", key,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	job(d.ctx)
}

// Pending returns the number of queued jobs for key, excluding the one
// currently running.
func (d *Dispatcher) Pending(key int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[key])
}

// Close stops accepting jobs and waits for every queued job to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
