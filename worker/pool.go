package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrQueueFull is returned by TrySubmit when no queue slot is free.
	ErrQueueFull = errors.New("worker queue full")
)

// Task is a unit of work run by a pool worker.
type Task func(ctx context.Context)

type job struct {
	ctx  context.Context
	task Task
}

// Pool manages a fixed set of worker goroutines consuming a bounded queue.
type Pool struct {
	workers int
	queue   chan job

	// mu orders Submit against Close so no send happens on a closed queue
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// Metrics
	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsPanicked  atomic.Uint64
	totalDuration atomic.Uint64
	busy          atomic.Int64
}

// NewPool starts a pool with the specified number of workers and queue slots.
// If workers <= 0 it defaults to runtime.NumCPU(); if queueSize <= 0 it
// defaults to twice the worker count.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}

	p := &Pool{
		workers: workers,
		queue:   make(chan job, queueSize),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// Submit queues task, blocking while the queue is full.
// It returns ctx.Err() if ctx is done before the task is queued and
// ErrPoolClosed after Close.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.queue <- job{ctx: ctx, task: task}:
		p.jobsSubmitted.Add(1)
		return nil
	}
}

// TrySubmit queues task without blocking.
// Returns ErrQueueFull if no slot is free, ctx.Err() if ctx is done and
// ErrPoolClosed after Close.
func (p *Pool) TrySubmit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case p.queue <- job{ctx: ctx, task: task}:
		p.jobsSubmitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks, lets queued tasks finish and waits for the
// workers to exit. Calling Close more than once is safe.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// Workers returns the fixed pool width.
func (p *Pool) Workers() int {
	return p.workers
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:       p.workers,
		QueueCapacity: cap(p.queue),
		Queued:        len(p.queue),
		Busy:          int(p.busy.Load()),
		JobsSubmitted: p.jobsSubmitted.Load(),
		JobsCompleted: p.jobsCompleted.Load(),
		JobsPanicked:  p.jobsPanicked.Load(),
		AvgDuration:   p.averageDuration(),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Workers       int
	QueueCapacity int
	Queued        int
	Busy          int
	JobsSubmitted uint64
	JobsCompleted uint64
	// JobsPanicked counts panics recovered by the pool and by groups.
	JobsPanicked uint64
	AvgDuration  time.Duration
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for j := range p.queue {
		p.run(j)
	}
}

// run executes one job. A panic escaping the task is counted and swallowed so
// the worker survives.
func (p *Pool) run(j job) {
	start := time.Now()
	p.busy.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.jobsPanicked.Add(1)
		}
		p.busy.Add(-1)
		p.jobsCompleted.Add(1)
		p.totalDuration.Add(uint64(time.Since(start).Nanoseconds())) //nolint:gosec // durations are positive
	}()

	j.task(j.ctx)
}

func (p *Pool) averageDuration() time.Duration {
	completed := p.jobsCompleted.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(p.totalDuration.Load() / completed) //nolint:gosec // nanoseconds within int64 range
}
