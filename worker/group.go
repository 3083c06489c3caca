package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// Group tracks the tasks one request submits to a shared pool. Each task
// passed to Go is awaited exactly once by Wait, whether it returns normally
// or panics.
type Group struct {
	pool    *Pool
	ctx     context.Context
	wg      sync.WaitGroup
	onPanic func(recovered any)

	submitted atomic.Int64
	finished  atomic.Int64
}

// Group starts a new task group bound to ctx.
func (p *Pool) Group(ctx context.Context) *Group {
	return &Group{pool: p, ctx: ctx}
}

// OnPanic registers fn to receive values recovered from panicking tasks.
// It must be set before the first call to Go.
func (g *Group) OnPanic(fn func(recovered any)) *Group {
	g.onPanic = fn
	return g
}

// Go submits task to the pool, blocking while the queue is full. If the
// task cannot be submitted the error is returned and Wait does not count it.
func (g *Group) Go(task Task) error {
	return g.submit(g.pool.Submit, task)
}

// TryGo is like Go but fails with ErrQueueFull instead of blocking.
func (g *Group) TryGo(task Task) error {
	return g.submit(g.pool.TrySubmit, task)
}

func (g *Group) submit(submit func(context.Context, Task) error, task Task) error {
	g.wg.Add(1)
	err := submit(g.ctx, func(ctx context.Context) {
		defer g.wg.Done()
		defer g.finished.Add(1)
		defer func() {
			if r := recover(); r != nil {
				g.pool.jobsPanicked.Add(1)
				if g.onPanic != nil {
					g.onPanic(r)
				}
			}
		}()
		task(ctx)
	})
	if err != nil {
		g.wg.Done()
		return err
	}
	g.submitted.Add(1)
	return nil
}

// Wait blocks until every submitted task has returned. Everything a task
// did before returning happens-before Wait returns.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Submitted returns the number of tasks accepted by the pool.
func (g *Group) Submitted() int {
	return int(g.submitted.Load())
}

// Finished returns the number of tasks that have returned.
func (g *Group) Finished() int {
	return int(g.finished.Load())
}
