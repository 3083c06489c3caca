// Package worker provides the process-wide worker pool that runs entry
// validation jobs, and Group, the per-request join used as a completion
// barrier.
//
// The pool is created once with a fixed number of goroutines and shared by
// every request until shutdown:
//
//	pool := worker.NewPool(32, 4096)
//	defer pool.Close()
//
//	g := pool.Group(ctx)
//	for _, entry := range entries {
//	    if err := g.Go(func(ctx context.Context) { validate(ctx, entry) }); err != nil {
//	        break
//	    }
//	}
//	g.Wait() // every submitted task has returned
//
// A panic inside a task is recovered at the task boundary; the worker keeps
// running and the Group still counts the task as finished.
package worker
