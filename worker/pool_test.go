package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_NewPool(t *testing.T) {
	pool := NewPool(2, 4)
	defer pool.Close()

	if pool.Workers() != 2 {
		t.Errorf("Workers() = %d; want 2", pool.Workers())
	}
	if got := pool.Stats().QueueCapacity; got != 4 {
		t.Errorf("QueueCapacity = %d; want 4", got)
	}
}

func TestPool_Defaults(t *testing.T) {
	pool := NewPool(0, 0)
	defer pool.Close()

	if pool.Workers() <= 0 {
		t.Errorf("Workers() = %d; want > 0", pool.Workers())
	}
	if got := pool.Stats().QueueCapacity; got != pool.Workers()*2 {
		t.Errorf("QueueCapacity = %d; want %d", got, pool.Workers()*2)
	}
}

func TestPool_SubmitRuns(t *testing.T) {
	pool := NewPool(2, 2)
	defer pool.Close()

	done := make(chan struct{})
	if err := pool.Submit(context.Background(), func(context.Context) { close(done) }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for task")
	}
}

func TestPool_SubmitToClosedPool(t *testing.T) {
	pool := NewPool(2, 2)
	pool.Close()

	err := pool.Submit(context.Background(), func(context.Context) {})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() error = %v; want ErrPoolClosed", err)
	}
	if err := pool.TrySubmit(context.Background(), func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("TrySubmit() error = %v; want ErrPoolClosed", err)
	}
}

func TestPool_DoubleClose(t *testing.T) {
	pool := NewPool(2, 2)
	pool.Close()
	pool.Close() // Should not panic
}

func TestPool_TrySubmitQueueFull(t *testing.T) {
	pool := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	defer func() {
		close(release)
		pool.Close()
	}()

	// Occupy the only worker, then the only queue slot.
	if err := pool.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started
	if err := pool.TrySubmit(context.Background(), func(context.Context) {}); err != nil {
		t.Fatalf("TrySubmit() error = %v; want nil", err)
	}

	if err := pool.TrySubmit(context.Background(), func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("TrySubmit() error = %v; want ErrQueueFull", err)
	}
}

func TestPool_SubmitHonorsContext(t *testing.T) {
	pool := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	defer func() {
		close(release)
		pool.Close()
	}()

	_ = pool.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	})
	<-started
	_ = pool.Submit(context.Background(), func(context.Context) {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(context.Context) {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() error = %v; want DeadlineExceeded", err)
	}
}

func TestPool_CanceledContextNeverQueues(t *testing.T) {
	pool := NewPool(1, 1024)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 100; i++ {
		if err := pool.Submit(ctx, func(context.Context) {}); !errors.Is(err, context.Canceled) {
			t.Fatalf("Submit() error = %v; want context.Canceled", err)
		}
		if err := pool.TrySubmit(ctx, func(context.Context) {}); !errors.Is(err, context.Canceled) {
			t.Fatalf("TrySubmit() error = %v; want context.Canceled", err)
		}
	}
	if n := pool.Stats().JobsSubmitted; n != 0 {
		t.Errorf("JobsSubmitted = %d; want 0", n)
	}
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	pool := NewPool(1, 2)
	defer pool.Close()

	_ = pool.Submit(context.Background(), func(context.Context) { panic("boom") })

	done := make(chan struct{})
	_ = pool.Submit(context.Background(), func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}

	if got := pool.Stats().JobsPanicked; got != 1 {
		t.Errorf("JobsPanicked = %d; want 1", got)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	pool := NewPool(workers, 64)
	defer pool.Close()

	var current, peak atomic.Int32
	g := pool.Group(context.Background())
	for i := 0; i < 30; i++ {
		if err := g.Go(func(context.Context) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
		}); err != nil {
			t.Fatalf("Go() error = %v", err)
		}
	}
	g.Wait()

	if got := peak.Load(); got > workers {
		t.Errorf("peak concurrency = %d; want <= %d", got, workers)
	}
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	pool := NewPool(1, 16)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		_ = pool.Submit(context.Background(), func(context.Context) { ran.Add(1) })
	}
	pool.Close()

	if got := ran.Load(); got != 10 {
		t.Errorf("ran = %d; want 10", got)
	}
}

func TestPool_Stats(t *testing.T) {
	pool := NewPool(2, 4)
	defer pool.Close()

	g := pool.Group(context.Background())
	_ = g.Go(func(context.Context) {})
	g.Wait()

	stats := pool.Stats()
	if stats.Workers != 2 {
		t.Errorf("Workers = %d; want 2", stats.Workers)
	}
	if stats.JobsSubmitted == 0 {
		t.Error("expected JobsSubmitted > 0")
	}
}

func TestPool_ConcurrentSubmitAndClose(t *testing.T) {
	pool := NewPool(4, 8)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := pool.Submit(context.Background(), func(context.Context) {}); err != nil {
					return
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	pool.Close()
	wg.Wait()
}
