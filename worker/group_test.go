package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestGroup_WaitsForAllTasks(t *testing.T) {
	pool := NewPool(4, 8)
	defer pool.Close()

	var ran atomic.Int32
	g := pool.Group(context.Background())
	for i := 0; i < 100; i++ {
		if err := g.Go(func(context.Context) { ran.Add(1) }); err != nil {
			t.Fatalf("Go() error = %v", err)
		}
	}
	g.Wait()

	if got := ran.Load(); got != 100 {
		t.Errorf("ran = %d; want 100", got)
	}
	if g.Submitted() != 100 || g.Finished() != 100 {
		t.Errorf("Submitted/Finished = %d/%d; want 100/100", g.Submitted(), g.Finished())
	}
}

func TestGroup_EmptyWaitReturns(t *testing.T) {
	pool := NewPool(1, 1)
	defer pool.Close()

	g := pool.Group(context.Background())
	g.Wait()
	if g.Submitted() != 0 {
		t.Errorf("Submitted() = %d; want 0", g.Submitted())
	}
}

func TestGroup_PanicIsRecoveredAndCounted(t *testing.T) {
	pool := NewPool(2, 4)
	defer pool.Close()

	var recovered atomic.Value
	var ran atomic.Int32
	g := pool.Group(context.Background()).OnPanic(func(r any) { recovered.Store(r) })

	_ = g.Go(func(context.Context) { panic("bad entry") })
	_ = g.Go(func(context.Context) { ran.Add(1) })
	g.Wait()

	if got := recovered.Load(); got != "bad entry" {
		t.Errorf("recovered = %v; want %q", got, "bad entry")
	}
	if ran.Load() != 1 {
		t.Errorf("sibling task ran %d times; want 1", ran.Load())
	}
	if g.Finished() != 2 {
		t.Errorf("Finished() = %d; want 2", g.Finished())
	}
	if n := pool.Stats().JobsPanicked; n != 1 {
		t.Errorf("pool JobsPanicked = %d; want 1", n)
	}
}

func TestGroup_TryGoQueueFull(t *testing.T) {
	pool := NewPool(1, 1)
	defer pool.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	g := pool.Group(context.Background())
	if err := g.TryGo(func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("TryGo() error = %v", err)
	}
	<-started
	if err := g.TryGo(func(context.Context) {}); err != nil {
		t.Fatalf("TryGo() into the free slot error = %v", err)
	}
	if err := g.TryGo(func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("TryGo() error = %v; want ErrQueueFull", err)
	}

	close(release)
	g.Wait()
	if g.Submitted() != 2 || g.Finished() != 2 {
		t.Errorf("Submitted/Finished = %d/%d; want 2/2", g.Submitted(), g.Finished())
	}
}

func TestGroup_CanceledContextSubmitsNothing(t *testing.T) {
	pool := NewPool(1, 64)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := pool.Group(ctx)
	for i := 0; i < 50; i++ {
		if err := g.Go(func(context.Context) {}); !errors.Is(err, context.Canceled) {
			t.Fatalf("Go() error = %v; want context.Canceled", err)
		}
	}
	g.Wait()
	if g.Submitted() != 0 {
		t.Errorf("Submitted() = %d; want 0", g.Submitted())
	}
}

func TestGroup_SubmitFailureIsNotAwaited(t *testing.T) {
	pool := NewPool(1, 1)
	pool.Close()

	g := pool.Group(context.Background())
	if err := g.Go(func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Go() error = %v; want ErrPoolClosed", err)
	}
	g.Wait() // must not block
	if g.Submitted() != 0 {
		t.Errorf("Submitted() = %d; want 0", g.Submitted())
	}
}

func TestGroup_SharedPoolIsolatesRequests(t *testing.T) {
	pool := NewPool(2, 16)
	defer pool.Close()

	var a, b atomic.Int32
	ga := pool.Group(context.Background())
	gb := pool.Group(context.Background())
	for i := 0; i < 10; i++ {
		_ = ga.Go(func(context.Context) { a.Add(1) })
		_ = gb.Go(func(context.Context) { b.Add(1) })
	}
	ga.Wait()
	if a.Load() != 10 {
		t.Errorf("group a ran %d; want 10", a.Load())
	}
	gb.Wait()
	if b.Load() != 10 {
		t.Errorf("group b ran %d; want 10", b.Load())
	}
}
