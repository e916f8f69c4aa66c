package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(numSlots int) *Pool {
	return New(numSlots, zerolog.Nop())
}

func TestDispatchRunsOnExactlyOneWorker(t *testing.T) {
	p := newTestPool(1) // W = 2 workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var ran int32
	done := make(chan struct{})
	p.Dispatch(Task{Run: func() {
		atomic.AddInt32(&ran, 1)
		close(done)
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))

	p.Shutdown()
	require.NoError(t, p.Wait())
}

func TestIsDoneReflectsInFlightWork(t *testing.T) {
	p := newTestPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	release := make(chan struct{})
	started := make(chan struct{})
	p.Dispatch(Task{Run: func() {
		close(started)
		<-release
	}})

	<-started
	assert.False(t, p.IsDone())

	close(release)
	// Give the worker a moment to flip its running flag back off.
	for i := 0; i < 100 && !p.IsDone(); i++ {
		time.Sleep(time.Millisecond)
	}
	assert.True(t, p.IsDone())

	p.Shutdown()
	require.NoError(t, p.Wait())
}

func TestDispatchSerializesAcrossManyTasks(t *testing.T) {
	p := newTestPool(3) // W = 4 workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var mu sync.Mutex
	var seen []int
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		n := i
		p.Dispatch(Task{Run: func() {
			defer wg.Done()
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
		}})
	}
	wg.Wait()

	mu.Lock()
	assert.Len(t, seen, 20)
	mu.Unlock()

	p.Shutdown()
	require.NoError(t, p.Wait())
}

func TestShutdownIsIdempotentFromCallerSide(t *testing.T) {
	p := newTestPool(0) // W = 1 worker
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Shutdown()
	p.Shutdown() // second call must not panic or deadlock
	require.NoError(t, p.Wait())
}
