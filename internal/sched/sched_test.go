package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/hackstrix/workloadmgr/internal/kernel"
	"github.com/hackstrix/workloadmgr/internal/livelist"
	"github.com/hackstrix/workloadmgr/internal/pool"
	"github.com/hackstrix/workloadmgr/internal/slots"
)

// recordingHAL logs the label order of ExecuteKernel calls, and blocks each
// call until its label is unblocked, to pin down dispatch ordering.
type recordingHAL struct {
	mu      sync.Mutex
	order   []int
	release map[int]chan struct{}
}

func newRecordingHAL() *recordingHAL {
	return &recordingHAL{release: map[int]chan struct{}{}}
}

func (h *recordingHAL) gate(label int) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.release[label]
	if !ok {
		ch = make(chan struct{})
		h.release[label] = ch
	}
	return ch
}

func (h *recordingHAL) unblock(label int) {
	close(h.gate(label))
}

func (h *recordingHAL) ExecuteKernel(ctx context.Context, label, cu int, slotMask uint64, executions int) error {
	h.mu.Lock()
	h.order = append(h.order, label)
	h.mu.Unlock()
	<-h.gate(label)
	return nil
}

func newTestHarness(t *testing.T, numSlots int, hal HardwareExecutor) (*Scheduler, *kernel.Store, *pool.Pool, context.Context, context.CancelFunc) {
	t.Helper()
	store := kernel.NewStore()
	slotTable := slots.NewTable(numSlots)
	dup := slots.NewDuplicationTable()
	lists := livelist.New(numSlots)
	workers := pool.New(numSlots, zerolog.Nop())

	s := New(numSlots, store, slotTable, dup, lists, workers, hal, clockz.NewFakeClock(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	workers.Start(ctx)
	return s, store, workers, ctx, cancel
}

// TestSingleNarrowKernel exercises scenario S1: one cu=1 kernel dispatches
// immediately and completes, leaving free_slots back at NUM_SLOTS.
func TestSingleNarrowKernel(t *testing.T) {
	hal := newRecordingHAL()
	s, store, workers, ctx, cancel := newTestHarness(t, 8, hal)
	defer cancel()

	idx, err := store.Append(kernel.Label(3), 11, 1, 1, 0, time.Now())
	require.NoError(t, err)
	s.KernelAppended()
	_ = idx

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 1) }()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 7, s.FreeSlots())

	hal.unblock(3)

	require.NoError(t, <-done)

	for i := 0; i < 200 && !workers.IsDone(); i++ {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 8, s.FreeSlots())
}

// TestWideKernelBlocksNarrows exercises scenario S2: a cu=8 kernel
// dispatches first and occupies every slot; narrow kernels queue until it
// completes.
func TestWideKernelBlocksNarrows(t *testing.T) {
	hal := newRecordingHAL()
	s, store, workers, ctx, cancel := newTestHarness(t, 8, hal)
	defer cancel()

	_, err := store.Append(kernel.Label(0), 11, 1, 8, 0, time.Now())
	require.NoError(t, err)
	s.KernelAppended()

	for i := 1; i <= 10; i++ {
		_, err := store.Append(kernel.Label(i), 11, 1, 1, float64(i), time.Now())
		require.NoError(t, err)
		s.KernelAppended()
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 11) }()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, s.FreeSlots(), "the wide kernel must occupy all 8 slots before any narrow kernel runs")

	hal.unblock(0)

	time.Sleep(20 * time.Millisecond)
	for i := 1; i <= 10; i++ {
		hal.unblock(i)
	}

	require.NoError(t, <-done)
	for i := 0; i < 200 && !workers.IsDone(); i++ {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 8, s.FreeSlots())
}

// TestDuplicateSuppression exercises scenario S3: two label=5 kernels plus
// one label=6 kernel; the second label=5 must wait for the first to
// complete, and label=6 leapfrogs it in dispatch order.
func TestDuplicateSuppression(t *testing.T) {
	hal := newRecordingHAL()
	s, store, workers, ctx, cancel := newTestHarness(t, 8, hal)
	defer cancel()

	_, err := store.Append(kernel.Label(5), 11, 1, 1, 0, time.Now())
	require.NoError(t, err)
	s.KernelAppended()
	_, err = store.Append(kernel.Label(5), 11, 1, 1, 1, time.Now())
	require.NoError(t, err)
	s.KernelAppended()
	_, err = store.Append(kernel.Label(6), 11, 1, 1, 2, time.Now())
	require.NoError(t, err)
	s.KernelAppended()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 3) }()

	// First label=5 and label=6 should both be able to dispatch immediately
	// (distinct labels, plenty of free slots); the second label=5 must not
	// start until the first completes.
	time.Sleep(20 * time.Millisecond)
	hal.mu.Lock()
	order := append([]int(nil), hal.order...)
	hal.mu.Unlock()
	assert.Subset(t, []int{5, 6}, order)
	assert.NotContains(t, order, -1)
	assert.ElementsMatch(t, []int{5, 6}, order, "exactly one label=5 and one label=6 kernel may be running before the first label=5 completes")

	hal.unblock(6)
	hal.unblock(5) // releases the first label=5 call

	require.Eventually(t, func() bool {
		hal.mu.Lock()
		defer hal.mu.Unlock()
		return len(hal.order) == 3
	}, 2*time.Second, time.Millisecond, "second label=5 kernel never dispatched after the first completed")

	require.NoError(t, <-done)
	for i := 0; i < 200 && !workers.IsDone(); i++ {
		time.Sleep(time.Millisecond)
	}
}
