// Package integration exercises the end-to-end scenarios from spec §8,
// wiring C1-C5 together the way internal/runtime does but with direct
// access to internals for assertions the public Runtime API does not
// expose (e.g. mid-run free-slot counts).
package integration

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
	"github.com/hackstrix/workloadmgr/internal/sched"
	"github.com/hackstrix/workloadmgr/internal/slots"
)

type instantHAL struct{}

func (instantHAL) ExecuteKernel(ctx context.Context, label, cu int, slotMask uint64, executions int) error {
	return nil
}

// TestSlotConservationHoldsAcrossMixedWorkload exercises spec §8 property 1
// (slot conservation) across a mixed wide/narrow workload (scenarios S1+S2
// combined): once every kernel has completed, all slots are free again.
func TestSlotConservationHoldsAcrossMixedWorkload(t *testing.T) {
	const numSlots = 8
	store := kernel.NewStore()
	slotTable := slots.NewTable(numSlots)
	dup := slots.NewDuplicationTable()
	lists := livelist.New(numSlots)
	workers := pool.New(numSlots, zerolog.Nop())
	schd := sched.New(numSlots, store, slotTable, dup, lists, workers, instantHAL{}, clockz.NewFakeClock(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workers.Start(ctx)

	_, err := store.Append(kernel.Label(0), 11, 1, 8, 0, time.Now())
	require.NoError(t, err)
	schd.KernelAppended()
	for i := 1; i <= 10; i++ {
		_, err := store.Append(kernel.Label(i), 11, 1, 1, float64(i), time.Now())
		require.NoError(t, err)
		schd.KernelAppended()
	}

	require.NoError(t, schd.Run(ctx, 11))

	for i := 0; i < 500 && !workers.IsDone(); i++ {
		time.Sleep(time.Millisecond)
	}
	require.True(t, workers.IsDone())

	assert.Equal(t, numSlots, slotTable.Free(), "slot conservation: free_slots must return to NUM_SLOTS once every kernel has completed")
}

// TestAtMostOnePerLabelAndDispatchOrder exercises spec §8 property 2 and
// scenario S3's exact dispatch order. The HAL hook keeps the first label=5
// kernel running until the label=6 kernel has executed, so the resulting
// order is deterministic.
func TestAtMostOnePerLabelAndDispatchOrder(t *testing.T) {
	const numSlots = 8
	store := kernel.NewStore()
	slotTable := slots.NewTable(numSlots)
	dup := slots.NewDuplicationTable()
	lists := livelist.New(numSlots)
	workers := pool.New(numSlots, zerolog.Nop())

	var orderMu sync.Mutex
	var order []int
	firstFiveRan := make(chan struct{})
	sixRan := make(chan struct{})
	orderingHAL := hookedHAL{onExecute: func(label int) {
		if label == 6 {
			<-firstFiveRan
		}
		orderMu.Lock()
		order = append(order, label)
		n := len(order)
		orderMu.Unlock()
		switch {
		case label == 5 && n == 1:
			close(firstFiveRan)
			<-sixRan
		case label == 6:
			close(sixRan)
		}
	}}
	schd := sched.New(numSlots, store, slotTable, dup, lists, workers, orderingHAL, clockz.NewFakeClock(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workers.Start(ctx)

	_, err := store.Append(kernel.Label(5), 11, 1, 1, 0, time.Now())
	require.NoError(t, err)
	schd.KernelAppended()
	_, err = store.Append(kernel.Label(5), 11, 1, 1, 1, time.Now())
	require.NoError(t, err)
	schd.KernelAppended()
	_, err = store.Append(kernel.Label(6), 11, 1, 1, 2, time.Now())
	require.NoError(t, err)
	schd.KernelAppended()

	require.NoError(t, schd.Run(ctx, 3))

	for i := 0; i < 500 && !workers.IsDone(); i++ {
		time.Sleep(time.Millisecond)
	}
	require.True(t, workers.IsDone())

	assert.Equal(t, []int{5, 6, 5}, order, "second label=5 kernel must leapfrog behind label=6 but run after the first label=5 completes")
}

// hookedHAL calls onExecute with the label of every ExecuteKernel call and
// returns once onExecute returns.
type hookedHAL struct {
	onExecute func(label int)
}

func (h hookedHAL) ExecuteKernel(ctx context.Context, label, cu int, slotMask uint64, executions int) error {
	h.onExecute(label)
	return nil
}
