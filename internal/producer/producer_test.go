package producer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/hackstrix/workloadmgr/internal/ioformat"
	"github.com/hackstrix/workloadmgr/internal/kernel"
	"github.com/hackstrix/workloadmgr/internal/livelist"
	"github.com/hackstrix/workloadmgr/internal/pool"
	"github.com/hackstrix/workloadmgr/internal/sched"
	"github.com/hackstrix/workloadmgr/internal/slots"
)

type noopHAL struct{}

func (noopHAL) ExecuteKernel(ctx context.Context, label, cu int, slotMask uint64, executions int) error {
	return nil
}

func TestProducerAdmitsInOrderAtCommandedArrival(t *testing.T) {
	clock := clockz.NewFakeClock()
	store := kernel.NewStore()
	slotTable := slots.NewTable(8)
	dup := slots.NewDuplicationTable()
	lists := livelist.New(8)
	workers := pool.New(8, zerolog.Nop())
	schd := sched.New(8, store, slotTable, dup, lists, workers, noopHAL{}, clock, zerolog.Nop())

	p := New(clock, store, schd, zerolog.Nop())

	wl := ioformat.Workload{
		InterArrivalMS: []float32{0, 10, 5},
		KernelID:       []int32{3, 1, 2},
		NumExecutions:  []int32{1, 1, 1},
	}

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), wl, 11) }()

	// Each record's inter-arrival delta only becomes a registered timer
	// once the producer reaches that iteration, so advance in small steps
	// rather than one large jump.
	var runErr error
loop:
	for i := 0; i < 50; i++ {
		select {
		case runErr = <-done:
			break loop
		default:
			clock.BlockUntilReady()
			clock.Advance(time.Millisecond)
		}
	}
	if runErr == nil {
		select {
		case runErr = <-done:
		case <-time.After(time.Second):
			t.Fatal("producer never finished")
		}
	}

	require.NoError(t, runErr)
	assert.Equal(t, 3, store.Len())

	rec0 := store.Get(0)
	rec1 := store.Get(1)
	rec2 := store.Get(2)
	assert.Equal(t, kernel.Label(3), rec0.Label)
	assert.Equal(t, kernel.Label(1), rec1.Label)
	assert.Equal(t, kernel.Label(2), rec2.Label)
	assert.Equal(t, 10*time.Millisecond, rec1.CommandedArrival.Sub(rec0.CommandedArrival))
	assert.Equal(t, 5*time.Millisecond, rec2.CommandedArrival.Sub(rec1.CommandedArrival))
}

func TestProducerRejectsOutOfRangeLabel(t *testing.T) {
	clock := clockz.NewFakeClock()
	store := kernel.NewStore()
	slotTable := slots.NewTable(8)
	dup := slots.NewDuplicationTable()
	lists := livelist.New(8)
	workers := pool.New(8, zerolog.Nop())
	schd := sched.New(8, store, slotTable, dup, lists, workers, noopHAL{}, clock, zerolog.Nop())

	p := New(clock, store, schd, zerolog.Nop())

	wl := ioformat.Workload{
		InterArrivalMS: []float32{0},
		KernelID:       []int32{99},
		NumExecutions:  []int32{1},
	}

	err := p.Run(context.Background(), wl, 11)
	assert.Error(t, err)
}
