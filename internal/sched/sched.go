// Package sched implements the dispatch scheduler (C3, spec §4.3): the
// admission loop that selects the next executable kernel, reserves slots,
// marks duplication, and hands a task to the worker pool.
//
// Grounded on the teacher's steel-orchestrator/pool.go scaleLoop/Acquire
// pattern for "wait under a lock on a multi-condition predicate, recheck
// after wake", generalized from Pool's single channel-semaphore wait to the
// four-condition AND spec §4.3 and §9 "Condition-variable predicate" call
// for. The wake-up flag discipline (clear only at scan start, set only on
// success or externally) is grounded on other_examples/edirooss-zmux-server's
// slotPool condvar-recheck-in-a-loop idiom and is exactly what spec §9
// flags as the race scenario S3 exercises.
package sched

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"

	"github.com/hackstrix/workloadmgr/internal/kernel"
	"github.com/hackstrix/workloadmgr/internal/livelist"
	"github.com/hackstrix/workloadmgr/internal/pool"
	"github.com/hackstrix/workloadmgr/internal/slots"
	"github.com/hackstrix/workloadmgr/internal/telemetry"
)

// Mode is the scheduler's operating mode (spec §4.3/§4.6).
type Mode int

const (
	// Execution is the normal dispatching mode.
	Execution Mode = iota
	// Train pauses new dispatches while the monitoring engine consults the
	// external model service; already-running kernels continue.
	Train
)

// HardwareExecutor is the opaque accelerator primitive (spec §1 "out of
// scope", §4.3 worker routine). The core treats it as a bounded-time call
// that either succeeds or fails fatally.
type HardwareExecutor interface {
	ExecuteKernel(ctx context.Context, label int, cu int, slotMask uint64, executions int) error
}

// Scheduler holds the four gating conditions under one service mutex/cond
// (spec §5 "service mutex") and drives dispatch.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	kernelsToServe         int
	kernelsMayBeExecutable bool
	freeSlots              int
	mode                   Mode

	fatalMu sync.Mutex
	fatal   error
	cancel  context.CancelFunc

	store     *kernel.Store
	slotTable *slots.Table
	dup       *slots.DuplicationTable
	lists     *livelist.Lists
	workers   *pool.Pool
	hal       HardwareExecutor
	clock     clockz.Clock

	log zerolog.Logger
}

// New constructs a scheduler over the given components. numSlots seeds
// free_slots to NUM_SLOTS (spec DATA MODEL "SlotTable"). clock is the sole
// time source for every KernelRecord timestamp field the scheduler sets,
// matching the clock already threaded into producer.New/monitor.New.
func New(numSlots int, store *kernel.Store, slotTable *slots.Table, dup *slots.DuplicationTable, lists *livelist.Lists, workers *pool.Pool, hal HardwareExecutor, clock clockz.Clock, log zerolog.Logger) *Scheduler {
	s := &Scheduler{
		freeSlots: numSlots,
		mode:      Execution,
		store:     store,
		slotTable: slotTable,
		dup:       dup,
		lists:     lists,
		workers:   workers,
		hal:       hal,
		clock:     clock,
		log:       telemetry.For(log, telemetry.ComponentScheduler),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// KernelAppended must be called once per successful kernel.Store.Append, to
// bump kernels_to_serve and allow a waiting scan to proceed.
func (s *Scheduler) KernelAppended() {
	s.mu.Lock()
	s.kernelsToServe++
	s.kernelsMayBeExecutable = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// SetMode transitions the operating mode (spec §4.6 sets this to Train at
// a window boundary, then back to Execution) and wakes any waiter.
func (s *Scheduler) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Mode returns the current operating mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Fatal returns the first fatal error recorded by a dispatched worker's HAL
// call, or nil if none occurred yet.
func (s *Scheduler) Fatal() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatal
}

func (s *Scheduler) fail(err error) {
	s.fatalMu.Lock()
	if s.fatal == nil {
		s.fatal = err
		s.log.Error().Err(err).Msg("fatal error, cancelling run")
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.fatalMu.Unlock()
}

// Run executes the per-workload admission loop (spec §4.3), dispatching
// exactly numKernels times before returning. It blocks on the service
// condition variable between dispatches, rechecking all four gating
// conditions on every wake (spec §9 "Condition-variable predicate").
func (s *Scheduler) Run(ctx context.Context, numKernels int) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.fatalMu.Lock()
	s.cancel = cancel
	s.fatalMu.Unlock()
	defer cancel()

	for admitted := 0; admitted < numKernels; admitted++ {
		s.mu.Lock()
		for s.kernelsToServe == 0 || !s.kernelsMayBeExecutable || s.freeSlots == 0 || s.mode == Train {
			if runCtx.Err() != nil {
				s.mu.Unlock()
				return s.Fatal()
			}
			s.cond.Wait()
		}

		freeNow := s.freeSlots
		s.kernelsMayBeExecutable = false

		idx, ok := s.store.ScanAndRemoveFirstExecutable(freeNow, s.dup)
		if !ok {
			// Leave kernels_may_be_executable untouched: whatever concurrent
			// setter fired during this scan (a completing worker, the
			// producer) must survive to the next wake. Retry this same
			// admission slot.
			s.mu.Unlock()
			admitted--
			continue
		}
		s.kernelsMayBeExecutable = true

		rec := s.store.Get(idx)
		s.dup.Acquire(int(rec.Label))
		s.freeSlots -= rec.CU
		s.mu.Unlock()

		mask, ok := s.slotTable.Allocate(rec.CU)
		if !ok {
			s.fail(fmt.Errorf("sched: slot allocation invariant violated for kernel %d (cu=%d)", rec.ID, rec.CU))
			return s.Fatal()
		}
		rec.SlotMask = mask

		s.workers.Dispatch(pool.Task{Run: func() {
			s.execute(runCtx, idx, rec)
		}})

		s.mu.Lock()
		s.kernelsToServe--
		s.mu.Unlock()

		if runCtx.Err() != nil {
			return s.Fatal()
		}
	}
	return s.Fatal()
}

// execute runs inside a worker goroutine: registers the kernel into the
// live lists before starting the HAL clock, times the HAL call, then
// releases slots and notifies the scheduler (spec §4.3 "completion side").
func (s *Scheduler) execute(ctx context.Context, idx kernel.Index, rec *kernel.Record) {
	s.lists.Register(rec.SlotMask, idx)

	rec.MeasuredArrival = s.clock.Now()
	rec.MeasuredPreExec = s.clock.Now()

	err := s.hal.ExecuteKernel(ctx, int(rec.Label), rec.CU, rec.SlotMask, rec.Executions)

	rec.MeasuredPostExec = s.clock.Now()
	rec.MeasuredFinish = s.clock.Now()

	if err != nil {
		s.fail(fmt.Errorf("sched: HAL error executing kernel %d: %w", rec.ID, err))
		return
	}

	s.slotTable.Release(rec.SlotMask)
	rec.SlotMask = 0
	s.dup.Release(int(rec.Label))

	s.mu.Lock()
	s.freeSlots += rec.CU
	s.kernelsMayBeExecutable = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// FreeSlots returns the current free-slot count, for diagnostics.
func (s *Scheduler) FreeSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeSlots
}
