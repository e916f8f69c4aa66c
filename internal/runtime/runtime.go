// Package runtime wires components C1-C8 together for one process
// lifetime. For each workload it drives the monitor, producer and scheduler
// under one errgroup.Group, joining on the first fatal error or full
// workload completion; the worker pool joins its workers through its own
// errgroup (pool.Start/Wait).
//
// Grounded on the teacher's steel-orchestrator/main.go wiring style (build
// every component, start background loops, wait for shutdown), replacing
// its ad hoc "launch a goroutine, SIGINT triggers pool.Shutdown" shape with
// golang.org/x/sync/errgroup so the first fatal error from any subsystem
// cancels every other subsystem's context, matching spec §4.3/§7's "fatal
// kinds terminate the process" policy.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
	"golang.org/x/sync/errgroup"

	"github.com/hackstrix/workloadmgr/internal/config"
	"github.com/hackstrix/workloadmgr/internal/ioformat"
	"github.com/hackstrix/workloadmgr/internal/kernel"
	"github.com/hackstrix/workloadmgr/internal/livelist"
	"github.com/hackstrix/workloadmgr/internal/modelclient"
	"github.com/hackstrix/workloadmgr/internal/monitor"
	"github.com/hackstrix/workloadmgr/internal/pool"
	"github.com/hackstrix/workloadmgr/internal/producer"
	"github.com/hackstrix/workloadmgr/internal/ring"
	"github.com/hackstrix/workloadmgr/internal/sched"
	"github.com/hackstrix/workloadmgr/internal/slots"
	"github.com/hackstrix/workloadmgr/internal/telemetry"
)

// Runtime owns every per-workload component and the arena that outlives
// them (spec §3 "KernelRecord ... owned by C1 for its whole life").
type Runtime struct {
	cfg   config.Config
	clock clockz.Clock
	log   zerolog.Logger

	store     *kernel.Store
	slotTable *slots.Table
	dup       *slots.DuplicationTable
	lists     *livelist.Lists
	workers   *pool.Pool
	scheduler *sched.Scheduler
	engine    *monitor.Engine

	model *modelclient.Client
	ring  *ring.Ring
}

// New constructs a Runtime. hal is the accelerator primitive, hw the
// monitor's hardware sampler; both are opaque per spec §1's out-of-scope
// list and may be simulated implementations for standalone or test runs.
func New(cfg config.Config, clock clockz.Clock, hal sched.HardwareExecutor, hw monitor.HardwareSampler, log zerolog.Logger) (*Runtime, error) {
	store := kernel.NewStore()
	slotTable := slots.NewTable(cfg.NumSlots)
	dup := slots.NewDuplicationTable()
	lists := livelist.New(cfg.NumSlots)
	workers := pool.New(cfg.NumSlots, log)
	scheduler := sched.New(cfg.NumSlots, store, slotTable, dup, lists, workers, hal, clock, log)

	r := &Runtime{
		cfg:       cfg,
		clock:     clock,
		log:       telemetry.For(log, telemetry.ComponentRuntime),
		store:     store,
		slotTable: slotTable,
		dup:       dup,
		lists:     lists,
		workers:   workers,
		scheduler: scheduler,
	}

	if cfg.ModelServiceAddr != "" {
		client, err := modelclient.Dial(cfg.ModelServiceAddr, cfg.MeasurementsPerTraining, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("runtime: dial model service: %w", err)
		}
		r.model = client
	}

	ringDir := cfg.OutputDir + "/ring"
	rb, err := ring.Open(ringDir, cfg.MeasurementsPerTraining, 4096, 8192, 16384)
	if err != nil {
		if r.model != nil {
			r.model.Close()
		}
		return nil, fmt.Errorf("runtime: open ring: %w", err)
	}
	r.ring = rb

	r.engine = monitor.New(cfg, clock, lists, store, scheduler, hw, r.model, rb, log)

	return r, nil
}

// RunWorkload executes one workload end-to-end: starts the pool, monitor,
// and producer under one errgroup, paces admission from wl, waits for every
// dispatched kernel to both be scanned and complete, then shuts the pool
// down and flushes kernels_info.bin.
func (r *Runtime) RunWorkload(ctx context.Context, wl ioformat.Workload) error {
	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, groupCtx := errgroup.WithContext(groupCtx)

	r.workers.Start(groupCtx)

	eg.Go(func() error {
		return r.engine.Run(groupCtx)
	})

	prod := producer.New(r.clock, r.store, r.scheduler, r.log)

	eg.Go(func() error {
		defer cancel() // producer+scheduler completion ends the monitor loop too
		if err := prod.Run(groupCtx, wl, r.cfg.NumLabels); err != nil {
			return err
		}
		return r.scheduler.Run(groupCtx, wl.NumKernels())
	})

	err := eg.Wait()

	r.workers.Shutdown()
	r.workers.Wait()

	if writeErr := ioformat.WriteKernelsInfo(r.cfg.OutputDir, r.store.Drain()); writeErr != nil {
		if err == nil {
			err = writeErr
		}
	}

	return err
}

// Close releases the model-service connection and ring mappings. Safe to
// call once after every RunWorkload call has returned; idempotent per spec
// §8 property 7 "Idempotent shutdown".
func (r *Runtime) Close() error {
	var first error
	if r.model != nil {
		if err := r.model.Close(); err != nil && first == nil {
			first = err
		}
		r.model = nil
	}
	if r.ring != nil {
		if err := r.ring.Close(); err != nil && first == nil {
			first = err
		}
		r.ring = nil
	}
	return first
}
