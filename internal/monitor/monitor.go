// Package monitor implements the monitoring engine (C6, spec §4.6): a
// single goroutine ticking against an absolute monotonic deadline, sampling
// hardware, walking each slot's live list to decide per-window
// attribution, writing the ring buffers, and gating training phases
// through the model-service client.
//
// Grounded on the teacher's steel-orchestrator/pool.go scaleLoop (a fixed-
// period ticker goroutine reconciling external state under a lock), but
// the absolute-deadline accounting and fake-clock testability are grounded
// on zoobzio/pipz's clockz.Clock usage (ratelimiter.go, backoff.go): every
// sleep in this engine goes through a clockz.Clock so tests can advance a
// FakeClock instead of sleeping real wall time.
package monitor

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"

	"github.com/hackstrix/workloadmgr/internal/config"
	"github.com/hackstrix/workloadmgr/internal/kernel"
	"github.com/hackstrix/workloadmgr/internal/livelist"
	"github.com/hackstrix/workloadmgr/internal/modelclient"
	"github.com/hackstrix/workloadmgr/internal/ring"
	"github.com/hackstrix/workloadmgr/internal/sched"
	"github.com/hackstrix/workloadmgr/internal/telemetry"
)

// HardwareSampler is the opaque monitor-hardware primitive spec §1 puts out
// of scope ("physical monitor hardware registers, CPU-usage sampler"). The
// engine depends only on this interface; production wiring supplies a
// register-backed implementation outside this module's scope, and this
// package ships a deterministic simulated implementation for tests and
// standalone runs.
type HardwareSampler interface {
	// CPUUsage returns the user/kernel/idle percentage triple.
	CPUUsage() (user, kern, idle float32)
	// StartAcquisition begins one hardware acquisition window.
	StartAcquisition() error
	// WaitCompletion blocks until the acquisition finishes.
	WaitCompletion() error
	// Read returns the window's raw power and trace sample bytes, plus the
	// elapsed acquisition duration.
	Read() (power, traces []byte, elapsed time.Duration, err error)
}

// SimulatedSampler is a deterministic stand-in HardwareSampler: it produces
// fixed-size zeroed sample buffers immediately, since the real monitor
// registers are explicitly out of this specification's scope (spec §1).
type SimulatedSampler struct {
	PowerBytes  int
	TraceBytes  int
	CPUUser     float32
	CPUKernel   float32
	CPUIdle     float32
}

// NewSimulatedSampler returns a sampler with reasonable default sample sizes.
func NewSimulatedSampler() *SimulatedSampler {
	return &SimulatedSampler{PowerBytes: 256, TraceBytes: 512, CPUUser: 0.3, CPUKernel: 0.1, CPUIdle: 0.6}
}

func (s *SimulatedSampler) CPUUsage() (float32, float32, float32) { return s.CPUUser, s.CPUKernel, s.CPUIdle }
func (s *SimulatedSampler) StartAcquisition() error                { return nil }
func (s *SimulatedSampler) WaitCompletion() error                  { return nil }
func (s *SimulatedSampler) Read() ([]byte, []byte, time.Duration, error) {
	return make([]byte, s.PowerBytes), make([]byte, s.TraceBytes), time.Millisecond, nil
}

// Engine drives one monitoring ring for the lifetime of a workload.
type Engine struct {
	cfg    config.Config
	clock  clockz.Clock
	lists  *livelist.Lists
	store  *kernel.Store
	sched  *sched.Scheduler
	hw     HardwareSampler
	model  *modelclient.Client
	ring   *ring.Ring
	log    zerolog.Logger

	windowIndex int
}

// New constructs a monitoring engine. ring and model may be nil for tests
// that only exercise the windowing predicate.
func New(cfg config.Config, clock clockz.Clock, lists *livelist.Lists, store *kernel.Store, schd *sched.Scheduler, hw HardwareSampler, model *modelclient.Client, r *ring.Ring, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		clock: clock,
		lists: lists,
		store: store,
		sched: schd,
		hw:    hw,
		model: model,
		ring:  r,
		log:   telemetry.For(log, telemetry.ComponentMonitor),
	}
}

// Run ticks until ctx is cancelled (spec §4.6 "monitorization_stop_flag
// terminates the loop at the start of the next iteration; in-flight
// acquisition completes first").
func (e *Engine) Run(ctx context.Context) error {
	nextTick := e.clock.Now().Add(e.cfg.StartupDelay)

	for {
		if err := e.sleepUntil(ctx, nextTick); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		w := livelist.Window{Start: e.clock.Now()}

		cpuUser, cpuKern, cpuIdle := e.hw.CPUUsage()
		if err := e.hw.StartAcquisition(); err != nil {
			return fmt.Errorf("monitor: start acquisition: %w", err)
		}
		if err := e.hw.WaitCompletion(); err != nil {
			return fmt.Errorf("monitor: wait completion: %w", err)
		}
		w.Finish = e.clock.Now()

		power, traces, _, err := e.hw.Read()
		if err != nil {
			// Recoverable kind (spec §7 "Monitor read error"): discard this
			// window and continue at the next tick.
			e.log.Warn().Err(err).Msg("discarding window after read error")
			nextTick = nextTick.Add(e.cfg.WindowPeriod)
			continue
		}

		online := e.buildOnlineRecord(cpuUser, cpuKern, cpuIdle, w)

		if e.ring != nil {
			if err := e.ring.Power.Write(power); err != nil {
				return fmt.Errorf("monitor: write power segment: %w", err)
			}
			if err := e.ring.Traces.Write(traces); err != nil {
				return fmt.Errorf("monitor: write traces segment: %w", err)
			}
			if err := e.ring.Online.Write(online); err != nil {
				return fmt.Errorf("monitor: write online segment: %w", err)
			}
			e.ring.Advance()
		}

		e.windowIndex++

		if e.windowIndex%e.cfg.MeasurementsPerTraining == 0 {
			if err := e.runTrainingPhase(ctx); err != nil {
				return err
			}
			nextTick = e.clock.Now()
		}

		nextTick = nextTick.Add(e.cfg.WindowPeriod)
	}
}

func (e *Engine) sleepUntil(ctx context.Context, deadline time.Time) error {
	d := deadline.Sub(e.clock.Now())
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case <-e.clock.After(d):
		return nil
	}
}

// runTrainingPhase executes spec §4.6's training-phase gating: pause new
// dispatches, consult the model service, resume, and optionally idle for a
// commanded duration while dispatch stays resumed.
func (e *Engine) runTrainingPhase(ctx context.Context) error {
	e.sched.SetMode(sched.Train)

	var obsToWait int32
	var err error
	if e.model != nil {
		obsToWait, err = e.model.Operation(e.cfg.MeasurementsPerTraining)
		if err != nil {
			return fmt.Errorf("monitor: model operation: %w", err)
		}
	}

	e.sched.SetMode(sched.Execution)

	if obsToWait > 0 {
		idle := time.Duration(float64(obsToWait) / config.ObsPerWindow * float64(e.cfg.WindowPeriod))
		select {
		case <-ctx.Done():
		case <-e.clock.After(idle):
		}
	}
	return nil
}

// buildOnlineRecord serializes one window's online-segment payload per
// spec §6's exact framing: the CPU triple, the window bounds, a slot count,
// then per slot a tag=1/kernel/.../tag=0 terminated run.
func (e *Engine) buildOnlineRecord(cpuUser, cpuKern, cpuIdle float32, w livelist.Window) []byte {
	buf := make([]byte, 0, 256)
	buf = appendF32(buf, cpuUser)
	buf = appendF32(buf, cpuKern)
	buf = appendF32(buf, cpuIdle)

	buf = appendTimePair(buf, w.Start) // init == start for this engine: no
	buf = appendTimePair(buf, w.Start) // separate initial time is recorded
	buf = appendTimePair(buf, w.Finish)

	numSlots := e.lists.NumSlots()
	buf = appendI32(buf, int32(numSlots))

	for s := 0; s < numSlots; s++ {
		written := e.lists.Drain(e.store, s, w)
		for _, a := range written {
			buf = appendI32(buf, 1)
			buf = appendI32(buf, int32(a.Record.Label))
			buf = appendTimePair(buf, a.Record.MeasuredArrival)
			buf = appendTimePair(buf, a.Record.MeasuredFinish)
		}
		buf = appendI32(buf, 0)
	}
	return buf
}

func appendF32(buf []byte, v float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return append(buf, b[:]...)
}

func appendI32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func appendTimePair(buf []byte, t time.Time) []byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(t.Unix()))
	binary.LittleEndian.PutUint64(b[8:16], uint64(t.Nanosecond()))
	return append(buf, b[:]...)
}
