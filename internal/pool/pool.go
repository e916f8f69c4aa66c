// Package pool implements the bounded worker pool (C2, spec §4.2): a
// fixed-size set of long-lived worker goroutines that accept dispatched
// tasks through a single-task rendezvous handshake, rather than a task
// queue.
//
// Grounded on the teacher's steel-orchestrator/pool.go and worker.go: a
// fixed-size set of long-lived workers coordinated through a shared mutex,
// with a per-worker state machine and a crash/completion callback. The
// teacher's pool hands out *Worker values through a buffered channel
// semaphore because its workers are external processes acquired/released
// around whole sessions; this pool's workers are in-process goroutines
// rendezvousing on one task at a time, so the channel semaphore is replaced
// by the exact mutex+condvar handshake spec §4.2 specifies. Worker
// lifetimes are joined with golang.org/x/sync/errgroup, grounded on
// zoobzio/pipz's use of errgroup-style goroutine groups for its worker
// pool.
package pool

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackstrix/workloadmgr/internal/telemetry"
)

// Task is one unit of work handed to exactly one worker.
type Task struct {
	Run func()
}

// Pool is a fixed-size set of workers rendezvousing on one task at a time
// (spec §4.2). There is deliberately no task queue: Dispatch blocks until a
// worker has claimed the task, which is the backpressure mechanism the
// dispatch scheduler (C3) relies on.
type Pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	ackCond   *sync.Cond
	task      *Task
	wakeUp    bool
	shutdown  bool
	running   []bool // per-worker "currently executing a task" flag
	completed []int  // per-worker completion counters

	log zerolog.Logger
	eg  *errgroup.Group
}

// New returns a pool sized W = numSlots+1 (spec §4.2), not yet started.
func New(numSlots int, log zerolog.Logger) *Pool {
	w := numSlots + 1
	p := &Pool{
		running:   make([]bool, w),
		completed: make([]int, w),
		log:       telemetry.For(log, telemetry.ComponentExecutor),
	}
	p.cond = sync.NewCond(&p.mu)
	p.ackCond = sync.NewCond(&p.mu)
	return p
}

// Start launches all W workers under an errgroup bound to ctx; cancelling
// ctx does not itself stop workers (spec §5 "workers are not interrupted
// mid-HAL-call") but Shutdown does, once all in-flight tasks drain. Start
// clears a previous Shutdown, so the pool can be started once per workload.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.shutdown = false
	p.mu.Unlock()

	eg, _ := errgroup.WithContext(ctx)
	p.eg = eg
	for i := 0; i < len(p.running); i++ {
		id := i
		eg.Go(func() error {
			p.workerLoop(id)
			return nil
		})
	}
}

// Wait blocks until every worker goroutine has returned (i.e. after
// Shutdown has been called and observed by all workers).
func (p *Pool) Wait() error {
	if p.eg == nil {
		return nil
	}
	return p.eg.Wait()
}

func (p *Pool) workerLoop(id int) {
	for {
		p.mu.Lock()
		for p.task == nil && !p.shutdown {
			p.cond.Wait()
		}
		if p.task == nil && p.shutdown {
			p.mu.Unlock()
			return
		}

		t := p.task
		p.task = nil
		p.wakeUp = false
		p.running[id] = true
		p.ackCond.Broadcast()
		p.mu.Unlock()

		t.Run()

		p.mu.Lock()
		p.running[id] = false
		p.completed[id]++
		p.mu.Unlock()
	}
}

// Dispatch installs task as the pending task, wakes exactly one worker, and
// blocks until that worker has claimed it (spec §4.2 dispatch steps 1-4).
func (p *Pool) Dispatch(task Task) {
	p.mu.Lock()
	p.task = &task
	p.wakeUp = true
	p.cond.Signal()
	for p.wakeUp {
		p.ackCond.Wait()
	}
	p.mu.Unlock()
}

// IsDone returns true only when no worker is currently executing a task
// (spec §4.2 is_done()).
func (p *Pool) IsDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.running {
		if r {
			return false
		}
	}
	return true
}

// Shutdown wakes every worker with no task present, causing each to observe
// shutdown and terminate. It does not wait for in-flight HAL calls to
// return; callers should call Wait afterward to block on that drain.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Size returns W, the fixed worker count.
func (p *Pool) Size() int {
	return len(p.running)
}
