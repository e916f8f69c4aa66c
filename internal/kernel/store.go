package kernel

import (
	"fmt"
	"sync"
	"time"
)

// DuplicationView is the minimal read surface the scheduler's duplication
// table must provide for ScanAndRemoveFirstExecutable's eligibility filter
// (spec §4.1/§4.3). Implemented by *slots.DuplicationTable, whose Count
// takes a bare int so that package does not need to import this one.
type DuplicationView interface {
	// Count returns the number of currently live kernels with the given label.
	Count(label int) int
}

// Store owns the lifetime of every admitted KernelRecord (C1, spec §4.1).
// Records are held in an append-only arena so that Index values never move;
// a second slice (pending) holds the queue of indices awaiting dispatch in
// arrival order.
//
// Grounded on spec §9's arena/index discipline; the teacher has no analogous
// component (steel-orchestrator's Pool tracks live *Worker pointers, not a
// record arena, since workers — unlike kernels — are not ephemeral data).
type Store struct {
	mu sync.Mutex

	arena   []*Record // index i holds the record with ID i; append-only
	pending []Index   // FIFO of indices awaiting dispatch, head = oldest
}

// NewStore returns an empty kernel-record store.
func NewStore() *Store {
	return &Store{}
}

// Append admits a new record and enqueues it for dispatch, returning its
// stable arena index. Out-of-range labels or non-positive executions are
// rejected per spec §7 ("Producer out-of-range label or non-positive
// executions: rejected with an invariant error at admission").
func (s *Store) Append(label Label, numLabels, executions, cu int, intendedArrivalMS float64, commandedArrival time.Time) (Index, error) {
	if int(label) < 0 || int(label) >= numLabels {
		return 0, fmt.Errorf("kernel: label %d out of range [0,%d)", label, numLabels)
	}
	if executions <= 0 {
		return 0, fmt.Errorf("kernel: executions must be positive, got %d", executions)
	}
	if !validCU(cu) {
		return 0, fmt.Errorf("kernel: cu %d is not one of {1,2,4,8}", cu)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := len(s.arena)
	rec := newRecord(id, label, executions, cu, intendedArrivalMS, commandedArrival)
	s.arena = append(s.arena, rec)
	idx := Index(id)
	s.pending = append(s.pending, idx)
	return idx, nil
}

// ScanAndRemoveFirstExecutable traverses the pending queue from the head and
// removes+returns the first record satisfying `cu <= freeSlots` and the
// label has no currently-live instance (spec §4.1/§4.3). Returns false if no
// record in the queue currently qualifies.
func (s *Store) ScanAndRemoveFirstExecutable(freeSlots int, dup DuplicationView) (Index, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, idx := range s.pending {
		rec := s.arena[idx]
		if rec.CU <= freeSlots && dup.Count(int(rec.Label)) == 0 {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return idx, true
		}
	}
	return 0, false
}

// Size returns the number of records still awaiting dispatch.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Get returns the record at the given stable index. The returned pointer is
// valid for the lifetime of the process; callers must still respect the
// locking discipline of whichever component (slot table, live lists) guards
// the fields they read or write.
func (s *Store) Get(idx Index) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arena[idx]
}

// Drain returns every admitted record in definition (id) order, for the
// final kernels_info.bin flush (spec §8 property 4 "Output completeness").
// Because the arena is append-only and append order is admission order,
// this already satisfies "exactly N records, each appearing exactly once,
// in definition order" without a separately tracked OutputLog structure —
// every record is mutated in place through dispatch and completion, so by
// the time Drain is called each arena entry already carries its final
// timestamps.
func (s *Store) Drain() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, len(s.arena))
	copy(out, s.arena)
	return out
}

// Len returns the total number of admitted records (pending + dispatched).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.arena)
}
