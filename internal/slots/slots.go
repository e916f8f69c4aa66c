// Package slots implements the fixed-size execution slot table (C4, spec
// §4.4) and the per-label duplication table the scheduler consults before
// dispatch (spec §4.1/§4.3).
//
// Grounded on other_examples/edirooss-zmux-server's slotPool: a mutex/cond
// gated counting resource with explicit ownership bookkeeping and panics on
// invariant violation (double-release, releasing a mask you never held).
// This table differs from that teacher fragment in one respect the spec
// requires: allocation is deterministic low-index-first, not first-fit by
// availability order, so two runs with identical arrivals always occupy the
// same physical slots (spec §4.4 "Deterministic low-index-first policy").
package slots

import (
	"fmt"
	"sync"
)

// Table tracks which of NumSlots physical execution slots are occupied.
// Allocation always prefers the lowest-numbered free slots (spec §4.4).
type Table struct {
	mu     sync.Mutex
	inUse  []bool
	numSet int
}

// NewTable returns a table with all slots free.
func NewTable(numSlots int) *Table {
	if numSlots <= 0 {
		panic(fmt.Sprintf("slots: numSlots must be positive, got %d", numSlots))
	}
	return &Table{inUse: make([]bool, numSlots)}
}

// NumSlots returns the fixed total slot count.
func (t *Table) NumSlots() int {
	return len(t.inUse)
}

// Free returns the number of currently unoccupied slots.
func (t *Table) Free() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inUse) - t.numSet
}

// Allocate reserves the cu lowest-numbered free slots and returns their
// bitmask. ok is false if fewer than cu slots are currently free; callers
// must have already checked Free() >= cu under the scheduler's own
// predicate, but Allocate re-verifies atomically to avoid a race between
// the check and the reservation.
func (t *Table) Allocate(cu int) (mask uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.inUse)-t.numSet < cu {
		return 0, false
	}

	var m uint64
	claimed := 0
	for i := 0; i < len(t.inUse) && claimed < cu; i++ {
		if !t.inUse[i] {
			t.inUse[i] = true
			m |= 1 << uint(i)
			claimed++
		}
	}
	t.numSet += claimed
	return m, true
}

// Release frees every slot set in mask. It panics if any bit in mask refers
// to a slot that is not currently occupied — a double-release or a mask
// that was never allocated is an invariant violation, not a recoverable
// error (spec §3 "popcount(SlotMask) == CU between dispatch and completion").
func (t *Table) Release(mask uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < len(t.inUse); i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if !t.inUse[i] {
			panic(fmt.Sprintf("slots: release of slot %d which was not allocated", i))
		}
		t.inUse[i] = false
		t.numSet--
	}
}

// DuplicationTable counts live (dispatched, not yet completed) instances per
// label, so the scheduler can enforce "at most one live kernel per label"
// (spec §4.1 eligibility filter, §8 "at-most-one-per-label" property).
type DuplicationTable struct {
	mu     sync.Mutex
	counts map[int]int
}

// NewDuplicationTable returns an empty duplication table.
func NewDuplicationTable() *DuplicationTable {
	return &DuplicationTable{counts: make(map[int]int)}
}

// Count returns the number of currently live kernels with the given label.
// The argument is typed as an int (rather than kernel.Label) so this
// package does not need to import internal/kernel; callers pass
// int(record.Label).
func (d *DuplicationTable) Count(label int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[label]
}

// Acquire marks one more live instance of label. Called at dispatch, right
// after the record has been removed from the pending queue.
func (d *DuplicationTable) Acquire(label int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[label]++
}

// Release marks one fewer live instance of label. It panics if the label's
// count is already zero, mirroring Table.Release's invariant-violation
// policy.
func (d *DuplicationTable) Release(label int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.counts[label] <= 0 {
		panic(fmt.Sprintf("slots: duplication release of label %d with zero live count", label))
	}
	d.counts[label]--
}
