// Package kernel holds the KernelRecord data model (spec §3) and its owning
// store (C1, spec §4.1).
//
// The source spec embeds raw pointers to KernelRecord into multiple per-slot
// lists; per spec §9 "Pointer-stable records without reference cycles" this
// implementation instead uses an append-only arena (kernel.Store) and refers to
// records everywhere else — SlotLiveList, the dispatch scheduler, the worker
// pool — by their stable arena Index, never by address.
package kernel

import (
	"time"
)

// Label identifies one of the closed set of kernel kinds (spec glossary).
type Label int

// Index is a stable, immutable reference to a KernelRecord inside its owning
// Store's arena. It never changes for the record's lifetime.
type Index int

// farFuture is the "sentinel" timestamp spec §3/§9 calls for: both
// MeasuredArrival and MeasuredFinish are initialized to it so an unstarted
// record compares as "not yet running" and "not yet finished" under the
// windowing predicate in spec §4.6. time.Time carries its own monotonic
// reading, so a single synthetic time value (rather than a (sec, nsec) pair)
// is sufficient and resolves spec §9's "sentinel arithmetic" open question.
var farFuture = time.Unix(1<<61, 0)

// FarFuture exposes the sentinel for comparisons outside this package (e.g.
// the monitoring engine's boundary tests).
func FarFuture() time.Time { return farFuture }

// Record is one admitted kernel descriptor. It is immortal from Append until
// process shutdown (spec §3 "Lifecycle").
type Record struct {
	ID         int
	Label      Label
	Executions int
	CU         int // compute-unit width; one of {1,2,4,8}, bounded by slot count

	IntendedArrivalMS float64
	CommandedArrival  time.Time

	MeasuredArrival time.Time
	MeasuredFinish  time.Time

	MeasuredPreExec  time.Time
	MeasuredPostExec time.Time

	// SlotMask is the bitmask of occupied slots: set at dispatch, cleared at
	// completion. popcount(SlotMask) == CU between dispatch and completion,
	// and SlotMask == 0 otherwise (spec §3 invariant).
	SlotMask uint64
}

func newRecord(id int, label Label, executions, cu int, intendedArrivalMS float64, commandedArrival time.Time) *Record {
	return &Record{
		ID:                id,
		Label:             label,
		Executions:        executions,
		CU:                cu,
		IntendedArrivalMS: intendedArrivalMS,
		CommandedArrival:  commandedArrival,
		MeasuredArrival:   farFuture,
		MeasuredFinish:    farFuture,
		MeasuredPreExec:   farFuture,
		MeasuredPostExec:  farFuture,
	}
}

// Started reports whether the record has produced a real MeasuredArrival
// timestamp (i.e. it is no longer at the sentinel).
func (r *Record) Started() bool {
	return !r.MeasuredArrival.Equal(farFuture)
}

// Finished reports whether the record has produced a real MeasuredFinish
// timestamp.
func (r *Record) Finished() bool {
	return !r.MeasuredFinish.Equal(farFuture)
}

// PopCount returns the number of slots currently occupied by this record.
func (r *Record) PopCount() int {
	return popcount(r.SlotMask)
}

func popcount(mask uint64) int {
	n := 0
	for mask != 0 {
		mask &= mask - 1
		n++
	}
	return n
}

func validCU(cu int) bool {
	switch cu {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}
