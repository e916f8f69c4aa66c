// Package livelist implements the per-slot live-kernel lists (C5, spec
// §4.5/§4.6): one unordered list per slot, each guarded by its own mutex,
// that the monitoring engine drains under lock to decide per-window
// attribution.
//
// Grounded on the same condition-discipline style as internal/slots (itself
// grounded on other_examples/edirooss-zmux-server's slotPool), generalized
// from a single counting resource to NumSlots independent unordered sets.
package livelist

import (
	"sync"
	"time"

	"github.com/hackstrix/workloadmgr/internal/kernel"
)

// Lists holds one unordered set of record indices per slot.
type Lists struct {
	mus  []sync.Mutex
	recs [][]kernel.Index
}

// New returns NumSlots empty live lists.
func New(numSlots int) *Lists {
	return &Lists{
		mus:  make([]sync.Mutex, numSlots),
		recs: make([][]kernel.Index, numSlots),
	}
}

// Register adds idx to every slot set in mask. Called by the worker before
// starting the HAL clock, per spec §4.5, so the windowing predicate can see
// the kernel as soon as it can overlap a window.
func (l *Lists) Register(mask uint64, idx kernel.Index) {
	for s := 0; s < len(l.mus); s++ {
		if mask&(1<<uint(s)) == 0 {
			continue
		}
		l.mus[s].Lock()
		l.recs[s] = append(l.recs[s], idx)
		l.mus[s].Unlock()
	}
}

// Window is the bounding pair a drain evaluates each record against.
type Window struct {
	Start  time.Time
	Finish time.Time
}

// Attribution is one record selected (or retained) while draining a slot.
type Attribution struct {
	Index  kernel.Index
	Record *kernel.Record
}

// Drain walks slot s's live list once, per spec §4.6's windowing predicate:
// a record with arrival t0 and finish tf is written to the caller's output
// iff tf > m0 AND t0 < mf, and retained on the list (for the next window)
// iff tf > mf OR t0 == tf. A record can be both written and retained (still
// live past the window close), written and not retained (finished inside
// the window), or neither (not yet started).
func (l *Lists) Drain(store *kernel.Store, slot int, w Window) []Attribution {
	l.mus[slot].Lock()
	defer l.mus[slot].Unlock()

	var written []Attribution
	var retained []kernel.Index

	for _, idx := range l.recs[slot] {
		r := store.Get(idx)
		t0, tf := r.MeasuredArrival, r.MeasuredFinish

		if tf.After(w.Start) && t0.Before(w.Finish) {
			written = append(written, Attribution{Index: idx, Record: r})
		}
		if tf.After(w.Finish) || t0.Equal(tf) {
			retained = append(retained, idx)
		}
	}

	l.recs[slot] = retained
	return written
}

// NumSlots returns the number of independently-locked slot lists.
func (l *Lists) NumSlots() int {
	return len(l.mus)
}
