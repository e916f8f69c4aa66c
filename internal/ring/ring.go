// Package ring implements the shared-memory ring buffers the monitoring
// engine writes into and the external model service reads from (spec
// §3 "RingBuffers", §4.6 "Ring rotation", §6 "Shared-memory ring").
//
// Grounded on other_examples/calvinalkan-agent-task's slotcache.go: the only
// file anywhere in this retrieval pack that memory-maps a file with raw
// syscall.Mmap/Munmap and separates a bulk write from a trailing footer
// word read/written with explicit atomic ordering. No third-party mmap
// library (e.g. golang.org/x/exp/mmap, edsrzf/mmap-go) appears in any
// example's go.mod across the whole corpus, so this package uses
// golang.org/x/sys/unix-free raw syscall.Mmap directly — the same choice
// agent-task made — rather than introduce a dependency the
// corpus itself never reached for (documented in DESIGN.md).
package ring

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// ptrOf returns a pointer to the start of an 8-byte footer slice taken from
// the mmap'd region. A footer sits at slot*slotSize + slotSize - 8, so it is
// 8-byte aligned when slotSize is a multiple of 8; OpenSegment does not
// check this, and every caller in this module passes such a size.
func ptrOf(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

// Kind names one of the three parallel ring-mapped regions (spec §3).
type Kind string

const (
	KindPower  Kind = "power"
	KindTraces Kind = "traces"
	KindOnline Kind = "online"
)

// footerSize is the width of the trailing "valid byte count" word (spec §6
// "the last word of each segment holds the count of valid bytes").
const footerSize = 8

// Segment is one memory-mapped ring of M fixed-size slots for a single
// Kind. Exactly one writer (the monitor) and one reader (the model
// service, out of process) ever touch a given backing file; within this
// process only the monitor goroutine calls Write.
type Segment struct {
	kind     Kind
	path     string
	file     *os.File
	data     []byte // the full mmap'd region
	slotSize int    // bytes per logical slot, payload + footer
	m        int    // number of slots (measurements_per_training, or 2 when that is 1)
	cursor   int    // current write slot, 0..m-1
}

// OpenSegment creates (or truncates) the backing file at dir/<kind>.bin,
// sized to m*slotSize bytes (2*slotSize when m is 1, the ping-pong case),
// and maps it SHARED for read+write.
func OpenSegment(dir string, kind Kind, slotSize, m int) (*Segment, error) {
	if slotSize <= footerSize {
		return nil, fmt.Errorf("ring: slotSize %d must exceed footer size %d", slotSize, footerSize)
	}
	if m < 1 {
		return nil, fmt.Errorf("ring: m must be >= 1, got %d", m)
	}
	if m == 1 {
		m = 2 // two-buffer ping-pong
	}

	path := filepath.Join(dir, string(kind)+".bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ring: open %s: %w", path, err)
	}

	total := int64(slotSize) * int64(m)
	if err := f.Truncate(total); err != nil {
		f.Close()
		return nil, fmt.Errorf("ring: truncate %s: %w", path, err)
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(total), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ring: mmap %s: %w", path, err)
	}

	return &Segment{kind: kind, path: path, file: f, data: data, slotSize: slotSize, m: m}, nil
}

// Kind returns the segment's identity.
func (s *Segment) Kind() Kind { return s.kind }

// CurrentSlot returns the index of the slot the next Write will target.
func (s *Segment) CurrentSlot() int { return s.cursor }

// Write copies payload into the current slot and stores the byte-count
// footer last, with atomic release semantics, so a reader observing a
// non-zero footer is guaranteed to see the preceding payload bytes (spec
// §9 "Single-writer shared-memory discipline").
func (s *Segment) Write(payload []byte) error {
	if len(payload) > s.slotSize-footerSize {
		return fmt.Errorf("ring: payload %d bytes exceeds slot capacity %d", len(payload), s.slotSize-footerSize)
	}

	base := s.cursor * s.slotSize
	slot := s.data[base : base+s.slotSize]

	// Zero the slot first so stale bytes from a prior training phase never
	// leak past the new footer into a reader's parse.
	for i := range slot {
		slot[i] = 0
	}
	copy(slot, payload)

	footerOff := base + s.slotSize - footerSize
	storeFooterRelease(s.data[footerOff:footerOff+footerSize], uint64(len(payload)))
	return nil
}

// ReadFooter returns the byte-count footer for the given slot, with atomic
// acquire semantics, for use by in-process tests that validate round-trip
// behavior (spec §8 property 6 "Ring round-trip").
func (s *Segment) ReadFooter(slot int) uint64 {
	base := slot * s.slotSize
	footerOff := base + s.slotSize - footerSize
	return loadFooterAcquire(s.data[footerOff : footerOff+footerSize])
}

// ReadPayload returns a copy of the valid bytes of the given slot, per its
// footer.
func (s *Segment) ReadPayload(slot int) []byte {
	n := s.ReadFooter(slot)
	base := slot * s.slotSize
	out := make([]byte, n)
	copy(out, s.data[base:base+int(n)])
	return out
}

// Advance moves the write cursor to the next slot, wrapping at the slot
// count (spec §4.6: ping-pong over two slots when M==1, round-robin over M
// slots when M>1 — both are the same modulo advance).
func (s *Segment) Advance() {
	s.cursor = (s.cursor + 1) % s.m
}

// Close unmaps and closes the backing file.
func (s *Segment) Close() error {
	if err := syscall.Munmap(s.data); err != nil {
		s.file.Close()
		return fmt.Errorf("ring: munmap %s: %w", s.path, err)
	}
	return s.file.Close()
}

func storeFooterRelease(b []byte, n uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	// atomic.StoreUint64 on the mmap'd word gives the release ordering spec
	// §9 calls for: every byte written above this call is visible to any
	// goroutine/process that subsequently observes the footer via an
	// acquire load.
	atomic.StoreUint64((*uint64)(ptrOf(b)), binary.LittleEndian.Uint64(buf[:]))
}

func loadFooterAcquire(b []byte) uint64 {
	return atomic.LoadUint64((*uint64)(ptrOf(b)))
}

// Ring bundles the three named segments that make up one monitoring ring
// (spec §3 "three parallel ring-mapped regions").
type Ring struct {
	Power  *Segment
	Traces *Segment
	Online *Segment
}

// Open creates all three segments under dir, each sized for m slots with
// the given per-kind slot sizes.
func Open(dir string, m int, powerSlotSize, tracesSlotSize, onlineSlotSize int) (*Ring, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ring: mkdir %s: %w", dir, err)
	}
	power, err := OpenSegment(dir, KindPower, powerSlotSize, m)
	if err != nil {
		return nil, err
	}
	traces, err := OpenSegment(dir, KindTraces, tracesSlotSize, m)
	if err != nil {
		power.Close()
		return nil, err
	}
	online, err := OpenSegment(dir, KindOnline, onlineSlotSize, m)
	if err != nil {
		power.Close()
		traces.Close()
		return nil, err
	}
	return &Ring{Power: power, Traces: traces, Online: online}, nil
}

// Advance moves all three segments' write cursors forward together, since
// one window writes one slot of each (spec §4.6 "ring.advance()").
func (r *Ring) Advance() {
	r.Power.Advance()
	r.Traces.Advance()
	r.Online.Advance()
}

// Close closes all three segments, best-effort, returning the first error.
func (r *Ring) Close() error {
	var first error
	for _, seg := range []*Segment{r.Power, r.Traces, r.Online} {
		if err := seg.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
