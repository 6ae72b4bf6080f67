// Package segment implements the append-only, seglet-backed memory region
// spec.md §3 calls a Segment, and the SegmentManager collaborator the
// cleaner drives through the interface in spec.md §6. Grounded on the
// append/rollover/index bookkeeping of the teacher's pkg/disk/handler.go
// and pkg/disk/index.go, reworked from mmap-backed files to an in-memory
// seglet pool.
package segment

import (
	"fmt"
	"sync"

	"github.com/downfa11-org/logcleaner/pkg/logentry"
	"github.com/downfa11-org/logcleaner/pkg/seglet"
)

// State is a segment's position in the OPEN -> CLOSED -> CLEANABLE ->
// FREEABLE lifecycle from spec.md §3.
type State int

const (
	Open State = iota
	Closed
	Cleanable
	Freeable
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	case Cleanable:
		return "CLEANABLE"
	case Freeable:
		return "FREEABLE"
	default:
		return "UNKNOWN"
	}
}

// ID is a monotonically increasing segment identifier.
type ID uint64

// EntryLoc records one appended entry's header and location, kept so a full
// pass can enumerate every entry without re-parsing headers byte by byte
// from arbitrary offsets.
type EntryLoc struct {
	Offset uint32
	Header logentry.Header
}

// Segment is an append-only region of memory made of fixed-size seglets.
type Segment struct {
	mu sync.RWMutex

	id         ID
	alloc      *seglet.Allocator
	segletIDs  []seglet.ID
	segletSize int

	state       State
	writeOffset uint32
	entries     []EntryLoc

	minTimestamp    uint32
	hasMinTimestamp bool

	deadBytes int64
}

// New wraps a freshly allocated set of seglets as a new OPEN segment.
func New(id ID, alloc *seglet.Allocator, segletIDs []seglet.ID) *Segment {
	return &Segment{
		id:         id,
		alloc:      alloc,
		segletIDs:  segletIDs,
		segletSize: alloc.Size(),
		state:      Open,
	}
}

func (s *Segment) ID() ID { return s.id }

func (s *Segment) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Segment) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Close transitions an OPEN segment to CLOSED; no further appends are
// accepted. Closed segments are already cleaner candidates, as CLEANABLE
// ones are (spec.md §3: "Only CLOSED/CLEANABLE segments are cleaner input").
func (s *Segment) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Open {
		s.state = Closed
	}
}

// MarkCleanable flags a CLOSED segment as an eligible cleaner candidate.
func (s *Segment) MarkCleanable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		s.state = Cleanable
	}
}

// SegletCount returns how many seglets this segment currently holds.
func (s *Segment) SegletCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segletIDs)
}

// Seglets returns a copy of the segment's held seglet ids.
func (s *Segment) Seglets() []seglet.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]seglet.ID, len(s.segletIDs))
	copy(out, s.segletIDs)
	return out
}

// Capacity returns the segment's total byte capacity (seglets * seglet size).
func (s *Segment) Capacity() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.segletIDs)) * int64(s.segletSize)
}

// BytesAppended returns how many bytes (headers + payloads) have been
// written to the segment so far.
func (s *Segment) BytesAppended() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(s.writeOffset)
}

// BytesDead returns bytes known dead via MarkDead, independent of any
// cleaner pass's own liveness scan. Used by the selector's cost/benefit
// ranking so segments don't need a full scan just to be ranked.
func (s *Segment) BytesDead() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deadBytes
}

// MarkDead records that `length` previously-live bytes are now known dead
// (e.g. superseded by a newer write). It never touches the underlying
// storage; the actual reclamation happens when the cleaner visits this
// segment.
func (s *Segment) MarkDead(length uint32) {
	s.mu.Lock()
	s.deadBytes += int64(length)
	s.mu.Unlock()
}

// MemoryUtilization returns the fraction (0..1) of the segment's capacity
// occupied by non-dead bytes.
func (s *Segment) MemoryUtilization() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cap := int64(len(s.segletIDs)) * int64(s.segletSize)
	if cap == 0 {
		return 0
	}
	live := int64(s.writeOffset) - s.deadBytes
	if live < 0 {
		live = 0
	}
	return float64(live) / float64(cap)
}

// MinTimestamp returns the oldest timestamp among the segment's entries,
// used by the disk-cleaning selector's age term.
func (s *Segment) MinTimestamp() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minTimestamp
}

// Entries returns a copy of every entry location recorded in the segment,
// in append order.
func (s *Segment) Entries() []EntryLoc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EntryLoc, len(s.entries))
	copy(out, s.entries)
	return out
}

// Append writes a header and payload to the segment, returning the offset
// the entry was written at. It fails once the segment can no longer fit
// the entry, which is the caller's cue to Close it and roll to a new one.
func (s *Segment) Append(h logentry.Header, payload []byte) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Open {
		return 0, fmt.Errorf("segment %d: cannot append to a %s segment", s.id, s.state)
	}

	h.Length = uint32(len(payload))
	total := logentry.HeaderSize + len(payload)
	capacity := len(s.segletIDs) * s.segletSize
	if int(s.writeOffset)+total > capacity {
		return 0, fmt.Errorf("segment %d: full (offset %d + %d > capacity %d)", s.id, s.writeOffset, total, capacity)
	}

	offset := s.writeOffset
	s.writeAt(offset, h.Encode())
	s.writeAt(offset+uint32(logentry.HeaderSize), payload)
	s.writeOffset += uint32(total)

	s.entries = append(s.entries, EntryLoc{Offset: offset, Header: h})
	if !s.hasMinTimestamp || h.Timestamp < s.minTimestamp {
		s.minTimestamp = h.Timestamp
		s.hasMinTimestamp = true
	}
	return offset, nil
}

// Snapshot returns a copy of every byte appended to the segment so far, in
// logical order, for handing to the replica manager.
func (s *Segment) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readAt(0, int(s.writeOffset))
}

// ReadHeader parses the entry header stored at offset.
func (s *Segment) ReadHeader(offset uint32) (logentry.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.readAt(offset, logentry.HeaderSize)
	return logentry.Decode(buf)
}

// ReadPayload reads length bytes of payload starting just after the header
// at offset.
func (s *Segment) ReadPayload(offset, length uint32) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readAt(offset+uint32(logentry.HeaderSize), int(length))
}

// writeAt copies data into the seglet-backed logical byte space starting at
// logicalOffset, splitting the write across seglet boundaries as needed.
// Caller holds s.mu.
func (s *Segment) writeAt(logicalOffset uint32, data []byte) {
	pos := int(logicalOffset)
	for len(data) > 0 {
		segIdx := pos / s.segletSize
		within := pos % s.segletSize
		buf := s.alloc.Buffer(s.segletIDs[segIdx])
		n := copy(buf[within:], data)
		data = data[n:]
		pos += n
	}
}

// readAt is writeAt's mirror image. Caller holds s.mu (read lock suffices
// since it never mutates state).
func (s *Segment) readAt(logicalOffset uint32, length int) []byte {
	out := make([]byte, length)
	pos := int(logicalOffset)
	filled := 0
	for filled < length {
		segIdx := pos / s.segletSize
		within := pos % s.segletSize
		buf := s.alloc.Buffer(s.segletIDs[segIdx])
		n := copy(out[filled:], buf[within:])
		filled += n
		pos += n
	}
	return out
}
