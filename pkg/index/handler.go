// Package index tracks, for every live object id, the single segment and
// offset currently holding its authoritative copy. It is the collaborator
// spec.md §5 calls the entry handler: the cleaner asks it whether a scanned
// entry is still live (I2), and it is the sole place that decides when a
// tombstone's target segment has actually been freed (I3). Grounded on the
// map+RWMutex registry idiom of the teacher's pkg/topic/manager.go, adapted
// from a name registry to an object-id liveness registry.
package index

import (
	"sync"

	"github.com/downfa11-org/logcleaner/pkg/logentry"
	"github.com/downfa11-org/logcleaner/pkg/segment"
)

// Ref is the current location of a live entry.
type Ref struct {
	Segment *segment.Segment
	Offset  uint32
}

// Answer is the result of asking the handler whether a scanned entry is
// still the one referenced by the index (spec.md §5, "CheckLiveness").
type Answer int

const (
	// StillLive means the index still points at exactly this
	// (segment, offset) pair; the relocator must copy the entry forward.
	StillLive Answer = iota
	// DiedNaturally means the index no longer points here because a
	// newer write superseded this entry before the pass began.
	DiedNaturally
	// DiedMeanwhile names an entry that died between liveness check and
	// relocation. LiveIndex.CheckLiveness never returns it; that race is
	// reported by Relocate returning false. The relocator treats any
	// CheckLiveness answer other than StillLive or DiedNaturally as an
	// invariant violation.
	DiedMeanwhile
)

// Handler is the entry handler interface the cleaner's relocator drives.
// A concrete Handler owns per-entry-type interpretation: OBJECT entries
// consult the live index directly, TOMBSTONE entries consult the freed-set
// bookkeeping for I3.
type Handler interface {
	CheckLiveness(seg *segment.Segment, offset uint32, h logentry.Header) Answer
	// Relocate installs newLoc as the authoritative location for the
	// entry previously at oldLoc, iff oldLoc is still authoritative.
	// Returns false if the entry died in the meantime (I2: the caller
	// must not have already made newLoc visible before this returns
	// true, so a concurrent reader never observes two live copies).
	Relocate(h logentry.Header, oldLoc, newLoc Ref) bool
	// Timestamp reports the append timestamp recorded for a live entry,
	// used by the relocator to sort live entries by age.
	Timestamp(h logentry.Header) uint32
	// NotifySegmentFreed lets the handler release any tombstones that
	// were withheld because their target segment (h.TargetSegment)
	// hadn't been freed yet (I3).
	NotifySegmentFreed(id segment.ID)
}

// LiveIndex is the concrete Handler: a single map from object id to its
// current location, plus a set of segment ids known freed so tombstones can
// tell when they've outlived their purpose.
type LiveIndex struct {
	mu sync.RWMutex

	objects map[uint64]Ref
	freed   map[segment.ID]bool
}

// NewLiveIndex constructs an empty index.
func NewLiveIndex() *LiveIndex {
	return &LiveIndex{
		objects: make(map[uint64]Ref),
		freed:   make(map[segment.ID]bool),
	}
}

// Put installs loc as the live location of objectID, unconditionally. Used
// by the outer log's write path (not the cleaner) on every PUT.
func (idx *LiveIndex) Put(objectID uint64, loc Ref) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.objects[objectID]; ok {
		old.Segment.MarkDead(uint32(logentry.HeaderSize) + entrySizeAtOrZero(old))
	}
	idx.objects[objectID] = loc
}

// entrySizeAtOrZero looks up the previously recorded entry's payload length
// so Put can charge the correct number of dead bytes to the old segment.
// Best-effort: if the old entry can't be found (shouldn't happen for a
// well-formed log), no dead-byte credit is charged and the segment's
// utilization is merely pessimistic until the cleaner visits it directly.
func entrySizeAtOrZero(ref Ref) uint32 {
	for _, e := range ref.Segment.Entries() {
		if e.Offset == ref.Offset {
			return e.Header.Length
		}
	}
	return 0
}

// Lookup returns the current live location of objectID, if any.
func (idx *LiveIndex) Lookup(objectID uint64) (Ref, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ref, ok := idx.objects[objectID]
	return ref, ok
}

// Remove deletes objectID from the live index and returns the location it
// held, so the caller can append a tombstone recording the segment being
// vacated and I3 can later track when it's safe to free that tombstone.
func (idx *LiveIndex) Remove(objectID uint64) (Ref, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ref, ok := idx.objects[objectID]
	if ok {
		delete(idx.objects, objectID)
	}
	return ref, ok
}

// CheckLiveness implements Handler.
func (idx *LiveIndex) CheckLiveness(seg *segment.Segment, offset uint32, h logentry.Header) Answer {
	switch h.Type {
	case logentry.Tombstone:
		// A tombstone is "live" (must be preserved) until its target
		// segment has been freed (I3); after that it is dead weight.
		idx.mu.RLock()
		freed := idx.freed[segment.ID(h.TargetSegment)]
		idx.mu.RUnlock()
		if freed {
			return DiedNaturally
		}
		return StillLive
	case logentry.Opaque:
		// Opaque entries carry no object id to look up; they are always
		// live for relocation purposes.
		return StillLive
	default:
		idx.mu.RLock()
		ref, ok := idx.objects[h.ObjectID]
		idx.mu.RUnlock()
		if !ok {
			return DiedNaturally
		}
		if ref.Segment == seg && ref.Offset == offset {
			return StillLive
		}
		return DiedNaturally
	}
}

// Relocate implements Handler using the copy-then-update-index protocol
// (I2): the relocator must have already appended the entry at newLoc before
// calling this, so the window between "old copy still readable" and
// "index points at new copy" never exposes zero live copies, and the CAS
// below ensures it never exposes two authoritative copies either.
func (idx *LiveIndex) Relocate(h logentry.Header, oldLoc, newLoc Ref) bool {
	if h.Type == logentry.Tombstone {
		// Tombstones aren't tracked in the object map; the relocator
		// copying them forward is itself sufficient, there's no index
		// entry to swing.
		return true
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cur, ok := idx.objects[h.ObjectID]
	if !ok || cur.Segment != oldLoc.Segment || cur.Offset != oldLoc.Offset {
		return false
	}
	idx.objects[h.ObjectID] = newLoc
	return true
}

// Timestamp implements Handler.
func (idx *LiveIndex) Timestamp(h logentry.Header) uint32 {
	return h.Timestamp
}

// NotifySegmentFreed implements Handler.
func (idx *LiveIndex) NotifySegmentFreed(id segment.ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.freed[id] = true
}
