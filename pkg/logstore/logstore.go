// Package logstore is the thin outer key-value log the cleaner runs
// alongside: it ties the segment manager and the live index together into
// Put/Get/Delete so the cleaner has real concurrent write traffic to clean
// behind. Grounded on the enqueue/roll pattern of the teacher's
// pkg/topic/partition.go Enqueue path, generalized from an append-only
// message queue to an overwritable key-value log.
package logstore

import (
	"fmt"
	"sync"

	"github.com/downfa11-org/logcleaner/pkg/index"
	"github.com/downfa11-org/logcleaner/pkg/logentry"
	"github.com/downfa11-org/logcleaner/pkg/segment"
	"github.com/downfa11-org/logcleaner/util"
)

// Clock returns the current logical or wall-clock timestamp stamped onto
// new entries. Segregated behind an interface so tests can control time
// without touching the real clock, since the workflow environment forbids
// calling time.Now() inside code paths exercised by deterministic tests.
type Clock interface {
	Now() uint32
}

// Store is the outer log: appends OBJECT entries on Put, appends TOMBSTONE
// entries on Delete, and always resolves reads through the live index
// rather than trusting whatever segment a caller last saw.
type Store struct {
	mu sync.Mutex

	segments *segment.Manager
	index    *index.LiveIndex
	clock    Clock

	current *segment.Segment
}

// New constructs a store with its first OPEN segment already allocated.
func New(segments *segment.Manager, idx *index.LiveIndex, clock Clock) (*Store, error) {
	seg, err := segments.OpenSegment(nil)
	if err != nil {
		return nil, fmt.Errorf("logstore: open initial segment: %w", err)
	}
	return &Store{segments: segments, index: idx, clock: clock, current: seg}, nil
}

// Put writes key's value as a new OBJECT entry, marking any prior copy
// dead in the live index (spec.md §3: a live key has exactly one
// authoritative copy at a time).
func (s *Store) Put(key uint64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := logentry.Header{Type: logentry.Object, Timestamp: s.clock.Now(), ObjectID: key}
	offset, err := s.appendWithRollover(h, value)
	if err != nil {
		return err
	}
	s.index.Put(key, index.Ref{Segment: s.current, Offset: offset})
	return nil
}

// Get resolves key through the live index and reads its current payload.
func (s *Store) Get(key uint64) ([]byte, bool, error) {
	ref, ok := s.index.Lookup(key)
	if !ok {
		return nil, false, nil
	}
	h, err := ref.Segment.ReadHeader(ref.Offset)
	if err != nil {
		return nil, false, fmt.Errorf("logstore: read header for key %d: %w", key, err)
	}
	return ref.Segment.ReadPayload(ref.Offset, h.Length), true, nil
}

// Delete removes key from the live index and appends a tombstone recording
// the segment it vacated, so the cleaner can honor I3 (tombstone retention
// until the target segment is freed).
func (s *Store) Delete(key uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.index.Remove(key)
	if !ok {
		return nil
	}
	ref.Segment.MarkDead(uint32(logentry.HeaderSize) + entryLength(ref))

	h := logentry.Header{Type: logentry.Tombstone, Timestamp: s.clock.Now(), ObjectID: key, TargetSegment: uint64(ref.Segment.ID())}
	_, err := s.appendWithRollover(h, nil)
	return err
}

func entryLength(ref index.Ref) uint32 {
	for _, e := range ref.Segment.Entries() {
		if e.Offset == ref.Offset {
			return e.Header.Length
		}
	}
	return 0
}

// appendWithRollover appends to the current segment, rolling to a fresh
// OPEN segment and closing the old one if it's full. Caller holds s.mu.
func (s *Store) appendWithRollover(h logentry.Header, payload []byte) (uint32, error) {
	offset, err := s.current.Append(h, payload)
	if err == nil {
		return offset, nil
	}

	util.Debug("logstore: segment %d full, rolling over", s.current.ID())
	s.current.Close()
	s.current.MarkCleanable()

	next, openErr := s.segments.OpenSegment(nil)
	if openErr != nil {
		return 0, fmt.Errorf("logstore: roll to new segment: %w", openErr)
	}
	s.current = next
	return s.current.Append(h, payload)
}

// CurrentSegment exposes the open segment for tests and diagnostics.
func (s *Store) CurrentSegment() *segment.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
