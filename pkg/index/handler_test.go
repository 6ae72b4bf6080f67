package index_test

import (
	"testing"

	"github.com/downfa11-org/logcleaner/pkg/index"
	"github.com/downfa11-org/logcleaner/pkg/logentry"
	"github.com/downfa11-org/logcleaner/pkg/seglet"
	"github.com/downfa11-org/logcleaner/pkg/segment"
	"github.com/stretchr/testify/require"
)

func newTestSegment(t *testing.T) *segment.Segment {
	t.Helper()
	alloc := seglet.NewAllocator(4, 64)
	ids, err := alloc.Alloc(4, nil)
	require.NoError(t, err)
	return segment.New(segment.ID(1), alloc, ids)
}

func TestPutLookupRemove(t *testing.T) {
	idx := index.NewLiveIndex()
	seg := newTestSegment(t)

	_, ok := idx.Lookup(1)
	require.False(t, ok)

	idx.Put(1, index.Ref{Segment: seg, Offset: 0})
	ref, ok := idx.Lookup(1)
	require.True(t, ok)
	require.Equal(t, seg, ref.Segment)

	removed, ok := idx.Remove(1)
	require.True(t, ok)
	require.Equal(t, ref, removed)

	_, ok = idx.Lookup(1)
	require.False(t, ok)
}

func TestCheckLiveness_ObjectStillLive(t *testing.T) {
	idx := index.NewLiveIndex()
	seg := newTestSegment(t)
	h := logentry.Header{Type: logentry.Object, ObjectID: 5, Timestamp: 1}

	idx.Put(5, index.Ref{Segment: seg, Offset: 10})
	require.Equal(t, index.StillLive, idx.CheckLiveness(seg, 10, h))
}

func TestCheckLiveness_DiedNaturally_Superseded(t *testing.T) {
	// P2: an object overwritten before the pass began must not be
	// treated as live at its old location, so no double-live copy is
	// ever produced by the relocator.
	idx := index.NewLiveIndex()
	segA := newTestSegment(t)
	segB := newTestSegment(t)
	h := logentry.Header{Type: logentry.Object, ObjectID: 9, Timestamp: 1}

	idx.Put(9, index.Ref{Segment: segA, Offset: 0})
	idx.Put(9, index.Ref{Segment: segB, Offset: 0}) // overwrite

	require.Equal(t, index.DiedNaturally, idx.CheckLiveness(segA, 0, h))
	require.Equal(t, index.StillLive, idx.CheckLiveness(segB, 0, h))
}

func TestRelocate_SwingsIndexAtomically(t *testing.T) {
	idx := index.NewLiveIndex()
	oldSeg := newTestSegment(t)
	newSeg := newTestSegment(t)
	h := logentry.Header{Type: logentry.Object, ObjectID: 3, Timestamp: 1}

	idx.Put(3, index.Ref{Segment: oldSeg, Offset: 4})
	ok := idx.Relocate(h, index.Ref{Segment: oldSeg, Offset: 4}, index.Ref{Segment: newSeg, Offset: 8})
	require.True(t, ok)

	ref, found := idx.Lookup(3)
	require.True(t, found)
	require.Equal(t, newSeg, ref.Segment)
	require.Equal(t, uint32(8), ref.Offset)
}

func TestRelocate_FailsIfObjectDiedMeanwhile(t *testing.T) {
	idx := index.NewLiveIndex()
	oldSeg := newTestSegment(t)
	newSeg := newTestSegment(t)
	otherSeg := newTestSegment(t)
	h := logentry.Header{Type: logentry.Object, ObjectID: 3, Timestamp: 1}

	idx.Put(3, index.Ref{Segment: oldSeg, Offset: 4})
	idx.Put(3, index.Ref{Segment: otherSeg, Offset: 0}) // superseded before relocation lands

	ok := idx.Relocate(h, index.Ref{Segment: oldSeg, Offset: 4}, index.Ref{Segment: newSeg, Offset: 8})
	require.False(t, ok)

	ref, found := idx.Lookup(3)
	require.True(t, found)
	require.Equal(t, otherSeg, ref.Segment)
}

func TestTombstone_RetainedUntilTargetSegmentFreed(t *testing.T) {
	// P3: a tombstone must not be treated as dead until its target
	// segment has actually been freed (I3).
	idx := index.NewLiveIndex()
	seg := newTestSegment(t)
	h := logentry.Header{Type: logentry.Tombstone, TargetSegment: 42}

	require.Equal(t, index.StillLive, idx.CheckLiveness(seg, 0, h))

	idx.NotifySegmentFreed(segment.ID(42))
	require.Equal(t, index.DiedNaturally, idx.CheckLiveness(seg, 0, h))
}
