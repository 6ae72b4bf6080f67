package segment_test

import (
	"testing"

	"github.com/downfa11-org/logcleaner/pkg/logentry"
	"github.com/downfa11-org/logcleaner/pkg/seglet"
	"github.com/downfa11-org/logcleaner/pkg/segment"
	"github.com/stretchr/testify/require"
)

func newTestSegment(t *testing.T, seglets, segletSize int) *segment.Segment {
	t.Helper()
	alloc := seglet.NewAllocator(seglets, segletSize)
	ids, err := alloc.Alloc(seglets, nil)
	require.NoError(t, err)
	return segment.New(segment.ID(1), alloc, ids)
}

func TestAppendReadRoundTrip(t *testing.T) {
	seg := newTestSegment(t, 4, 32)
	h := logentry.Header{Type: logentry.Object, Timestamp: 100, ObjectID: 42}
	payload := []byte("hello world")

	offset, err := seg.Append(h, payload)
	require.NoError(t, err)

	gotHeader, err := seg.ReadHeader(offset)
	require.NoError(t, err)
	require.Equal(t, logentry.Object, gotHeader.Type)
	require.Equal(t, uint32(len(payload)), gotHeader.Length)

	gotPayload := seg.ReadPayload(offset, gotHeader.Length)
	require.Equal(t, payload, gotPayload)
}

func TestAppend_SpansSegletBoundaries(t *testing.T) {
	// Small seglets force a single entry's payload to straddle more than
	// one seglet, exercising writeAt/readAt's split logic.
	seg := newTestSegment(t, 16, 8)
	h := logentry.Header{Type: logentry.Object, Timestamp: 1, ObjectID: 1}
	payload := make([]byte, 50)
	for i := range payload {
		payload[i] = byte(i)
	}

	offset, err := seg.Append(h, payload)
	require.NoError(t, err)

	gotHeader, err := seg.ReadHeader(offset)
	require.NoError(t, err)
	got := seg.ReadPayload(offset, gotHeader.Length)
	require.Equal(t, payload, got)
}

func TestAppend_MultipleEntriesTrackMinTimestamp(t *testing.T) {
	seg := newTestSegment(t, 4, 64)
	_, err := seg.Append(logentry.Header{Type: logentry.Object, Timestamp: 500, ObjectID: 1}, []byte("a"))
	require.NoError(t, err)
	_, err = seg.Append(logentry.Header{Type: logentry.Object, Timestamp: 100, ObjectID: 2}, []byte("b"))
	require.NoError(t, err)
	_, err = seg.Append(logentry.Header{Type: logentry.Object, Timestamp: 300, ObjectID: 3}, []byte("c"))
	require.NoError(t, err)

	require.Equal(t, uint32(100), seg.MinTimestamp())
	require.Len(t, seg.Entries(), 3)
}

func TestAppend_RejectsWhenFull(t *testing.T) {
	seg := newTestSegment(t, 1, 16)
	_, err := seg.Append(logentry.Header{Type: logentry.Object, Timestamp: 1, ObjectID: 1}, make([]byte, 100))
	require.Error(t, err)
}

func TestAppend_RejectsOnClosedSegment(t *testing.T) {
	seg := newTestSegment(t, 2, 32)
	seg.Close()
	_, err := seg.Append(logentry.Header{Type: logentry.Object, Timestamp: 1, ObjectID: 1}, []byte("x"))
	require.Error(t, err)
}

func TestStateTransitions(t *testing.T) {
	seg := newTestSegment(t, 2, 32)
	require.Equal(t, segment.Open, seg.State())

	seg.MarkCleanable() // no-op: not yet CLOSED
	require.Equal(t, segment.Open, seg.State())

	seg.Close()
	require.Equal(t, segment.Closed, seg.State())

	seg.Close() // no-op: already CLOSED
	require.Equal(t, segment.Closed, seg.State())

	seg.MarkCleanable()
	require.Equal(t, segment.Cleanable, seg.State())
}

func TestMemoryUtilization(t *testing.T) {
	seg := newTestSegment(t, 1, 64)
	require.Equal(t, float64(0), seg.MemoryUtilization())

	_, err := seg.Append(logentry.Header{Type: logentry.Object, Timestamp: 1, ObjectID: 1}, make([]byte, 20))
	require.NoError(t, err)
	before := seg.MemoryUtilization()
	require.Greater(t, before, float64(0))

	seg.MarkDead(20 + uint32(logentry.HeaderSize))
	require.Less(t, seg.MemoryUtilization(), before)
}
