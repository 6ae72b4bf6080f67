package cleaner_test

import (
	"testing"

	"github.com/downfa11-org/logcleaner/pkg/cleaner"
	"github.com/downfa11-org/logcleaner/pkg/logentry"
	"github.com/downfa11-org/logcleaner/pkg/seglet"
	"github.com/downfa11-org/logcleaner/pkg/segment"
	"github.com/stretchr/testify/require"
)

func buildSegment(t *testing.T, id segment.ID, seglets, segletSize int, liveBytes int, timestamp uint32) *segment.Segment {
	t.Helper()
	alloc := seglet.NewAllocator(seglets, segletSize)
	ids, err := alloc.Alloc(seglets, nil)
	require.NoError(t, err)
	seg := segment.New(id, alloc, ids)
	if liveBytes > 0 {
		payload := make([]byte, liveBytes-logentry.HeaderSize)
		_, err := seg.Append(logentry.Header{Type: logentry.Object, Timestamp: timestamp, ObjectID: uint64(id)}, payload)
		require.NoError(t, err)
	}
	seg.Close()
	seg.MarkCleanable()
	return seg
}

func TestSelectForMemory_PicksPurelyDeadSegment(t *testing.T) {
	garbage := buildSegment(t, 1, 4, 64, 0, 1)
	live := buildSegment(t, 2, 4, 64, 100, 1)

	best, freeable := cleaner.SelectForMemory([]*segment.Segment{garbage, live}, 64, 98)
	require.Equal(t, garbage, best)
	require.Equal(t, 4, freeable)
}

func TestSelectForMemory_NoneWhenNothingFreeable(t *testing.T) {
	// Fully live segment: nothing to free.
	full := buildSegment(t, 1, 1, 64, 60, 1)
	best, freeable := cleaner.SelectForMemory([]*segment.Segment{full}, 64, 98)
	require.Nil(t, best)
	require.Equal(t, 0, freeable)
}

func TestSelectForMemory_SkipsOverCeiling(t *testing.T) {
	almostFull := buildSegment(t, 1, 4, 64, 250, 1) // ~97-100% utilized
	best, _ := cleaner.SelectForMemory([]*segment.Segment{almostFull}, 64, 50)
	require.Nil(t, best)
}

func TestSelectForMemory_TieBreaksOnLowerID(t *testing.T) {
	a := buildSegment(t, 5, 4, 64, 0, 1)
	b := buildSegment(t, 2, 4, 64, 0, 1)
	best, _ := cleaner.SelectForMemory([]*segment.Segment{a, b}, 64, 98)
	require.Equal(t, segment.ID(2), best.ID())
}

func TestSelectForDisk_RanksByCostBenefitAndCapsBudget(t *testing.T) {
	segmentBytes := 256 // 4 seglets * 64
	var candidates []*segment.Segment
	// Old, mostly-dead segments should be favored over young, mostly-live ones.
	candidates = append(candidates, buildSegment(t, 1, 4, 64, 40, 100))  // old, low utilization
	candidates = append(candidates, buildSegment(t, 2, 4, 64, 220, 900)) // young, high utilization

	selected := cleaner.SelectForDisk(candidates, segmentBytes, 10, 1000)
	require.NotEmpty(t, selected)
	require.Equal(t, segment.ID(1), selected[0].ID())
}

func TestSelectForDisk_RespectsPassBudget(t *testing.T) {
	segmentBytes := 256
	var candidates []*segment.Segment
	for i := 0; i < 5; i++ {
		candidates = append(candidates, buildSegment(t, segment.ID(i+1), 4, 64, 200, uint32(i+1)))
	}
	// Budget of 1 segment's worth of live bytes (256): each candidate
	// carries 200 live bytes, so the first is admitted and the second
	// (200+200 > 256) would exceed the budget and ends the batch.
	selected := cleaner.SelectForDisk(candidates, segmentBytes, 1, 100)
	require.NotEmpty(t, selected)
	require.Len(t, selected, 1)
}
