package cleaner

import (
	"math"
	"sort"

	"github.com/downfa11-org/logcleaner/pkg/segment"
)

// SelectForMemory picks the single best segment to compact in place: the
// one maximizing freeable seglets among candidates at or below the
// memory-utilization ceiling. The ceiling is passed in as a percent (the
// configured MaxCleanableMemoryUtilization) so this file stays free of
// config imports. Ties go to the lower segment id, favoring
// older segments (spec.md §4.2's age-segregation tie-break).
func SelectForMemory(candidates []*segment.Segment, segletBytes int, maxCleanableUtilizationPct int) (*segment.Segment, int) {
	var best *segment.Segment
	bestFreeable := 0

	ceiling := float64(maxCleanableUtilizationPct) / 100.0
	for _, seg := range candidates {
		if seg.MemoryUtilization() > ceiling {
			continue
		}
		liveBytes := seg.BytesAppended() - seg.BytesDead()
		if liveBytes < 0 {
			liveBytes = 0
		}
		liveSeglets := int(math.Ceil(float64(liveBytes) / float64(segletBytes)))
		freeable := seg.SegletCount() - liveSeglets
		if freeable < 1 {
			continue
		}
		if best == nil || freeable > bestFreeable || (freeable == bestFreeable && seg.ID() < best.ID()) {
			best = seg
			bestFreeable = freeable
		}
	}
	return best, bestFreeable
}

// diskCandidate pairs a segment with its precomputed cost/benefit score.
type diskCandidate struct {
	seg   *segment.Segment
	score float64
}

// SelectForDisk ranks candidates by cost/benefit and greedily selects a
// batch whose accumulated live bytes stays within the pass budget
// (MAX_LIVE_SEGMENTS_PER_DISK_PASS * segmentBytes), guaranteeing P6.
func SelectForDisk(candidates []*segment.Segment, segmentBytes int, maxLiveSegmentsPerPass int, now uint32) []*segment.Segment {
	if len(candidates) == 0 {
		return nil
	}

	scored := make([]diskCandidate, 0, len(candidates))
	for _, seg := range candidates {
		u := seg.MemoryUtilization()
		age := float64(now - seg.MinTimestamp())
		benefit := (1 - u) * age
		cost := 1 + u
		scored = append(scored, diskCandidate{seg: seg, score: benefit / cost})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].seg.ID() < scored[j].seg.ID()
	})

	budget := int64(maxLiveSegmentsPerPass) * int64(segmentBytes)
	var accumulated int64
	selected := make([]*segment.Segment, 0, len(scored))
	for _, c := range scored {
		liveBytes := c.seg.BytesAppended() - c.seg.BytesDead()
		if liveBytes < 0 {
			liveBytes = 0
		}
		if len(selected) > 0 && accumulated+liveBytes > budget {
			break
		}
		selected = append(selected, c.seg)
		accumulated += liveBytes
		if accumulated >= budget {
			break
		}
	}
	return selected
}
