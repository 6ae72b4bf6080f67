package segment

import (
	"fmt"
	"sync"

	"github.com/downfa11-org/logcleaner/pkg/seglet"
	"github.com/downfa11-org/logcleaner/util"
)

// DiskUsage is the sliver of the replica manager's interface the segment
// manager needs to compute diskUtilization() (spec.md §6). Implemented by
// pkg/replication.Manager.
type DiskUsage interface {
	Used() int64
	Capacity() int64
}

// Manager owns every segment and seglet in the system and is the
// "segment manager" the cleaner consumes per spec.md §6: cleanableCandidates,
// reserveSurvivors, installSurvivors, and the utilization queries the policy
// engine reads each tick. Grounded on pkg/disk/manager.go's handler
// registry, generalized from per-topic-partition disk handlers to a single
// pool of in-memory segments.
type Manager struct {
	mu sync.RWMutex

	alloc              *seglet.Allocator
	segletsPerSegment  int
	segmentBytesTotal  int
	nextID             ID
	segments           map[ID]*Segment
	disk               DiskUsage
}

// NewManager constructs a segment manager over a fresh seglet pool sized to
// hold segmentCount segments of segmentBytes each.
func NewManager(segmentCount, segmentBytes, segletBytes int, disk DiskUsage) *Manager {
	segletsPerSegment := segmentBytes / segletBytes
	total := segmentCount * segletsPerSegment
	return &Manager{
		alloc:             seglet.NewAllocator(total, segletBytes),
		segletsPerSegment: segletsPerSegment,
		segmentBytesTotal: segmentBytes,
		segments:          make(map[ID]*Segment),
		disk:              disk,
	}
}

// SegletSize returns the fixed size of one seglet in bytes.
func (m *Manager) SegletSize() int { return m.alloc.Size() }

// SegmentSize returns the fixed size of one full segment in bytes.
func (m *Manager) SegmentSize() int { return m.segmentBytesTotal }

// SegletsPerSegment returns how many seglets make up one segment.
func (m *Manager) SegletsPerSegment() int { return m.segletsPerSegment }

// OpenSegment allocates a fresh, empty OPEN segment. Used both by
// foreground writers appending live traffic and by the relocator to obtain
// survivor segments.
func (m *Manager) OpenSegment(stop <-chan struct{}) (*Segment, error) {
	ids, err := m.alloc.Alloc(m.segletsPerSegment, stop)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	seg := New(id, m.alloc, ids)
	m.segments[id] = seg
	m.mu.Unlock()
	return seg, nil
}

// ReserveSurvivors pre-allocates n empty OPEN segments up front so a
// relocation pass can't stall mid-pass for allocation (spec.md §4.3 step 3,
// SURVIVOR_SEGMENTS_TO_RESERVE). It blocks until n segments are available or
// stop closes.
func (m *Manager) ReserveSurvivors(n int, stop <-chan struct{}) ([]*Segment, error) {
	out := make([]*Segment, 0, n)
	for i := 0; i < n; i++ {
		seg, err := m.OpenSegment(stop)
		if err != nil {
			// Release everything already reserved; the pass aborts.
			m.releaseUnused(out)
			return nil, fmt.Errorf("reserve survivors: %w", err)
		}
		out = append(out, seg)
	}
	return out, nil
}

// releaseUnused frees segments that were reserved but never installed,
// e.g. because a pass aborted partway through reservation.
func (m *Manager) releaseUnused(segs []*Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seg := range segs {
		delete(m.segments, seg.id)
		m.alloc.Free(seg.Seglets())
	}
}

// ReleaseSurvivor discards a reserved-but-unused survivor, e.g. the last
// survivor of a pass that never received any entries.
func (m *Manager) ReleaseSurvivor(seg *Segment) {
	m.releaseUnused([]*Segment{seg})
}

// CleanableCandidates returns every segment currently eligible for
// cleaning: CLOSED or CLEANABLE. Reserved survivors are still OPEN and so
// are excluded; no other filter is applied.
func (m *Manager) CleanableCandidates() []*Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Segment, 0)
	for _, seg := range m.segments {
		st := seg.State()
		if st == Closed || st == Cleanable {
			out = append(out, seg)
		}
	}
	return out
}

// TrimTrailingSeglets returns a survivor's unused trailing seglets to the
// pool once its final pass-time size is known (spec.md §4.3 step 5).
func (m *Manager) TrimTrailingSeglets(seg *Segment, keep int) {
	seg.mu.Lock()
	if keep >= len(seg.segletIDs) {
		seg.mu.Unlock()
		return
	}
	trailing := append([]seglet.ID(nil), seg.segletIDs[keep:]...)
	seg.segletIDs = seg.segletIDs[:keep]
	seg.mu.Unlock()
	m.alloc.Free(trailing)
}

// InstallSurvivors atomically retires a pass's input segments (CLEANABLE ->
// FREEABLE, then their seglets returned to the pool) and installs the
// pass's survivors as fresh CLEANABLE segments, per spec.md §6's
// installSurvivors and the segment-free ordering rule in §5 (callers must
// have already awaited replication of every survivor before calling this).
func (m *Manager) InstallSurvivors(inputs, survivors []*Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, in := range inputs {
		in.setState(Freeable)
		m.alloc.Free(in.Seglets())
		delete(m.segments, in.id)
	}
	for _, sv := range survivors {
		sv.MarkCleanable()
		m.segments[sv.id] = sv
	}
	util.Debug("segment manager: installed %d survivors, freed %d inputs", len(survivors), len(inputs))
}

// MemoryUtilization returns the percent (0-100) of all seglets in the pool
// currently allocated to a segment.
func (m *Manager) MemoryUtilization() float64 {
	total := m.alloc.Total()
	if total == 0 {
		return 0
	}
	used := total - m.alloc.Available()
	return float64(used) / float64(total) * 100
}

// DiskUtilization returns the percent (0-100) of backup capacity in use.
func (m *Manager) DiskUtilization() float64 {
	if m.disk == nil || m.disk.Capacity() == 0 {
		return 0
	}
	return float64(m.disk.Used()) / float64(m.disk.Capacity()) * 100
}

// SegmentByID is a small test/debug accessor.
func (m *Manager) SegmentByID(id ID) (*Segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, ok := m.segments[id]
	return seg, ok
}
