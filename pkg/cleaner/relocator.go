package cleaner

import (
	"fmt"
	"math"
	"sort"

	"github.com/downfa11-org/logcleaner/pkg/index"
	"github.com/downfa11-org/logcleaner/pkg/logentry"
	"github.com/downfa11-org/logcleaner/pkg/segment"
	"github.com/downfa11-org/logcleaner/util"
)

// Kind distinguishes a memory-compaction pass (single input segment, no
// disk/replica traffic) from a disk pass (multiple inputs, survivors
// durably replicated before installation).
type Kind string

const (
	KindMemory Kind = "memory"
	KindDisk   Kind = "disk"
)

// SegmentManager is the subset of pkg/segment.Manager the relocator and
// cleaner task drive, named to match spec.md §6's "segment manager,
// consumed" interface.
type SegmentManager interface {
	CleanableCandidates() []*segment.Segment
	ReserveSurvivors(n int, stop <-chan struct{}) ([]*segment.Segment, error)
	ReleaseSurvivor(seg *segment.Segment)
	TrimTrailingSeglets(seg *segment.Segment, keep int)
	InstallSurvivors(inputs, survivors []*segment.Segment)
	SegletSize() int
	SegmentSize() int
	MemoryUtilization() float64
	DiskUtilization() float64
}

// ReplicaManager is spec.md §6's "replica manager, consumed" interface.
// The concrete pkg/replication.Manager happens to make ReplicateClosed
// synchronous (Raft commit implies durability), which satisfies "completion
// observable via awaitReplication" without a separate await step.
type ReplicaManager interface {
	ReplicateClosed(segmentID uint64, data []byte) error
}

// PassResult summarizes one completed relocation pass for statistics and
// the write-cost feedback the policy engine reads next tick.
type PassResult struct {
	Kind               Kind
	InputsFreed        int
	SurvivorsProduced  int
	BytesRelocated     int64
	BytesFreed         int64 // gross capacity of the freed input segments
	TombstonesReleased int
	WriteCost          float64 // bytes relocated per byte net reclaimed
}

// Relocator implements spec.md §4.3's five-step pipeline. A single
// implementation serves both memory and disk cleaning: memory cleaning is
// the special case of one input segment, one survivor, and no replication.
type Relocator struct {
	segments SegmentManager
	replicas ReplicaManager
	handler  index.Handler

	survivorSegmentsToReserve int
}

// NewRelocator constructs a relocator over its three collaborators.
func NewRelocator(segments SegmentManager, replicas ReplicaManager, handler index.Handler, survivorSegmentsToReserve int) *Relocator {
	return &Relocator{
		segments:                  segments,
		replicas:                  replicas,
		handler:                   handler,
		survivorSegmentsToReserve: survivorSegmentsToReserve,
	}
}

// Run executes one pass over inputs. stop lets a blocking survivor
// reservation abort if the cleaner is stopping (spec.md §6:
// "reserveSurvivors blocks until reservation granted or the cleaner is
// stopping").
func (r *Relocator) Run(kind Kind, inputs []*segment.Segment, stop <-chan struct{}) (PassResult, error) {
	if len(inputs) == 0 {
		return PassResult{Kind: kind}, nil
	}

	// Step 1: collect live entries.
	live, tombstonesReleased, err := r.collectLiveEntries(inputs)
	if err != nil {
		return PassResult{}, err
	}

	// Step 2: sort by timestamp ascending (I5, P4). Equal timestamps may
	// land in any order, so this need not be a stable sort.
	sort.Slice(live, func(i, j int) bool { return live[i].entry.Timestamp < live[j].entry.Timestamp })

	if len(live) == 0 {
		// Nothing to carry forward: free the inputs outright (scenario 1,
		// "pure garbage").
		r.segments.InstallSurvivors(inputs, nil)
		r.notifyFreed(inputs)
		result := r.summarize(kind, inputs, nil, 0)
		result.TombstonesReleased = tombstonesReleased
		return result, nil
	}

	reserveCount := r.survivorSegmentsToReserve
	if kind == KindMemory {
		reserveCount = 1
	}
	survivors, err := r.segments.ReserveSurvivors(reserveCount, stop)
	if err != nil {
		return PassResult{}, &TransientError{Op: "reserveSurvivors", Err: err}
	}

	// Steps 3-4: append each live entry to the current survivor, notify
	// the handler, rolling to the next reserved survivor as each fills.
	appended, survivorsUsed, err := r.appendAndNotify(survivors, live)
	if err != nil {
		// spec.md §4.5: abort the pass, release only the survivors never
		// used, leave input segments untouched. Survivors the index may
		// already point into (I2's copy-then-update) must not be freed.
		r.releaseUnused(survivors[survivorsUsed:])
		return PassResult{}, err
	}
	unused := survivors[survivorsUsed:]
	survivors = survivors[:survivorsUsed]
	r.releaseUnused(unused)

	// Step 5: finalize. Trim each survivor's unused trailing seglets back
	// to the pool (spec.md §3: "any trailing unused seglets are returned
	// to the allocator"), close the last one, await replication (disk
	// only), then hand off to the segment manager.
	segletSize := r.segments.SegletSize()
	for _, sv := range survivors {
		keep := int((sv.BytesAppended() + int64(segletSize) - 1) / int64(segletSize))
		r.segments.TrimTrailingSeglets(sv, keep)
	}
	if len(survivors) > 0 {
		last := survivors[len(survivors)-1]
		last.Close()
	}

	if kind == KindDisk {
		for _, sv := range survivors {
			if err := r.replicas.ReplicateClosed(uint64(sv.ID()), sv.Snapshot()); err != nil {
				// The index may already point live entries into these
				// survivors (I2's copy-then-update); they must not be
				// released back to the allocator. Leave them CLOSED and
				// un-installed; the input segments stay untouched too, so
				// the pass can simply be retried next tick.
				return PassResult{}, &TransientError{Op: "replicateClosed", Err: err}
			}
		}
	}

	r.segments.InstallSurvivors(inputs, survivors)
	r.notifyFreed(inputs)
	result := r.summarize(kind, inputs, survivors, appended)
	result.TombstonesReleased = tombstonesReleased
	return result, nil
}

// notifyFreed tells the handler which segment ids just went away, so I3's
// "retain until target segment freed" tombstones can finally be dropped.
func (r *Relocator) notifyFreed(inputs []*segment.Segment) {
	for _, in := range inputs {
		r.handler.NotifySegmentFreed(in.ID())
	}
}

type liveEntryRef struct {
	entry LiveEntry
	seg   *segment.Segment
}

// collectLiveEntries implements step 1: scan every input segment's entries
// and ask the handler whether each is still live. The handler's answer is
// authoritative; the relocator never re-derives liveness itself.
func (r *Relocator) collectLiveEntries(inputs []*segment.Segment) ([]liveEntryRef, int, error) {
	var out []liveEntryRef
	tombstonesReleased := 0
	for _, seg := range inputs {
		for _, e := range seg.Entries() {
			answer := r.handler.CheckLiveness(seg, e.Offset, e.Header)
			switch answer {
			case index.StillLive:
				ts := r.handler.Timestamp(e.Header)
				out = append(out, liveEntryRef{
					entry: LiveEntry{Handle: uint64(seg.ID()), Offset: e.Offset, Timestamp: ts},
					seg:   seg,
				})
			case index.DiedNaturally:
				if e.Header.Type == logentry.Tombstone {
					tombstonesReleased++
				}
			default:
				return nil, 0, &InvariantViolation{
					Invariant: "I2",
					Detail:    fmt.Sprintf("handler returned unexpected liveness answer %v for segment %d offset %d", answer, seg.ID(), e.Offset),
				}
			}
		}
	}
	return out, tombstonesReleased, nil
}

// appendAndNotify implements steps 3-4. It returns the number of bytes
// actually appended and how many of the provided survivors were used.
func (r *Relocator) appendAndNotify(survivors []*segment.Segment, live []liveEntryRef) (int64, int, error) {
	if len(survivors) == 0 {
		return 0, 0, &TransientError{Op: "appendAndNotify", Err: fmt.Errorf("no survivors reserved")}
	}

	var bytesAppended int64
	survivorIdx := 0
	current := survivors[survivorIdx]

	for _, lr := range live {
		h, err := lr.seg.ReadHeader(lr.entry.Offset)
		if err != nil {
			return bytesAppended, survivorIdx + 1, fmt.Errorf("relocator: read header: %w", err)
		}
		payload := lr.seg.ReadPayload(lr.entry.Offset, h.Length)

		offset, err := current.Append(h, payload)
		if err != nil {
			current.Close()
			survivorIdx++
			if survivorIdx >= len(survivors) {
				return bytesAppended, survivorIdx, &TransientError{Op: "appendAndNotify", Err: fmt.Errorf("exhausted reserved survivors")}
			}
			current = survivors[survivorIdx]
			offset, err = current.Append(h, payload)
			if err != nil {
				return bytesAppended, survivorIdx + 1, fmt.Errorf("relocator: append to fresh survivor: %w", err)
			}
		}

		oldRef := index.Ref{Segment: lr.seg, Offset: lr.entry.Offset}
		newRef := index.Ref{Segment: current, Offset: offset}
		if ok := r.handler.Relocate(h, oldRef, newRef); !ok {
			// I2/P2: the entry died between collection and relocation.
			// The freshly appended copy is dead on arrival; it stays
			// until the survivor itself is next cleaned.
			current.MarkDead(uint32(logentry.HeaderSize) + h.Length)
		}
		bytesAppended += int64(logentry.HeaderSize) + int64(h.Length)
	}
	return bytesAppended, survivorIdx + 1, nil
}

// releaseUnused returns reserved-but-never-appended-to survivors to the
// segment manager.
func (r *Relocator) releaseUnused(unused []*segment.Segment) {
	for _, seg := range unused {
		r.segments.ReleaseSurvivor(seg)
	}
}

func (r *Relocator) summarize(kind Kind, inputs, survivors []*segment.Segment, bytesRelocated int64) PassResult {
	var bytesFreed int64
	for _, in := range inputs {
		bytesFreed += in.Capacity()
	}
	// Write cost is bytes written per byte of memory actually reclaimed, not
	// per gross input capacity: a survivor retaining most of an input's
	// capacity reclaims almost nothing, and the pass should read as
	// expensive even though bytesRelocated never exceeds bytesFreed. This
	// mirrors the freeableSeglets quantity the selector ranks passes by, so
	// write cost can exceed 1.0 and drive the policy engine's disk-cleaning
	// escalation (spec.md §4.1, §8 scenario 6).
	var bytesRetained int64
	for _, sv := range survivors {
		bytesRetained += sv.Capacity()
	}
	bytesReclaimed := bytesFreed - bytesRetained
	writeCost := 0.0
	switch {
	case bytesReclaimed > 0:
		writeCost = float64(bytesRelocated) / float64(bytesReclaimed)
	case bytesRelocated > 0:
		// Relocated bytes with nothing net reclaimed: the pass is pure
		// overhead, as costly as a pass can be.
		writeCost = math.Inf(1)
	}
	util.Debug("cleaner: %s pass freed %d inputs, produced %d survivors, relocated %d bytes, reclaimed %d bytes, write cost %.3f", kind, len(inputs), len(survivors), bytesRelocated, bytesReclaimed, writeCost)
	return PassResult{
		Kind:              kind,
		InputsFreed:       len(inputs),
		SurvivorsProduced: len(survivors),
		BytesRelocated:    bytesRelocated,
		BytesFreed:        bytesFreed,
		WriteCost:         writeCost,
	}
}
