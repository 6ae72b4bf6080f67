// Package cleaner implements the log cleaner's core: the cost/benefit
// selector, the policy decision table, the relocation pipeline, and the
// long-running task that ties them together. Grounded on the
// start/stop-with-done-channel task lifecycle of the teacher's
// pkg/cluster/replication/isr_manager.go, generalized from a fixed-interval
// heartbeat loop to a policy-driven variable-action loop.
package cleaner

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/logcleaner/pkg/index"
	"github.com/downfa11-org/logcleaner/pkg/logentry"
	"github.com/downfa11-org/logcleaner/pkg/metrics"
	"github.com/downfa11-org/logcleaner/pkg/segment"
	"github.com/downfa11-org/logcleaner/util"
)

// State is the cleaner task's position in the STOPPED -> RUNNING ->
// STOPPING -> STOPPED lifecycle (spec.md §4.4).
type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// ErrAlreadyRunning is returned by Start when called outside STOPPED.
var ErrAlreadyRunning = errors.New("cleaner: start is only legal from STOPPED")

// ErrNotRunning is returned by Stop when called outside RUNNING.
var ErrNotRunning = errors.New("cleaner: stop is only legal from RUNNING")

// Stats mirrors spec.md §6's statistics() counters.
type Stats struct {
	BytesCleaned        int64
	BytesRelocated      int64
	MemoryPasses        int64
	DiskPasses          int64
	SegmentsFreed       int64
	SurvivorsProduced   int64
	TombstonesReleased  int64
	LastWriteCost       float64
}

// Tunables mirrors spec.md §6's tunable table.
type Tunables struct {
	PollInterval                  time.Duration
	MaxCleanableMemoryUtilization int
	MaxLiveSegmentsPerDiskPass    int
	SurvivorSegmentsToReserve     int
	MinMemoryUtilization          int
	MinDiskUtilization            int
	WriteCostThreshold            float64
}

// Clock supplies the "now" used for age scoring, injected so tests don't
// depend on wall-clock time.
type Clock interface {
	Now() uint32
}

// Cleaner is the C6 task: the single long-lived activity per log. I4 is
// not checked here: nothing stops an embedding program from constructing
// more than one Cleaner per Store.
type Cleaner struct {
	segments SegmentManager
	replicas ReplicaManager
	handler  index.Handler
	relocate *Relocator
	tunables Tunables
	clock    Clock

	state   atomic.Int32
	stopCh  chan struct{}
	doneCh  chan struct{}
	fatalMu sync.Mutex
	fatal   error

	statsMu             sync.Mutex
	stats               Stats
	lastMemoryWriteCost float64
}

// New constructs a cleaner over its three collaborators. It does not start
// the task; call Start.
func New(segments SegmentManager, replicas ReplicaManager, handler index.Handler, clock Clock, tunables Tunables) *Cleaner {
	return &Cleaner{
		segments:            segments,
		replicas:            replicas,
		handler:             handler,
		relocate:            NewRelocator(segments, replicas, handler, tunables.SurvivorSegmentsToReserve),
		tunables:            tunables,
		clock:               clock,
		stopCh:              make(chan struct{}),
		doneCh:              make(chan struct{}),
		lastMemoryWriteCost: 0,
	}
}

// Start launches the background activity. Legal only from STOPPED.
func (c *Cleaner) Start() error {
	if !c.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return ErrAlreadyRunning
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	metrics.CleanerState.Set(float64(Running))
	go c.loop()
	return nil
}

// Stop requests the task terminate, waits for its current pass (if any) to
// finish, then joins. Legal only from RUNNING.
func (c *Cleaner) Stop() error {
	if !c.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return ErrNotRunning
	}
	metrics.CleanerState.Set(float64(Stopping))
	close(c.stopCh)
	<-c.doneCh
	c.state.Store(int32(Stopped))
	metrics.CleanerState.Set(float64(Stopped))
	return nil
}

// State reports the task's current lifecycle position.
func (c *Cleaner) State() State { return State(c.state.Load()) }

// FatalError returns the invariant violation that terminated the task, if
// any. A non-nil result means the log subsystem should be considered down.
func (c *Cleaner) FatalError() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatal
}

// Statistics returns a snapshot of the cleaner's counters.
func (c *Cleaner) Statistics() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Cleaner) loop() {
	defer close(c.doneCh)
	for {
		if c.threadShouldExit() {
			return
		}
		if err := c.tick(); err != nil {
			var inv *InvariantViolation
			if errors.As(err, &inv) {
				c.fatalMu.Lock()
				c.fatal = err
				c.fatalMu.Unlock()
				util.Error("cleaner: fatal invariant violation, terminating task: %v", err)
				return
			}
			util.Warn("cleaner: transient error, retrying next tick: %v", err)
		}
	}
}

func (c *Cleaner) threadShouldExit() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// tick implements one iteration of the C6 activity body: refresh
// candidates, invoke policy, dispatch, sleep on ActionSleep.
func (c *Cleaner) tick() error {
	candidates := c.segments.CleanableCandidates()

	in := PolicyInputs{
		ThreadShouldExit:      c.threadShouldExit(),
		MemoryUtilization:     c.segments.MemoryUtilization(),
		DiskUtilization:       c.segments.DiskUtilization(),
		LastMemoryWriteCost:   c.currentLastWriteCost(),
		WriteCostThreshold:    c.tunables.WriteCostThreshold,
		TombstonesPending:     hasPendingTombstones(candidates),
		MinMemoryUtilization:  float64(c.tunables.MinMemoryUtilization),
		MinDiskUtilization:    float64(c.tunables.MinDiskUtilization),
	}

	switch action := Decide(in); action {
	case ActionTerminate:
		return nil
	case ActionMemoryClean:
		return c.runMemoryPass(candidates)
	case ActionDiskClean:
		return c.runDiskPass(candidates)
	default:
		c.sleep()
		return nil
	}
}

func (c *Cleaner) sleep() {
	select {
	case <-time.After(c.tunables.PollInterval):
	case <-c.stopCh:
	}
}

func (c *Cleaner) runMemoryPass(candidates []*segment.Segment) error {
	best, freeable := SelectForMemory(candidates, c.segments.SegletSize(), c.tunables.MaxCleanableMemoryUtilization)
	if best == nil || freeable < 1 {
		// P5: idle idempotence. No candidate yields a freeable seglet;
		// perform no allocations, no handler calls.
		return nil
	}

	result, err := c.relocate.Run(KindMemory, []*segment.Segment{best}, c.stopCh)
	if err != nil {
		return err
	}
	c.recordPass(result)
	return nil
}

func (c *Cleaner) runDiskPass(candidates []*segment.Segment) error {
	batch := SelectForDisk(candidates, c.segments.SegmentSize(), c.tunables.MaxLiveSegmentsPerDiskPass, c.clock.Now())
	if len(batch) == 0 {
		return nil
	}

	result, err := c.relocate.Run(KindDisk, batch, c.stopCh)
	if err != nil {
		return err
	}
	c.recordPass(result)
	return nil
}

func (c *Cleaner) recordPass(result PassResult) {
	c.statsMu.Lock()
	c.stats.BytesRelocated += result.BytesRelocated
	c.stats.BytesCleaned += result.BytesFreed
	c.stats.SegmentsFreed += int64(result.InputsFreed)
	c.stats.SurvivorsProduced += int64(result.SurvivorsProduced)
	c.stats.TombstonesReleased += int64(result.TombstonesReleased)
	c.stats.LastWriteCost = result.WriteCost
	if result.Kind == KindMemory {
		c.stats.MemoryPasses++
		c.lastMemoryWriteCost = result.WriteCost
	} else {
		c.stats.DiskPasses++
	}
	c.statsMu.Unlock()

	metrics.RecordPass(string(result.Kind), result.BytesRelocated, result.InputsFreed, result.SurvivorsProduced, result.WriteCost, 0)
	metrics.TombstonesReleased.Add(float64(result.TombstonesReleased))
	metrics.MemoryUtilization.Set(c.segments.MemoryUtilization())
	metrics.DiskUtilization.Set(c.segments.DiskUtilization())
}

func (c *Cleaner) currentLastWriteCost() float64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.lastMemoryWriteCost
}

// hasPendingTombstones reports whether any candidate holds a tombstone
// entry, i.e. one that only a disk pass (which frees whole segments) may
// be needed to release. It does not consult the handler, so tombstones
// whose target segment has already been freed also count.
func hasPendingTombstones(candidates []*segment.Segment) bool {
	for _, seg := range candidates {
		for _, e := range seg.Entries() {
			if e.Header.Type == logentry.Tombstone {
				return true
			}
		}
	}
	return false
}
