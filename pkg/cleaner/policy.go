package cleaner

// Action is the outcome of one tick's policy decision.
type Action int

const (
	ActionSleep Action = iota
	ActionMemoryClean
	ActionDiskClean
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionSleep:
		return "SLEEP"
	case ActionMemoryClean:
		return "MEMORY_CLEAN"
	case ActionDiskClean:
		return "DISK_CLEAN"
	case ActionTerminate:
		return "TERMINATE"
	default:
		return "UNKNOWN"
	}
}

// PolicyInputs bundles the state the decision table (spec.md §4.1) reads
// each tick.
type PolicyInputs struct {
	ThreadShouldExit    bool
	MemoryUtilization   float64 // percent, 0-100
	DiskUtilization      float64 // percent, 0-100
	LastMemoryWriteCost float64 // bytesWritten/bytesFreed of the last memory pass; +Inf if none freed
	WriteCostThreshold  float64
	TombstonesPending   bool // true if candidates hold tombstones that only a disk pass can release

	MinMemoryUtilization float64
	MinDiskUtilization   float64
}

// Decide evaluates the policy decision table top to bottom, exactly as
// spec.md §4.1 orders it: exit check, disk pressure, write-cost escalation,
// memory pressure, otherwise sleep.
func Decide(in PolicyInputs) Action {
	if in.ThreadShouldExit {
		return ActionTerminate
	}
	if in.DiskUtilization >= in.MinDiskUtilization {
		return ActionDiskClean
	}
	if in.LastMemoryWriteCost > in.WriteCostThreshold && in.TombstonesPending {
		return ActionDiskClean
	}
	if in.MemoryUtilization >= in.MinMemoryUtilization {
		return ActionMemoryClean
	}
	return ActionSleep
}
