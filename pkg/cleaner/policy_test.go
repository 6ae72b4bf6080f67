package cleaner_test

import (
	"math"
	"testing"

	"github.com/downfa11-org/logcleaner/pkg/cleaner"
	"github.com/stretchr/testify/require"
)

func basePolicyInputs() cleaner.PolicyInputs {
	return cleaner.PolicyInputs{
		WriteCostThreshold:   2.0,
		MinMemoryUtilization: 90,
		MinDiskUtilization:   95,
	}
}

func TestDecide_TerminatesOnExit(t *testing.T) {
	in := basePolicyInputs()
	in.ThreadShouldExit = true
	in.MemoryUtilization = 99
	require.Equal(t, cleaner.ActionTerminate, cleaner.Decide(in))
}

func TestDecide_DiskCleanOnHighDiskUtilization(t *testing.T) {
	in := basePolicyInputs()
	in.DiskUtilization = 96
	require.Equal(t, cleaner.ActionDiskClean, cleaner.Decide(in))
}

func TestDecide_DiskCleanOnWriteCostEscalation(t *testing.T) {
	// spec.md scenario 6: write cost 3.5 > threshold 2.0 switches to disk
	// cleaning even though disk utilization is only 60%.
	in := basePolicyInputs()
	in.DiskUtilization = 60
	in.LastMemoryWriteCost = 3.5
	in.TombstonesPending = true
	require.Equal(t, cleaner.ActionDiskClean, cleaner.Decide(in))
}

func TestDecide_HighWriteCostWithoutTombstonesDoesNotForceDiskClean(t *testing.T) {
	in := basePolicyInputs()
	in.LastMemoryWriteCost = 3.5
	in.TombstonesPending = false
	in.MemoryUtilization = 50
	require.Equal(t, cleaner.ActionSleep, cleaner.Decide(in))
}

func TestDecide_MemoryCleanOnMemoryPressure(t *testing.T) {
	in := basePolicyInputs()
	in.MemoryUtilization = 91
	require.Equal(t, cleaner.ActionMemoryClean, cleaner.Decide(in))
}

func TestDecide_SleepWhenNothingPending(t *testing.T) {
	in := basePolicyInputs()
	in.MemoryUtilization = 10
	in.DiskUtilization = 10
	in.LastMemoryWriteCost = math.Inf(1)
	require.Equal(t, cleaner.ActionSleep, cleaner.Decide(in))
}
