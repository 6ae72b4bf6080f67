package replication_test

import (
	"testing"

	"github.com/downfa11-org/logcleaner/pkg/replication"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *replication.Manager {
	t.Helper()
	m, err := replication.NewManager(replication.Config{
		NodeID:        "test-node",
		CapacityBytes: 1024 * 1024,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

func TestReplicateClosed_RoundTrip(t *testing.T) {
	m := newTestManager(t)

	payload := []byte("survivor segment bytes go here, repeated repeated repeated")
	require.NoError(t, m.ReplicateClosed(7, payload))

	got, ok, err := m.Fetch(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, got)
}

func TestFetch_UnknownSegment(t *testing.T) {
	m := newTestManager(t)
	_, ok, err := m.Fetch(999)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUsedAndCapacity(t *testing.T) {
	m := newTestManager(t)
	require.Equal(t, int64(1024*1024), m.Capacity())
	require.Equal(t, int64(0), m.Used())

	require.NoError(t, m.ReplicateClosed(1, []byte("some bytes")))
	require.Greater(t, m.Used(), int64(0))
}

func TestForget_ReleasesBackup(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.ReplicateClosed(3, []byte("data")))
	_, ok, _ := m.Fetch(3)
	require.True(t, ok)

	m.Forget(3)
	_, ok, _ = m.Fetch(3)
	require.False(t, ok)
	require.Equal(t, int64(0), m.Used())
}
