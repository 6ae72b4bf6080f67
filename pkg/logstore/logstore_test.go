package logstore_test

import (
	"testing"

	"github.com/downfa11-org/logcleaner/pkg/index"
	"github.com/downfa11-org/logcleaner/pkg/logstore"
	"github.com/downfa11-org/logcleaner/pkg/segment"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t uint32 }

func (c *fakeClock) Now() uint32 {
	c.t++
	return c.t
}

type fakeDisk struct{}

func (fakeDisk) Used() int64     { return 0 }
func (fakeDisk) Capacity() int64 { return 1 << 30 }

func newTestStore(t *testing.T, segments, segmentBytes, segletBytes int) *logstore.Store {
	t.Helper()
	mgr := segment.NewManager(segments, segmentBytes, segletBytes, fakeDisk{})
	idx := index.NewLiveIndex()
	st, err := logstore.New(mgr, idx, &fakeClock{})
	require.NoError(t, err)
	return st
}

func TestPutGet(t *testing.T) {
	st := newTestStore(t, 4, 256, 32)
	require.NoError(t, st.Put(1, []byte("hello")))

	got, ok, err := st.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
}

func TestPut_OverwriteReplacesValue(t *testing.T) {
	st := newTestStore(t, 4, 256, 32)
	require.NoError(t, st.Put(1, []byte("v1")))
	require.NoError(t, st.Put(1, []byte("v2")))

	got, ok, err := st.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), got)
}

func TestDelete_RemovesFromIndex(t *testing.T) {
	st := newTestStore(t, 4, 256, 32)
	require.NoError(t, st.Put(1, []byte("v1")))
	require.NoError(t, st.Delete(1))

	_, ok, err := st.Get(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGet_MissingKey(t *testing.T) {
	st := newTestStore(t, 4, 256, 32)
	_, ok, err := st.Get(42)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRolloverAcrossSegments(t *testing.T) {
	// Small segments force multiple rollovers within a handful of Puts: each
	// 46-byte entry fills a 64-byte segment on its own, so the pool holds one
	// segment per Put.
	st := newTestStore(t, 20, 64, 16)
	first := st.CurrentSegment().ID()

	for i := uint64(0); i < 20; i++ {
		require.NoError(t, st.Put(i, []byte("payload-bytes-here")))
	}

	require.NotEqual(t, first, st.CurrentSegment().ID())
	for i := uint64(0); i < 20; i++ {
		got, ok, err := st.Get(i)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("payload-bytes-here"), got)
	}
}
