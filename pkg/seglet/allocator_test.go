package seglet_test

import (
	"testing"
	"time"

	"github.com/downfa11-org/logcleaner/pkg/seglet"
	"github.com/stretchr/testify/require"
)

func TestAllocFree_RoundTrip(t *testing.T) {
	a := seglet.NewAllocator(4, 16)
	require.Equal(t, 4, a.Available())

	ids, err := a.Alloc(3, nil)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	require.Equal(t, 1, a.Available())

	a.Free(ids)
	require.Equal(t, 4, a.Available())
}

func TestAlloc_ImpossibleRequestFailsFast(t *testing.T) {
	a := seglet.NewAllocator(2, 16)
	_, err := a.Alloc(3, nil)
	require.Error(t, err)
}

func TestAlloc_BlocksUntilFreed(t *testing.T) {
	a := seglet.NewAllocator(2, 16)
	held, err := a.Alloc(2, nil)
	require.NoError(t, err)

	done := make(chan []seglet.ID, 1)
	go func() {
		ids, err := a.Alloc(1, nil)
		require.NoError(t, err)
		done <- ids
	}()

	select {
	case <-done:
		t.Fatal("expected Alloc to block while pool is exhausted")
	case <-time.After(30 * time.Millisecond):
	}

	a.Free(held[:1])

	select {
	case ids := <-done:
		require.Len(t, ids, 1)
	case <-time.After(time.Second):
		t.Fatal("Alloc did not unblock after Free")
	}
}

func TestAlloc_StopChannelAborts(t *testing.T) {
	a := seglet.NewAllocator(1, 16)
	_, err := a.Alloc(1, nil)
	require.NoError(t, err)

	stop := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := a.Alloc(1, stop)
		errCh <- err
	}()

	close(stop)
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, seglet.ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("Alloc did not observe stop signal")
	}
}
