package cleaner_test

import (
	"testing"
	"unsafe"

	"github.com/downfa11-org/logcleaner/pkg/cleaner"
	"github.com/stretchr/testify/require"
)

func TestLiveEntry_Is16Bytes(t *testing.T) {
	require.Equal(t, uintptr(16), unsafe.Sizeof(cleaner.LiveEntry{}))
}
