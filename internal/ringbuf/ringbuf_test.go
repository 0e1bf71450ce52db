package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	r := New(16)
	n := r.Write([]byte{1, 2, 3, 4})
	require.Equal(t, 4, n)
	require.Equal(t, 4, r.Occupied())

	out := make([]byte, 4)
	got := r.Read(out)
	require.Equal(t, 4, got)
	require.Equal(t, []byte{1, 2, 3, 4}, out)
	require.Zero(t, r.Occupied())
}

func TestWriteTruncatesAtCapacity(t *testing.T) {
	r := New(4) // 3 usable bytes
	n := r.Write([]byte{1, 2, 3, 4, 5})
	require.Equal(t, 3, n)
}

func TestReadBlocksLeavesPartialBlock(t *testing.T) {
	r := New(32)
	r.Write([]byte{1, 2, 3, 4, 5, 6, 7})
	blocks := r.ReadBlocks(3)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, blocks)
	require.Equal(t, 1, r.Occupied())
}
