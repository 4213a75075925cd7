package bitio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursor_WriteReadRoundtrip(t *testing.T) {
	buf := make([]byte, 16)
	w := NewCursor(buf)

	values := []struct {
		v uint64
		n int
	}{
		{1, 1},
		{0, 1},
		{0x7F, 7},
		{0x1FF, 9},
		{0xFFFFFFFF, 32},
		{0xFFFFFFFFFFFFFFFF, 64},
	}

	for _, tc := range values {
		require.True(t, w.WriteBits(tc.v, tc.n))
	}

	r := NewCursor(buf)
	for _, tc := range values {
		got, ok := r.ReadBits(tc.n)
		require.True(t, ok)
		mask := uint64(1)<<uint(tc.n) - 1
		if tc.n == 64 {
			mask = ^uint64(0)
		}
		require.Equal(t, tc.v&mask, got)
	}
}

func TestCursor_FailsWhenOutOfSpace(t *testing.T) {
	buf := make([]byte, 1)
	c := NewCursor(buf)
	require.True(t, c.WriteBits(0b1111, 4))
	require.False(t, c.WriteBits(0b11111, 5))
	require.True(t, c.WriteBits(0b1111, 4))
	require.False(t, c.WriteBit(1))
}

func TestCursor_SeekRollback(t *testing.T) {
	buf := make([]byte, 4)
	c := NewCursor(buf)
	require.True(t, c.WriteBits(0x5, 4))
	pos := c.BitPos()
	require.True(t, c.WriteBits(0xA, 4))
	c.Seek(pos)
	require.True(t, c.WriteBits(0x3, 4))

	r := NewCursor(buf)
	v, ok := r.ReadBits(8)
	require.True(t, ok)
	require.Equal(t, uint64(0x53), v)
}

func TestCursor_Remaining(t *testing.T) {
	buf := make([]byte, 2)
	c := NewCursor(buf)
	require.Equal(t, 16, c.Remaining())
	require.True(t, c.HasBits(16))
	require.False(t, c.HasBits(17))
	c.WriteBits(1, 10)
	require.Equal(t, 6, c.Remaining())
}
