package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGrabReturnsZeroedBytes(t *testing.T) {
	var bb Buffer

	first := bb.Grab(64)
	for i := range first {
		first[i] = 0xFF
	}

	second := bb.Grab(32)
	require.Len(t, second, 32)
	for i, b := range second {
		require.Zero(t, b, "stale byte at %d survived Grab", i)
	}
}

func TestGrabGrowsWhenNeeded(t *testing.T) {
	var bb Buffer

	small := bb.Grab(8)
	require.Len(t, small, 8)

	big := bb.Grab(1 << 16)
	require.Len(t, big, 1<<16)
}

func TestAppendAndWriteTo(t *testing.T) {
	var bb Buffer
	bb.Append([]byte("head"))
	bb.Append([]byte("body"))
	require.Equal(t, 8, bb.Len())

	var sink bytes.Buffer
	n, err := bb.WriteTo(&sink)
	require.NoError(t, err)
	require.Equal(t, int64(8), n)
	require.Equal(t, "headbody", sink.String())
}

func TestPoolReusesBuffers(t *testing.T) {
	p := NewPool(64, 1024)

	bb := p.Get()
	bb.Append(make([]byte, 100))
	p.Put(bb)

	got := p.Get()
	require.Zero(t, got.Len(), "pooled buffer must come back empty")
}

func TestPoolDiscardsOversizedBuffers(t *testing.T) {
	p := NewPool(64, 128)

	bb := p.Get()
	bb.Grab(4096)
	p.Put(bb) // over retainBytes: silently dropped, not retained

	got := p.Get()
	require.NotSame(t, bb, got)
}

func TestPutNilIsSafe(t *testing.T) {
	p := NewPool(64, 128)
	p.Put(nil)
}
