package tscodec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskdb/duskdb/bitio"
)

func TestTimestampCodec_Roundtrip(t *testing.T) {
	times := []int64{1000, 1001, 1002, 1003, 1100, 1050, 1050, 1050, 900000000}
	buf := make([]byte, 4096)
	c := bitio.NewCursor(buf)
	enc := NewTimestampEncoder()
	for _, ts := range times {
		require.True(t, enc.Append(c, ts))
	}

	r := bitio.NewCursor(buf)
	dec := NewTimestampDecoder()
	for _, want := range times {
		got, ok := dec.Next(r)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestValueCodec_Roundtrip(t *testing.T) {
	values := []float64{1.0, 1.0, 2.0, 2.5, -3.125, 0, 0, 1e9, 1.0000001}
	buf := make([]byte, 4096)
	c := bitio.NewCursor(buf)
	enc := NewValueEncoder()
	for _, v := range values {
		require.True(t, enc.Append(c, v))
	}

	r := bitio.NewCursor(buf)
	dec := NewValueDecoder()
	for _, want := range values {
		got, ok := dec.Next(r)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestFlagCodec_Roundtrip(t *testing.T) {
	flags := []uint32{0, 0, 1, 1, 1, 2, 0}
	buf := make([]byte, 1024)
	c := bitio.NewCursor(buf)
	enc := NewFlagEncoder()
	for _, f := range flags {
		require.True(t, enc.Append(c, f))
	}

	r := bitio.NewCursor(buf)
	dec := NewFlagDecoder()
	for _, want := range flags {
		got, ok := dec.Next(r)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestTimestampCodec_FailsWhenFull(t *testing.T) {
	buf := make([]byte, 8) // exactly 64 bits, enough only for the first raw value
	c := bitio.NewCursor(buf)
	enc := NewTimestampEncoder()
	require.True(t, enc.Append(c, 1000))
	require.False(t, enc.Append(c, 1001))
}
