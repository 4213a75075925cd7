package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskdb/duskdb/meas"
)

func TestAppendSealRoundtrip(t *testing.T) {
	want := []meas.Measurement{
		{ID: 7, Time: 1000, Value: 1.5, Flag: 0},
		{ID: 7, Time: 1001, Value: 1.5, Flag: 0},
		{ID: 7, Time: 1002, Value: 2.25, Flag: 3},
		{ID: 7, Time: 1100, Value: -8.0, Flag: 3},
		{ID: 7, Time: 1100, Value: -8.0, Flag: 0},
	}

	oc := NewOpenChunk(7, 4096)
	for _, m := range want {
		require.True(t, oc.Append(m))
	}
	require.Equal(t, uint32(len(want)), oc.Count())
	require.Equal(t, int64(1000), oc.FirstTime())
	require.Equal(t, int64(1100), oc.LastTime())

	sealed := oc.Seal(0)
	oc.Release()

	var got []meas.Measurement
	for m, err := range sealed.All() {
		require.NoError(t, err)
		got = append(got, m)
	}
	require.Equal(t, want, got)
}

func TestAppendRejectsForeignSeries(t *testing.T) {
	oc := NewOpenChunk(1, 4096)
	require.False(t, oc.Append(meas.Measurement{ID: 2, Time: 1, Value: 1}))
	require.Zero(t, oc.Count())
}

func TestFullChunkAcceptsPrefixOnly(t *testing.T) {
	oc := NewOpenChunk(5, 64)

	var accepted []meas.Measurement
	for i := int64(0); i < 10_000; i++ {
		m := meas.Measurement{ID: 5, Time: i * 7, Value: float64(i) * 0.5}
		if !oc.Append(m) {
			break
		}
		accepted = append(accepted, m)
	}
	require.NotEmpty(t, accepted)
	require.Less(t, len(accepted), 10_000)

	// A full chunk stays full, and the failed append must not have
	// disturbed the already-encoded prefix.
	require.False(t, oc.Append(meas.Measurement{ID: 5, Time: 99_999_999, Value: 1}))

	sealed := oc.Seal(0)
	var got []meas.Measurement
	for m, err := range sealed.All() {
		require.NoError(t, err)
		got = append(got, m)
	}
	require.Equal(t, accepted, got)
}

func TestPooledBufferReuseDoesNotLeakBits(t *testing.T) {
	// Fill a chunk with all-ones float patterns, release it back to the
	// pool, then encode a different series into a fresh chunk: stale bits
	// from the first buffer must not surface in the second's stream.
	first := NewOpenChunk(1, 256)
	for i := int64(0); first.Append(meas.Measurement{ID: 1, Time: i, Value: -1.0, Flag: 0xFFFF_FFFE}); i++ {
	}
	first.Seal(0)
	first.Release()

	want := []meas.Measurement{
		{ID: 2, Time: 50, Value: 0.125, Flag: 0},
		{ID: 2, Time: 51, Value: 0.250, Flag: 0},
	}
	second := NewOpenChunk(2, 256)
	for _, m := range want {
		require.True(t, second.Append(m))
	}

	var got []meas.Measurement
	for m, err := range second.Seal(0).All() {
		require.NoError(t, err)
		got = append(got, m)
	}
	require.Equal(t, want, got)
}

func TestChecksumDetectsCorruption(t *testing.T) {
	oc := NewOpenChunk(3, 1024)
	for i := int64(0); i < 20; i++ {
		require.True(t, oc.Append(meas.Measurement{ID: 3, Time: i, Value: float64(i)}))
	}

	sealed := oc.Seal(0)
	require.True(t, sealed.CheckChecksum())

	tampered := append([]byte(nil), sealed.Bytes()...)
	tampered[len(tampered)/2] ^= 0x40
	require.False(t, FromParts(sealed.Header(), tampered).CheckChecksum())
}

func TestHeaderWireRoundtrip(t *testing.T) {
	h := Header{
		IDMeas:       42,
		FirstTime:    -5,
		LastTime:     1 << 40,
		Count:        17,
		SizeBytes:    300,
		CRC32:        0xDEADBEEF,
		FlagBloom:    0b1010,
		OffsetInPage: 1 << 33,
	}

	got, err := ParseHeader(h.Bytes())
	require.NoError(t, err)
	require.Equal(t, h, got)

	_, err = ParseHeader(h.Bytes()[:HeaderSize-1])
	require.Error(t, err)
}

func TestFlagBloom(t *testing.T) {
	var bloom uint32
	bloom = addFlagBloom(bloom, 7)
	bloom = addFlagBloom(bloom, 9)

	require.True(t, FlagBloomMayContain(bloom, 7))
	require.True(t, FlagBloomMayContain(bloom, 9))
	require.False(t, FlagBloomMayContain(0, 7))
}

func TestTruncatedBufferReportsTornRecord(t *testing.T) {
	oc := NewOpenChunk(4, 1024)
	for i := int64(0); i < 50; i++ {
		require.True(t, oc.Append(meas.Measurement{ID: 4, Time: i, Value: float64(i)}))
	}
	sealed := oc.Seal(0)

	cut := FromParts(sealed.Header(), sealed.Bytes()[:4])
	var sawErr bool
	for _, err := range cut.All() {
		if err != nil {
			sawErr = true
			break
		}
	}
	require.True(t, sawErr)
}
