package bloomfilter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddedKeysAlwaysReported(t *testing.T) {
	f := NewPageIDFilter()
	for id := uint32(1); id <= 500; id++ {
		f.AddUint32(id)
	}
	for id := uint32(1); id <= 500; id++ {
		require.True(t, f.MayContainUint32(id))
	}
}

func TestEmptyFilterContainsNothing(t *testing.T) {
	f := NewPageIDFilter()
	for id := uint32(1); id <= 100; id++ {
		require.False(t, f.MayContainUint32(id))
	}
}

func TestWireRoundtripIsFixedSize(t *testing.T) {
	f := NewPageIDFilter()
	f.AddUint32(7)
	f.AddUint32(12345)

	data := f.Bytes()
	require.Len(t, data, PageIDBloomBytes)

	loaded := LoadPageIDFilter(data)
	require.True(t, loaded.MayContainUint32(7))
	require.True(t, loaded.MayContainUint32(12345))
	require.False(t, loaded.MayContainUint32(8))
}

func TestFalsePositiveRateStaysLow(t *testing.T) {
	f := NewPageIDFilter()
	for id := uint32(1); id <= 200; id++ {
		f.AddUint32(id)
	}

	falsePositives := 0
	const probes = 10_000
	for id := uint32(1_000_000); id < 1_000_000+probes; id++ {
		if f.MayContainUint32(id) {
			falsePositives++
		}
	}
	// 200 keys over 2048 bits with k=4 sits well under a 5% FP rate.
	require.Less(t, falsePositives, probes/20)
}
