package compress

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskdb/duskdb/format"
)

// chunkLike builds a payload shaped like an encoded chunk buffer: long
// runs of near-identical bit patterns with occasional jumps, the output
// the delta/XOR codecs actually hand this layer.
func chunkLike(n int) []byte {
	rng := rand.New(rand.NewSource(42)) //nolint:gosec // deterministic test data
	out := make([]byte, 0, n)
	word := uint64(0x3FF0_0000_0000_0000)
	for len(out) < n {
		if rng.Intn(16) == 0 {
			word = rng.Uint64()
		}
		word ^= uint64(rng.Intn(4))
		var b [8]byte
		for i := range b {
			b[i] = byte(word >> (8 * i))
		}
		out = append(out, b[:]...)
	}

	return out[:n]
}

func TestGetCodec_KnownTypes(t *testing.T) {
	for _, typ := range []format.CompressionType{
		format.CompressionNone,
		format.CompressionZstd,
		format.CompressionS2,
		format.CompressionLZ4,
	} {
		c, err := GetCodec(typ)
		require.NoError(t, err)
		require.NotNil(t, c)
	}

	_, err := GetCodec(format.CompressionType(0xFF))
	require.Error(t, err)
}

func TestRoundtrip(t *testing.T) {
	payloads := map[string][]byte{
		"chunk_small": chunkLike(512),
		"chunk_full":  chunkLike(4096),
		"chunk_large": chunkLike(64 << 10),
	}

	for _, typ := range []format.CompressionType{
		format.CompressionNone,
		format.CompressionZstd,
		format.CompressionS2,
		format.CompressionLZ4,
	} {
		c, err := GetCodec(typ)
		require.NoError(t, err)

		t.Run(typ.String(), func(t *testing.T) {
			for name, data := range payloads {
				compressed, err := c.Compress(data)
				require.NoError(t, err, name)

				out, err := c.Decompress(compressed)
				require.NoError(t, err, name)
				require.Equal(t, data, out, name)
			}
		})
	}
}

func TestRoundtrip_EmptyInput(t *testing.T) {
	for _, typ := range []format.CompressionType{
		format.CompressionZstd,
		format.CompressionS2,
		format.CompressionLZ4,
	} {
		c, err := GetCodec(typ)
		require.NoError(t, err)

		compressed, err := c.Compress(nil)
		require.NoError(t, err)

		out, err := c.Decompress(compressed)
		require.NoError(t, err)
		require.Empty(t, out)
	}
}

func TestDecompress_RejectsGarbage(t *testing.T) {
	garbage := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03}

	for _, typ := range []format.CompressionType{
		format.CompressionZstd,
		format.CompressionS2,
		format.CompressionLZ4,
	} {
		c, err := GetCodec(typ)
		require.NoError(t, err)

		_, err = c.Decompress(garbage)
		require.Error(t, err, typ.String())
	}
}

func TestZstd_CompressesChunkPayloads(t *testing.T) {
	c, err := GetCodec(format.CompressionZstd)
	require.NoError(t, err)

	data := chunkLike(4096)
	compressed, err := c.Compress(data)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(data))
}

func TestIncompressibleDataSurvives(t *testing.T) {
	rng := rand.New(rand.NewSource(7)) //nolint:gosec // deterministic test data
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(rng.Intn(math.MaxUint8))
	}

	for _, typ := range []format.CompressionType{
		format.CompressionZstd,
		format.CompressionS2,
		format.CompressionLZ4,
	} {
		c, err := GetCodec(typ)
		require.NoError(t, err)

		compressed, err := c.Compress(data)
		require.NoError(t, err)

		out, err := c.Decompress(compressed)
		require.NoError(t, err)
		require.Equal(t, data, out, typ.String())
	}
}
