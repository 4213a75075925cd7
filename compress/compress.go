// Package compress applies the page-level second stage of compression to
// a chunk's packed bit buffer before it's written into a page file. The
// chunk codecs already squeeze out most per-sample redundancy; this layer
// trades a little CPU for whatever cross-sample redundancy is left in the
// whole buffer, selected per store by settings.PageCompression and
// recorded in the page so readers pick the matching codec.
//
// Payloads here are small and bounded — one chunk's encoded bytes, a few
// KiB — so the codecs are tuned for many tiny buffers rather than
// streams: encoders are pooled across chunks and decode allocations are
// capped, instead of trusting a size field read off disk.
package compress

import (
	"fmt"

	"github.com/duskdb/duskdb/format"
)

// maxDecodedChunk bounds what Decompress will allocate for a single
// chunk. A chunk's true decoded size is its pre-compression buffer — the
// store's configured chunk size, a few KiB — so input claiming more than
// this is a corrupted size field, not a real chunk, and is rejected
// rather than ballooning memory.
const maxDecodedChunk = 16 << 20

// Codec compresses and decompresses one chunk buffer at a time. Returned
// slices are freshly allocated (or the input itself, for the no-op
// codec); inputs are never modified. All implementations are safe for
// concurrent use.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// GetCodec returns the Codec for t, as recorded in a page's settings.
func GetCodec(t format.CompressionType) (Codec, error) {
	switch t {
	case format.CompressionNone:
		return noopCodec{}, nil
	case format.CompressionZstd:
		return zstdCodec{}, nil
	case format.CompressionS2:
		return s2Codec{}, nil
	case format.CompressionLZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("compress: unknown compression type %s", t)
	}
}

// noopCodec stores chunk buffers as-is. The chunk codecs' output is
// already dense enough that skipping the second stage is a legitimate
// choice when ingest is CPU-bound. Both directions return the input
// slice itself, so callers must treat it as shared.
type noopCodec struct{}

func (noopCodec) Compress(data []byte) ([]byte, error) { return data, nil }

func (noopCodec) Decompress(data []byte) ([]byte, error) { return data, nil }
