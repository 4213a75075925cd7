package compress

import (
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// lz4Codec uses LZ4 block (not frame) compression: a chunk is a single
// block, so the frame format's chaining and content-size machinery would
// be pure overhead. A one-byte tag ahead of each block handles the two
// things raw blocks can't express: chunk buffers that defeat LZ4
// entirely (CompressBlock reports those as n == 0) are stored raw, and a
// reader can reject anything that isn't one of the two known shapes.
type lz4Codec struct{}

var _ Codec = lz4Codec{}

const (
	lz4TagRaw   = 0x0
	lz4TagBlock = 0x1
)

var lz4Compressors = sync.Pool{
	New: func() any { return &lz4.Compressor{} },
}

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	lc := lz4Compressors.Get().(*lz4.Compressor)
	defer lz4Compressors.Put(lc)

	dst := make([]byte, 1+lz4.CompressBlockBound(len(data)))
	n, err := lc.CompressBlock(data, dst[1:])
	if err != nil {
		return nil, fmt.Errorf("compress: lz4 encode: %w", err)
	}
	if n == 0 || n >= len(data) {
		out := make([]byte, 1+len(data))
		out[0] = lz4TagRaw
		copy(out[1:], data)

		return out, nil
	}

	dst[0] = lz4TagBlock

	return dst[:1+n], nil
}

func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	tag, body := data[0], data[1:]
	switch tag {
	case lz4TagRaw:
		return append([]byte(nil), body...), nil
	case lz4TagBlock:
		// Blocks don't record their decoded size; a chunk buffer decodes
		// to at most maxDecodedChunk, so two attempts cover everything —
		// a cheap pass sized for the common few-KiB chunk, then the
		// bound itself.
		for _, size := range [...]int{len(body) * 8, maxDecodedChunk} {
			if size > maxDecodedChunk {
				size = maxDecodedChunk
			}

			buf := make([]byte, size)
			n, err := lz4.UncompressBlock(body, buf)
			if err == nil {
				return buf[:n], nil
			}
			if size == maxDecodedChunk {
				return nil, fmt.Errorf("compress: lz4 decode: %w", err)
			}
		}

		return nil, fmt.Errorf("compress: lz4 decode: chunk exceeds %d bytes", maxDecodedChunk)
	default:
		return nil, fmt.Errorf("compress: lz4 decode: unknown block tag %#x", tag)
	}
}
