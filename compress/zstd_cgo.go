//go:build gozstd

package compress

import (
	"fmt"

	"github.com/valyala/gozstd"
)

// gozstdLevel matches the pure-Go build's SpeedDefault so page sizes stay
// comparable whichever implementation is built in.
const gozstdLevel = 3

func (zstdCodec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return gozstd.CompressLevel(nil, data, gozstdLevel), nil
}

func (zstdCodec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	out, err := gozstd.Decompress(nil, data)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd decode: %w", err)
	}
	if len(out) > maxDecodedChunk {
		return nil, fmt.Errorf("compress: zstd decode: chunk claims %d bytes", len(out))
	}

	return out, nil
}
