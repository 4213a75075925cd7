package compress

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// s2Codec trades zstd's ratio for raw speed. Chunks are written once and
// decoded many times, so the encoder uses EncodeBetter: the extra encode
// cost is paid once per chunk while every read benefits from the smaller
// page.
type s2Codec struct{}

var _ Codec = s2Codec{}

func (s2Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return s2.EncodeBetter(make([]byte, 0, s2.MaxEncodedLen(len(data))), data), nil
}

func (s2Codec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	// The block header states its decoded size up front; validate it
	// against the chunk bound before allocating anything.
	n, err := s2.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("compress: s2 decode: %w", err)
	}
	if n > maxDecodedChunk {
		return nil, fmt.Errorf("compress: s2 decode: chunk claims %d bytes", n)
	}

	out, err := s2.Decode(make([]byte, n), data)
	if err != nil {
		return nil, fmt.Errorf("compress: s2 decode: %w", err)
	}

	return out, nil
}
