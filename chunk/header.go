// Package chunk implements Chunk: a header plus a codec-backed bit buffer
// holding one series' measurements in monotonic insertion order.
//
// OpenChunk (mutable, accepting Append calls) and SealedChunk (immutable,
// produced by Seal) are deliberately separate types rather than one
// struct with a "sealed" flag: once a chunk seals, ownership transfers
// from its single writer to however many concurrent readers want it, and
// the type system is what keeps a reader from ever calling Append on
// something that's supposed to be read-only.
package chunk

import (
	"github.com/duskdb/duskdb/endian"
	"github.com/duskdb/duskdb/errs"
)

// HeaderSize is the packed, little-endian wire size of Header in bytes:
// id_meas(4) + first_time(8) + last_time(8) + count(4) + size_bytes(4) +
// crc32(4) + flag_bloom(4) + offset_in_page(8) = 44.
const HeaderSize = 44

// Header is the fixed-size chunk header written ahead of every chunk's
// compressed buffer, both standalone and inside a page.
type Header struct {
	IDMeas       uint32
	FirstTime    int64
	LastTime     int64
	Count        uint32
	SizeBytes    uint32
	CRC32        uint32
	FlagBloom    uint32
	OffsetInPage uint64
}

// Bytes serializes h into its packed wire form.
func (h *Header) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	w := endian.NewWriter(buf)

	w.Uint32(h.IDMeas)
	w.Int64(h.FirstTime)
	w.Int64(h.LastTime)
	w.Uint32(h.Count)
	w.Uint32(h.SizeBytes)
	w.Uint32(h.CRC32)
	w.Uint32(h.FlagBloom)
	w.Uint64(h.OffsetInPage)

	return buf
}

// ParseHeader parses a Header from its packed wire form.
func ParseHeader(data []byte) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, errs.ErrInvalidHeaderSize
	}

	r := endian.NewReader(data)

	return Header{
		IDMeas:       r.Uint32(),
		FirstTime:    r.Int64(),
		LastTime:     r.Int64(),
		Count:        r.Uint32(),
		SizeBytes:    r.Uint32(),
		CRC32:        r.Uint32(),
		FlagBloom:    r.Uint32(),
		OffsetInPage: r.Uint64(),
	}, nil
}
