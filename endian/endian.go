// Package endian packs and unpacks the little-endian fixed-size records
// duskdb writes to disk: chunk headers, page index records and trailers,
// raw WAL records, and by-step grid slots. Every one of those formats is
// a flat run of unsigned, signed, and float fields with no padding, so
// instead of a general byte-order abstraction this package provides a
// pair of sequential field cursors — each call consumes the field's wire
// width and advances, keeping the field order in the code identical to
// the field order on disk.
package endian

import (
	"encoding/binary"
	"math"
)

// Writer packs fields into a caller-owned buffer front to back. The
// buffer must be at least as long as the record being written; Writer
// never grows it.
type Writer struct {
	buf []byte
	off int
}

// NewWriter returns a Writer positioned at the start of buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int { return w.off }

// Uint32 writes a 4-byte unsigned field.
func (w *Writer) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

// Uint64 writes an 8-byte unsigned field.
func (w *Writer) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

// Int64 writes an 8-byte signed field (timestamps) as its two's-complement
// bit pattern.
func (w *Writer) Int64(v int64) {
	w.Uint64(uint64(v))
}

// Float64 writes an 8-byte IEEE 754 field (measurement values) as its raw
// bit pattern.
func (w *Writer) Float64(v float64) {
	w.Uint64(math.Float64bits(v))
}

// Bytes writes a fixed-width raw field (bloom filter bitmaps), padding
// with zeroes if p is shorter than width.
func (w *Writer) Bytes(p []byte, width int) {
	n := copy(w.buf[w.off:w.off+width], p)
	clear(w.buf[w.off+n : w.off+width])
	w.off += width
}

// Reader unpacks fields from a record front to back, mirroring the
// Writer call sequence that produced it.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Uint32 reads a 4-byte unsigned field.
func (r *Reader) Uint32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4

	return v
}

// Uint64 reads an 8-byte unsigned field.
func (r *Reader) Uint64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8

	return v
}

// Int64 reads an 8-byte signed field.
func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

// Float64 reads an 8-byte IEEE 754 field.
func (r *Reader) Float64() float64 {
	return math.Float64frombits(r.Uint64())
}

// Bytes reads a fixed-width raw field into a fresh slice.
func (r *Reader) Bytes(width int) []byte {
	out := append([]byte(nil), r.buf[r.off:r.off+width]...)
	r.off += width

	return out
}
