// Package tscodec implements the three columnar codecs a Chunk packs into
// one shared bitio.Cursor: delta-of-delta timestamps, XOR-compressed
// values, and run-length-encoded flags.
//
// All three share one shape: compute the exact bit cost of the next
// symbol, check it against the cursor's remaining space, and only then
// write — never write speculatively and unwind on failure. That's what
// lets a Chunk detect "full" before committing any one codec's state
// while the other two still had room.
package tscodec

// TimestampEncoder implements delta-of-delta timestamp encoding: the
// first timestamp is stored raw (64 bits); the delta of each following
// timestamp from its delta-of-delta baseline is bucketed into one of four
// prefix+width buckets, or a single bit if the delta-of-delta is zero.
type TimestampEncoder struct {
	prevTS    int64
	prevDelta int64
	count     int
}

// NewTimestampEncoder returns a fresh encoder with no prior state.
func NewTimestampEncoder() *TimestampEncoder {
	return &TimestampEncoder{}
}

// Reset clears the encoder's state so it can be reused for a new chunk.
func (e *TimestampEncoder) Reset() {
	e.prevTS = 0
	e.prevDelta = 0
	e.count = 0
}

// Count returns the number of timestamps written so far.
func (e *TimestampEncoder) Count() int { return e.count }

const (
	bucket7  = 63
	bucket9  = 255
	bucket12 = 2047
)

// requiredBits returns the number of bits Append would need to write ts,
// without mutating any state.
func (e *TimestampEncoder) requiredBits(ts int64) int {
	if e.count == 0 {
		return 64
	}

	delta := ts - e.prevTS
	d := delta - e.prevDelta
	switch {
	case d == 0:
		return 1
	case d >= -bucket7 && d <= bucket7:
		return 2 + 7
	case d >= -bucket9 && d <= bucket9:
		return 3 + 9
	case d >= -bucket12 && d <= bucket12:
		return 4 + 12
	default:
		return 4 + 32
	}
}

// RequiredBits returns the number of bits Append(ts) would need to write,
// without mutating encoder state. Callers combining several codecs over
// one shared cursor (chunk.OpenChunk.Append) use this to reserve space
// atomically before committing any of them.
func (e *TimestampEncoder) RequiredBits(ts int64) int {
	return e.requiredBits(ts)
}

// cursor is the minimal interface TimestampEncoder/Decoder need from
// bitio.Cursor, kept narrow so this package doesn't import bitio's full
// surface into its public API signatures.
type cursor interface {
	HasBits(n int) bool
	WriteBits(v uint64, n int) bool
	ReadBits(n int) (uint64, bool)
}

// Append attempts to encode ts into c. It returns false, without writing
// anything or mutating encoder state, if c doesn't have enough remaining
// bits.
func (e *TimestampEncoder) Append(c cursor, ts int64) bool {
	needed := e.requiredBits(ts)
	if !c.HasBits(needed) {
		return false
	}

	if e.count == 0 {
		c.WriteBits(uint64(ts), 64) //nolint:gosec // raw bit-pattern store, sign irrelevant
		e.prevTS = ts
		e.count++

		return true
	}

	delta := ts - e.prevTS
	d := delta - e.prevDelta

	switch {
	case d == 0:
		c.WriteBits(0, 1)
	case d >= -bucket7 && d <= bucket7:
		c.WriteBits(0b10, 2)
		c.WriteBits(signedBits(d, 7), 7)
	case d >= -bucket9 && d <= bucket9:
		c.WriteBits(0b110, 3)
		c.WriteBits(signedBits(d, 9), 9)
	case d >= -bucket12 && d <= bucket12:
		c.WriteBits(0b1110, 4)
		c.WriteBits(signedBits(d, 12), 12)
	default:
		c.WriteBits(0b1111, 4)
		c.WriteBits(signedBits(d, 32), 32)
	}

	e.prevDelta = delta
	e.prevTS = ts
	e.count++

	return true
}

// signedBits packs the low w bits of the two's-complement representation of
// v into a uint64.
func signedBits(v int64, w int) uint64 {
	return uint64(v) & (uint64(1)<<uint(w) - 1)
}

// signExtend interprets the low w bits of v as a two's-complement signed
// integer of width w and sign-extends it to int64.
func signExtend(v uint64, w int) int64 {
	shift := uint(64 - w)
	return int64(v<<shift) >> shift
}

// TimestampDecoder reverses TimestampEncoder.
type TimestampDecoder struct {
	prevTS    int64
	prevDelta int64
	count     int
}

// NewTimestampDecoder returns a fresh decoder with no prior state.
func NewTimestampDecoder() *TimestampDecoder {
	return &TimestampDecoder{}
}

// Reset clears the decoder's state so it can be reused.
func (d *TimestampDecoder) Reset() {
	d.prevTS = 0
	d.prevDelta = 0
	d.count = 0
}

// Next decodes the next timestamp from c. ok is false if c ran out of bits
// before a full symbol could be read.
func (d *TimestampDecoder) Next(c cursor) (ts int64, ok bool) {
	if d.count == 0 {
		raw, ok := c.ReadBits(64)
		if !ok {
			return 0, false
		}
		d.prevTS = int64(raw) //nolint:gosec // raw bit-pattern restore
		d.count++

		return d.prevTS, true
	}

	b0, ok := c.ReadBits(1)
	if !ok {
		return 0, false
	}

	var dd int64
	switch {
	case b0 == 0:
		dd = 0
	default:
		b1, ok := c.ReadBits(1)
		if !ok {
			return 0, false
		}
		switch {
		case b1 == 0:
			raw, ok := c.ReadBits(7)
			if !ok {
				return 0, false
			}
			dd = signExtend(raw, 7)
		default:
			b2, ok := c.ReadBits(1)
			if !ok {
				return 0, false
			}
			switch {
			case b2 == 0:
				raw, ok := c.ReadBits(9)
				if !ok {
					return 0, false
				}
				dd = signExtend(raw, 9)
			default:
				b3, ok := c.ReadBits(1)
				if !ok {
					return 0, false
				}
				if b3 == 0 {
					raw, ok := c.ReadBits(12)
					if !ok {
						return 0, false
					}
					dd = signExtend(raw, 12)
				} else {
					raw, ok := c.ReadBits(32)
					if !ok {
						return 0, false
					}
					dd = signExtend(raw, 32)
				}
			}
		}
	}

	delta := d.prevDelta + dd
	ts = d.prevTS + delta
	d.prevDelta = delta
	d.prevTS = ts
	d.count++

	return ts, true
}
