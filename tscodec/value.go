package tscodec

import "math/bits"

// ValueEncoder implements the XOR-with-leading/trailing-zero-run value
// codec (Facebook's Gorilla scheme): each value is XORed against the
// previous one, and the resulting word's leading/trailing zero run is
// reused across consecutive samples unless it shrinks. Built directly on
// a shared bitio.Cursor and structured to compute the exact bit cost of
// the next symbol before writing, so a full chunk can be detected without
// rollback.
type ValueEncoder struct {
	prevValue     uint64
	prevLeading   int
	prevTrailing  int
	prevBlockSize int
	count         int
}

// NewValueEncoder returns a fresh encoder with no prior state.
func NewValueEncoder() *ValueEncoder {
	return &ValueEncoder{}
}

// Reset clears the encoder's state so it can be reused for a new chunk.
func (e *ValueEncoder) Reset() {
	*e = ValueEncoder{}
}

// Count returns the number of values written so far.
func (e *ValueEncoder) Count() int { return e.count }

type xorPlan struct {
	xor         uint64
	unchanged   bool
	reuseBlock  bool
	leading     int
	trailing    int
	blockSize   int
	requiredBit int
}

func (e *ValueEncoder) plan(valBits uint64) xorPlan {
	if e.count == 0 {
		return xorPlan{requiredBit: 64}
	}

	xor := valBits ^ e.prevValue
	if xor == 0 {
		return xorPlan{xor: 0, unchanged: true, requiredBit: 1}
	}

	leading := bits.LeadingZeros64(xor)
	trailing := bits.TrailingZeros64(xor)
	if leading > 31 {
		adjust := leading - 31
		leading = 31
		trailing -= adjust
		if trailing < 0 {
			trailing = 0
		}
	}

	if e.count > 1 && e.prevBlockSize > 0 && leading >= e.prevLeading && trailing >= e.prevTrailing {
		return xorPlan{
			xor: xor, reuseBlock: true,
			leading: e.prevLeading, trailing: e.prevTrailing, blockSize: e.prevBlockSize,
			requiredBit: 1 + 1 + e.prevBlockSize,
		}
	}

	blockSize := 64 - leading - trailing

	return xorPlan{
		xor: xor, leading: leading, trailing: trailing, blockSize: blockSize,
		requiredBit: 1 + 1 + 5 + 6 + blockSize,
	}
}

// RequiredBits returns the number of bits Append(val) would need to write,
// without mutating encoder state.
func (e *ValueEncoder) RequiredBits(val float64) int {
	return e.plan(floatBits(val)).requiredBit
}

// Append attempts to encode val into c. It returns false, without writing
// anything or mutating encoder state, if c doesn't have enough remaining
// bits.
func (e *ValueEncoder) Append(c cursor, val float64) bool {
	valBits := floatBits(val)
	p := e.plan(valBits)
	if !c.HasBits(p.requiredBit) {
		return false
	}

	switch {
	case e.count == 0:
		c.WriteBits(valBits, 64)
	case p.unchanged:
		c.WriteBits(0, 1)
	case p.reuseBlock:
		c.WriteBits(1, 1)
		c.WriteBits(0, 1)
		c.WriteBits(p.xor>>uint(p.trailing), p.blockSize)
	default:
		c.WriteBits(1, 1)
		c.WriteBits(1, 1)
		c.WriteBits(uint64(p.leading), 5)
		c.WriteBits(uint64(p.blockSize-1), 6)
		c.WriteBits(p.xor>>uint(p.trailing), p.blockSize)
		e.prevLeading = p.leading
		e.prevTrailing = p.trailing
		e.prevBlockSize = p.blockSize
	}

	e.prevValue = valBits
	e.count++

	return true
}

// ValueDecoder reverses ValueEncoder.
type ValueDecoder struct {
	prevValue    uint64
	prevLeading  int
	prevTrailing int
	count        int
}

// NewValueDecoder returns a fresh decoder with no prior state.
func NewValueDecoder() *ValueDecoder {
	return &ValueDecoder{}
}

// Reset clears the decoder's state so it can be reused.
func (d *ValueDecoder) Reset() {
	*d = ValueDecoder{}
}

// Next decodes the next value from c.
func (d *ValueDecoder) Next(c cursor) (val float64, ok bool) {
	if d.count == 0 {
		raw, ok := c.ReadBits(64)
		if !ok {
			return 0, false
		}
		d.prevValue = raw
		d.count++

		return floatFromBits(raw), true
	}

	ctrl, ok := c.ReadBits(1)
	if !ok {
		return 0, false
	}
	if ctrl == 0 {
		d.count++

		return floatFromBits(d.prevValue), true
	}

	reuse, ok := c.ReadBits(1)
	if !ok {
		return 0, false
	}

	var leading, blockSize int
	if reuse == 0 {
		leading, blockSize = d.prevLeading, d.prevBlockSizeCache()
	} else {
		l, ok := c.ReadBits(5)
		if !ok {
			return 0, false
		}
		bs, ok := c.ReadBits(6)
		if !ok {
			return 0, false
		}
		leading = int(l)
		blockSize = int(bs) + 1
		d.prevLeading = leading
		d.prevTrailing = 64 - leading - blockSize
	}

	meaningful, ok := c.ReadBits(blockSize)
	if !ok {
		return 0, false
	}

	trailing := 64 - leading - blockSize
	xor := meaningful << uint(trailing)
	valBits := xor ^ d.prevValue
	d.prevValue = valBits
	d.count++

	return floatFromBits(valBits), true
}

// prevBlockSizeCache reconstructs the previous block size from the cached
// leading/trailing pair (set on the last "different block" symbol).
func (d *ValueDecoder) prevBlockSizeCache() int {
	return 64 - d.prevLeading - d.prevTrailing
}
