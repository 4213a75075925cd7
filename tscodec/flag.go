package tscodec

// FlagEncoder implements the run-length-with-literal-escape sideband flag
// codec: the first flag is a 32-bit literal; thereafter one bit selects
// "same as previous" (0) or "32-bit literal follows" (1). Flags are
// sparse and usually repeat runs of the same value, so this degenerates
// to one bit per sample in the common case.
type FlagEncoder struct {
	prevFlag uint32
	count    int
}

// NewFlagEncoder returns a fresh encoder with no prior state.
func NewFlagEncoder() *FlagEncoder {
	return &FlagEncoder{}
}

// Reset clears the encoder's state so it can be reused for a new chunk.
func (e *FlagEncoder) Reset() {
	e.prevFlag = 0
	e.count = 0
}

// Count returns the number of flags written so far.
func (e *FlagEncoder) Count() int { return e.count }

func (e *FlagEncoder) requiredBits(flag uint32) int {
	if e.count == 0 {
		return 32
	}
	if flag == e.prevFlag {
		return 1
	}

	return 1 + 32
}

// RequiredBits returns the number of bits Append(flag) would need to
// write, without mutating encoder state.
func (e *FlagEncoder) RequiredBits(flag uint32) int {
	return e.requiredBits(flag)
}

// Append attempts to encode flag into c. It returns false, without writing
// anything or mutating encoder state, if c doesn't have enough remaining
// bits.
func (e *FlagEncoder) Append(c cursor, flag uint32) bool {
	needed := e.requiredBits(flag)
	if !c.HasBits(needed) {
		return false
	}

	switch {
	case e.count == 0:
		c.WriteBits(uint64(flag), 32)
	case flag == e.prevFlag:
		c.WriteBits(0, 1)
	default:
		c.WriteBits(1, 1)
		c.WriteBits(uint64(flag), 32)
	}

	e.prevFlag = flag
	e.count++

	return true
}

// FlagDecoder reverses FlagEncoder.
type FlagDecoder struct {
	prevFlag uint32
	count    int
}

// NewFlagDecoder returns a fresh decoder with no prior state.
func NewFlagDecoder() *FlagDecoder {
	return &FlagDecoder{}
}

// Reset clears the decoder's state so it can be reused.
func (d *FlagDecoder) Reset() {
	d.prevFlag = 0
	d.count = 0
}

// Next decodes the next flag from c.
func (d *FlagDecoder) Next(c cursor) (flag uint32, ok bool) {
	if d.count == 0 {
		raw, ok := c.ReadBits(32)
		if !ok {
			return 0, false
		}
		d.prevFlag = uint32(raw)
		d.count++

		return d.prevFlag, true
	}

	ctrl, ok := c.ReadBits(1)
	if !ok {
		return 0, false
	}
	if ctrl == 0 {
		d.count++

		return d.prevFlag, true
	}

	raw, ok := c.ReadBits(32)
	if !ok {
		return 0, false
	}
	d.prevFlag = uint32(raw)
	d.count++

	return d.prevFlag, true
}
