package chunk

import (
	"hash/crc32"
	"iter"

	"github.com/cespare/xxhash/v2"

	"github.com/duskdb/duskdb/bitio"
	"github.com/duskdb/duskdb/errs"
	"github.com/duskdb/duskdb/internal/pool"
	"github.com/duskdb/duskdb/meas"
	"github.com/duskdb/duskdb/tscodec"
)

// OpenChunk is a chunk still accepting Append calls. It owns an
// exclusively-buffered bitio.Cursor and the three tscodec encoder states
// for one series.
//
// The ownership-transfer-at-seal split means a reader never observes an
// OpenChunk: MEM holds OpenChunks, WAL/PAGE only ever hold SealedChunks.
// Its scratch buffer comes from the package-level chunk buffer pool; Seal
// copies its contents into the chunk's own, right-sized allocation and
// Release hands the buffer back to the pool, so the hot append path (one new OpenChunk per series per
// rollover) doesn't allocate a ChunkBytes-sized buffer from scratch every
// time.
type OpenChunk struct {
	idMeas uint32
	bb     *pool.Buffer
	buf    []byte
	cur    *bitio.Cursor

	tsEnc   *tscodec.TimestampEncoder
	valEnc  *tscodec.ValueEncoder
	flagEnc *tscodec.FlagEncoder

	firstTime int64
	lastTime  int64
	count     uint32
	flagBloom uint32
}

// NewOpenChunk allocates a fresh chunk for series idMeas backed by a buffer
// of capacityBytes bytes (typically settings.ChunkBytes).
func NewOpenChunk(idMeas uint32, capacityBytes int) *OpenChunk {
	bb := pool.GetChunkBuffer()
	buf := bb.Grab(capacityBytes)

	return &OpenChunk{
		idMeas:  idMeas,
		bb:      bb,
		buf:     buf,
		cur:     bitio.NewCursor(buf),
		tsEnc:   tscodec.NewTimestampEncoder(),
		valEnc:  tscodec.NewValueEncoder(),
		flagEnc: tscodec.NewFlagEncoder(),
	}
}

// IDMeas returns the series this chunk holds.
func (c *OpenChunk) IDMeas() uint32 { return c.idMeas }

// Count returns the number of measurements appended so far.
func (c *OpenChunk) Count() uint32 { return c.count }

// FirstTime returns the timestamp of the first appended measurement, or 0
// if the chunk is empty.
func (c *OpenChunk) FirstTime() int64 { return c.firstTime }

// LastTime returns the timestamp of the most recently appended
// measurement, or 0 if the chunk is empty.
func (c *OpenChunk) LastTime() int64 { return c.lastTime }

// Append attempts to add m to the chunk. It returns false if the chunk
// doesn't have room for m; in that case no codec state or cursor position
// changes, so the caller seals the current chunk and opens a new one for
// m without needing to retry or roll anything back.
//
// All three codecs (time/value/flag) share one cursor; combined required
// bits are computed up front so a partial write across codecs, which
// would corrupt the bit stream, can never happen.
func (c *OpenChunk) Append(m meas.Measurement) bool {
	if m.ID != c.idMeas {
		return false
	}

	needed := c.tsEnc.RequiredBits(m.Time) + c.valEnc.RequiredBits(m.Value) + c.flagEnc.RequiredBits(m.Flag)
	if !c.cur.HasBits(needed) {
		return false
	}

	if !c.tsEnc.Append(c.cur, m.Time) {
		return false
	}
	if !c.valEnc.Append(c.cur, m.Value) {
		return false
	}
	if !c.flagEnc.Append(c.cur, m.Flag) {
		return false
	}

	if c.count == 0 {
		c.firstTime = m.Time
	}
	c.lastTime = m.Time
	c.count++
	c.flagBloom = addFlagBloom(c.flagBloom, m.Flag)

	return true
}

// Seal finalizes the chunk into its immutable, readable form and computes
// its header, packing the buffer down to only the bytes actually used.
func (c *OpenChunk) Seal(offsetInPage uint64) *SealedChunk {
	usedBytes := (c.cur.BitPos() + 7) / 8
	packed := make([]byte, usedBytes)
	copy(packed, c.buf[:usedBytes])

	h := Header{
		IDMeas:       c.idMeas,
		FirstTime:    c.firstTime,
		LastTime:     c.lastTime,
		Count:        c.count,
		SizeBytes:    uint32(usedBytes), //nolint:gosec // chunk sizes fit in uint32 by construction (ChunkBytes bound)
		FlagBloom:    c.flagBloom,
		OffsetInPage: offsetInPage,
	}
	h.CRC32 = crc32.ChecksumIEEE(packed)

	return &SealedChunk{header: h, buf: packed}
}

// Release returns the chunk's scratch buffer to the pool it came from.
// Callers must only call this once an OpenChunk is truly discarded (e.g.
// right after a terminal Seal that rolls the chunk over), never on a chunk
// still being appended to or sealed repeatedly for a read-only snapshot —
// the buffer is reused by the pool as soon as this returns.
func (c *OpenChunk) Release() {
	if c.bb == nil {
		return
	}
	pool.PutChunkBuffer(c.bb)
	c.bb, c.buf = nil, nil
}

// addFlagBloom folds flag into a 32-bit bloom filter using two positions
// derived from a single xxhash64 sum (Kirsch-Mitzenmacher double hashing),
// the same technique bloomfilter.Filter uses for the page-level id-bloom,
// scaled down to the header's single u32 field.
func addFlagBloom(bloom uint32, flag uint32) uint32 {
	var b [4]byte
	b[0] = byte(flag)
	b[1] = byte(flag >> 8)
	b[2] = byte(flag >> 16)
	b[3] = byte(flag >> 24)

	h := xxhash.Sum64(b[:])
	h1 := uint32(h)
	h2 := uint32(h >> 32)

	bloom |= 1 << (h1 % 32)
	bloom |= 1 << ((h1 + h2) % 32)

	return bloom
}

// FlagBloomMayContain reports whether a chunk whose header carries bloom
// might contain a measurement with the given flag.
func FlagBloomMayContain(bloom uint32, flag uint32) bool {
	var b [4]byte
	b[0] = byte(flag)
	b[1] = byte(flag >> 8)
	b[2] = byte(flag >> 16)
	b[3] = byte(flag >> 24)

	h := xxhash.Sum64(b[:])
	h1 := uint32(h)
	h2 := uint32(h >> 32)

	return bloom&(1<<(h1%32)) != 0 && bloom&(1<<((h1+h2)%32)) != 0
}

// SealedChunk is an immutable, readable chunk. Once sealed it never
// mutates; WAL and PAGE storage only ever hold SealedChunks.
type SealedChunk struct {
	header Header
	buf    []byte
}

// Header returns the chunk's header.
func (s *SealedChunk) Header() Header { return s.header }

// Bytes returns the chunk's packed encoded buffer (not including the
// header), as written to a page or WAL record.
func (s *SealedChunk) Bytes() []byte { return s.buf }

// FromParts reconstructs a SealedChunk from a previously-serialized
// header and buffer, e.g. when reading a chunk back from a page file.
func FromParts(h Header, buf []byte) *SealedChunk {
	return &SealedChunk{header: h, buf: buf}
}

// CheckChecksum recomputes the buffer's CRC32 and compares it against the
// header's recorded value.
func (s *SealedChunk) CheckChecksum() bool {
	return crc32.ChecksumIEEE(s.buf) == s.header.CRC32
}

// All returns an iterator over every measurement in the chunk, in
// insertion order. The iterator stops early, yielding errs.ErrTornRecord,
// if fewer than header.Count samples can be decoded from buf (a
// truncated or corrupted chunk).
func (s *SealedChunk) All() iter.Seq2[meas.Measurement, error] {
	return func(yield func(meas.Measurement, error) bool) {
		cur := bitio.NewCursor(s.buf)
		tsDec := tscodec.NewTimestampDecoder()
		valDec := tscodec.NewValueDecoder()
		flagDec := tscodec.NewFlagDecoder()

		for i := uint32(0); i < s.header.Count; i++ {
			ts, ok := tsDec.Next(cur)
			if !ok {
				yield(meas.Measurement{}, errs.ErrTornRecord)
				return
			}
			val, ok := valDec.Next(cur)
			if !ok {
				yield(meas.Measurement{}, errs.ErrTornRecord)
				return
			}
			flag, ok := flagDec.Next(cur)
			if !ok {
				yield(meas.Measurement{}, errs.ErrTornRecord)
				return
			}

			m := meas.Measurement{ID: s.header.IDMeas, Time: ts, Value: val, Flag: flag}
			if !yield(m, nil) {
				return
			}
		}
	}
}
