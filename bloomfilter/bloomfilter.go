// Package bloomfilter provides the fixed-size bloom filters a page needs:
// a whole-page id-bloom stored in the index trailer (256 bytes, 2048
// bits) and a per-chunk flag-bloom stored in the index record. Fixed
// sizing matters here — these filters live inline in on-disk structs with
// no length prefix, so they can't grow with the data they describe the
// way a general-purpose bloom filter library would size itself.
//
// The underlying bitset is github.com/bits-and-blooms/bitset, with double
// hashing (Kirsch-Mitzenmacher) derived from a single
// github.com/cespare/xxhash/v2 sum to get k independent bit positions
// without k separate hash computations.
package bloomfilter

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// PageIDBloomBytes is the fixed wire size of the whole-page id-bloom
// carried in the index trailer.
const PageIDBloomBytes = 256

// PageIDBloomBits is PageIDBloomBytes in bits.
const PageIDBloomBits = PageIDBloomBytes * 8

// defaultK is the number of hash positions derived per inserted key. Four
// positions over 2048 bits keeps the false-positive rate low for the
// few-hundred-series-per-page case this format targets.
const defaultK = 4

// Filter is a fixed-size bloom filter over m bits, addressed by k
// positions derived from a single xxhash64 sum via double hashing.
type Filter struct {
	bits *bitset.BitSet
	m    uint
	k    uint
}

// NewPageIDFilter returns a Filter sized for a page's id-bloom.
func NewPageIDFilter() *Filter {
	return New(PageIDBloomBits, defaultK)
}

// New returns an empty filter over m bits using k hash positions per key.
func New(m uint, k uint) *Filter {
	return &Filter{bits: bitset.New(m), m: m, k: k}
}

func (f *Filter) positions(key uint64) []uint {
	h := xxhash.Sum64(uint64ToBytes(key))
	h1 := uint32(h)
	h2 := uint32(h >> 32)

	pos := make([]uint, f.k)
	for i := uint(0); i < f.k; i++ {
		combined := h1 + i*h2
		pos[i] = uint(combined) % f.m
	}

	return pos
}

func uint64ToBytes(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)

	return b[:]
}

// Add inserts key into the filter.
func (f *Filter) Add(key uint64) {
	for _, p := range f.positions(key) {
		f.bits.Set(p)
	}
}

// AddUint32 is a convenience wrapper for series ids, which are uint32.
func (f *Filter) AddUint32(key uint32) {
	f.Add(uint64(key))
}

// MayContain reports whether key might have been added. A false result is
// authoritative: the key was definitely never added.
func (f *Filter) MayContain(key uint64) bool {
	for _, p := range f.positions(key) {
		if !f.bits.Test(p) {
			return false
		}
	}

	return true
}

// MayContainUint32 is the uint32 counterpart of MayContain.
func (f *Filter) MayContainUint32(key uint32) bool {
	return f.MayContain(uint64(key))
}

// Bytes serializes the filter's bitset to a plain dense bitmap: each word
// of f.bits.Bytes() packed little-endian, padded to a whole number of
// bytes. This is the form stored in the page index trailer.
func (f *Filter) Bytes() []byte {
	words := f.bits.Bytes()
	out := make([]byte, len(words)*8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(out[i*8:], w)
	}

	return out
}

// LoadFilter reconstructs a Filter from bytes previously produced by
// Bytes(), with the given m/k parameters (which must match the filter that
// produced data).
func LoadFilter(data []byte, m uint, k uint) *Filter {
	nWords := (m + 63) / 64
	words := make([]uint64, nWords)
	for i := range words {
		if (i+1)*8 <= len(data) {
			words[i] = binary.LittleEndian.Uint64(data[i*8:])
		}
	}

	return &Filter{bits: bitset.From(words), m: m, k: k}
}

// LoadPageIDFilter reconstructs a page id-bloom from its 256-byte wire form.
func LoadPageIDFilter(data []byte) *Filter {
	return LoadFilter(data, PageIDBloomBits, defaultK)
}
