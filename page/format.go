// Package page implements Page and PageIndex: an immutable, sorted-by-
// series file of chunks with a sibling index carrying per-chunk min/max
// time and a per-chunk flag-bloom, plus a whole-page id-bloom for fast
// page-level skip.
//
// The page file holds the data chunks followed by a fixed trailer carrying
// the page's aggregate bounds and chunk count; the index file holds one
// record per chunk followed by its own fixed trailer — the same segment-file-plus-trailer shape used anywhere an immutable
// blob needs a cheap way to validate it was written completely before
// any reader trusts it.
package page

import (
	"github.com/duskdb/duskdb/bloomfilter"
	"github.com/duskdb/duskdb/endian"
	"github.com/duskdb/duskdb/errs"
)

// IndexRecordSize is the packed wire size of one IndexRecord:
// chunk_id(8) + meas_id(4) + min_time(8) + max_time(8) + flag_bloom(4) +
// offset_in_page(8) = 40 bytes.
const IndexRecordSize = 40

// IndexRecord locates and summarizes one chunk within a page.
type IndexRecord struct {
	ChunkID      uint64
	MeasID       uint32
	MinTime      int64
	MaxTime      int64
	FlagBloom    uint32
	OffsetInPage uint64
}

// Bytes serializes r into its packed wire form.
func (r IndexRecord) Bytes() []byte {
	buf := make([]byte, IndexRecordSize)
	w := endian.NewWriter(buf)

	w.Uint64(r.ChunkID)
	w.Uint32(r.MeasID)
	w.Int64(r.MinTime)
	w.Int64(r.MaxTime)
	w.Uint32(r.FlagBloom)
	w.Uint64(r.OffsetInPage)

	return buf
}

// ParseIndexRecord parses an IndexRecord from its packed wire form.
func ParseIndexRecord(data []byte) (IndexRecord, error) {
	if len(data) != IndexRecordSize {
		return IndexRecord{}, errs.ErrInvalidHeaderSize
	}

	r := endian.NewReader(data)

	return IndexRecord{
		ChunkID:      r.Uint64(),
		MeasID:       r.Uint32(),
		MinTime:      r.Int64(),
		MaxTime:      r.Int64(),
		FlagBloom:    r.Uint32(),
		OffsetInPage: r.Uint64(),
	}, nil
}

// Overlaps reports whether the chunk's time range intersects [from, to],
// treating both interval endpoints as inclusive.
func (r IndexRecord) Overlaps(from, to int64) bool {
	return r.MinTime <= to && r.MaxTime >= from
}

// IndexTrailerSize is the packed wire size of IndexTrailer:
// count(4) + min_time(8) + max_time(8) + id_bloom(256) = 276 bytes.
const IndexTrailerSize = 4 + 8 + 8 + bloomfilter.PageIDBloomBytes

// IndexTrailer is written at the end of the index file.
type IndexTrailer struct {
	Count   uint32
	MinTime int64
	MaxTime int64
	IDBloom []byte // PageIDBloomBytes long
}

// Bytes serializes t into its packed wire form.
func (t IndexTrailer) Bytes() []byte {
	buf := make([]byte, IndexTrailerSize)
	w := endian.NewWriter(buf)

	w.Uint32(t.Count)
	w.Int64(t.MinTime)
	w.Int64(t.MaxTime)
	w.Bytes(t.IDBloom, bloomfilter.PageIDBloomBytes)

	return buf
}

// ParseIndexTrailer parses an IndexTrailer from its packed wire form.
func ParseIndexTrailer(data []byte) (IndexTrailer, error) {
	if len(data) != IndexTrailerSize {
		return IndexTrailer{}, errs.ErrInvalidHeaderSize
	}

	r := endian.NewReader(data)

	return IndexTrailer{
		Count:   r.Uint32(),
		MinTime: r.Int64(),
		MaxTime: r.Int64(),
		IDBloom: r.Bytes(bloomfilter.PageIDBloomBytes),
	}, nil
}

// PageTrailerSize is the packed wire size of PageTrailer:
// filesize(8) + chunk_count(4) + min_time(8) + max_time(8) +
// max_chunk_id(8) = 36 bytes.
const PageTrailerSize = 36

// PageTrailer is written at the end of the page file.
type PageTrailer struct {
	FileSize   uint64
	ChunkCount uint32
	MinTime    int64
	MaxTime    int64
	MaxChunkID uint64
}

// Bytes serializes t into its packed wire form.
func (t PageTrailer) Bytes() []byte {
	buf := make([]byte, PageTrailerSize)
	w := endian.NewWriter(buf)

	w.Uint64(t.FileSize)
	w.Uint32(t.ChunkCount)
	w.Int64(t.MinTime)
	w.Int64(t.MaxTime)
	w.Uint64(t.MaxChunkID)

	return buf
}

// ParsePageTrailer parses a PageTrailer from its packed wire form.
func ParsePageTrailer(data []byte) (PageTrailer, error) {
	if len(data) != PageTrailerSize {
		return PageTrailer{}, errs.ErrInvalidHeaderSize
	}

	r := endian.NewReader(data)

	return PageTrailer{
		FileSize:   r.Uint64(),
		ChunkCount: r.Uint32(),
		MinTime:    r.Int64(),
		MaxTime:    r.Int64(),
		MaxChunkID: r.Uint64(),
	}, nil
}
