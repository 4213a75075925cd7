package page

import (
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/duskdb/duskdb/bloomfilter"
	"github.com/duskdb/duskdb/chunk"
	"github.com/duskdb/duskdb/compress"
	"github.com/duskdb/duskdb/errs"
	"github.com/duskdb/duskdb/format"
	"github.com/duskdb/duskdb/meas"
)

// Reader opens an immutable page and its sibling index, narrowing a query
// in three stages before paying for a chunk decode: page-level skip via
// the id-bloom and min/max time, then per-chunk skip via the index
// record's own min/max time and flag-bloom, and only then the decode
// itself.
type Reader struct {
	pageFile *os.File
	pageMmap mmap.MMap
	codec    compress.Codec

	trailer    PageTrailer
	idxTrailer IndexTrailer
	idBloom    *bloomfilter.Filter
	records    []IndexRecord
}

// Open mmaps pagePath read-only and loads idxPath's index records and
// trailer into memory. compression must match the CompressionType the page
// was written with.
func Open(pagePath, idxPath string, compression format.CompressionType) (*Reader, error) {
	pf, err := os.Open(pagePath)
	if err != nil {
		return nil, fmt.Errorf("page: open %s: %w", pagePath, err)
	}

	info, err := pf.Stat()
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("page: stat %s: %w", pagePath, err)
	}
	size := info.Size()
	if size < PageTrailerSize {
		pf.Close()
		return nil, fmt.Errorf("page: %s: %w", pagePath, errs.ErrInvalidHeaderSize)
	}

	m, err := mmap.MapRegion(pf, int(size), mmap.RDONLY, 0, 0)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("page: mmap %s: %w", pagePath, err)
	}

	trailer, err := ParsePageTrailer(m[size-PageTrailerSize:])
	if err != nil {
		m.Unmap() //nolint:errcheck // best-effort unmap on error path
		pf.Close()
		return nil, err
	}

	records, idxTrailer, err := readIndex(idxPath)
	if err != nil {
		m.Unmap() //nolint:errcheck // best-effort unmap on error path
		pf.Close()
		return nil, err
	}

	codec, err := compress.GetCodec(compression)
	if err != nil {
		m.Unmap() //nolint:errcheck // best-effort unmap on error path
		pf.Close()
		return nil, err
	}

	return &Reader{
		pageFile:   pf,
		pageMmap:   m,
		codec:      codec,
		trailer:    trailer,
		idxTrailer: idxTrailer,
		idBloom:    bloomfilter.LoadPageIDFilter(idxTrailer.IDBloom),
		records:    records,
	}, nil
}

func readIndex(idxPath string) ([]IndexRecord, IndexTrailer, error) {
	f, err := os.Open(idxPath)
	if err != nil {
		return nil, IndexTrailer{}, fmt.Errorf("page: open %s: %w", idxPath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, IndexTrailer{}, fmt.Errorf("page: read %s: %w", idxPath, err)
	}
	if len(data) < IndexTrailerSize {
		return nil, IndexTrailer{}, fmt.Errorf("page: %s: %w", idxPath, errs.ErrInvalidHeaderSize)
	}

	trailer, err := ParseIndexTrailer(data[len(data)-IndexTrailerSize:])
	if err != nil {
		return nil, IndexTrailer{}, err
	}

	body := data[:len(data)-IndexTrailerSize]
	if len(body)%IndexRecordSize != 0 {
		return nil, IndexTrailer{}, fmt.Errorf("page: %s: %w", idxPath, errs.ErrInvalidHeaderSize)
	}

	records := make([]IndexRecord, 0, len(body)/IndexRecordSize)
	for off := 0; off+IndexRecordSize <= len(body); off += IndexRecordSize {
		rec, err := ParseIndexRecord(body[off : off+IndexRecordSize])
		if err != nil {
			return nil, IndexTrailer{}, err
		}
		records = append(records, rec)
	}

	return records, trailer, nil
}

// Close unmaps the page file and closes its handle; the index file is
// already closed once Open has read it.
func (r *Reader) Close() error {
	if err := r.pageMmap.Unmap(); err != nil {
		return fmt.Errorf("page: unmap: %w", err)
	}

	return r.pageFile.Close()
}

// MinMaxTime returns the page's overall time range.
func (r *Reader) MinMaxTime() (minT, maxT int64) {
	return r.trailer.MinTime, r.trailer.MaxTime
}

// ChunkCount returns the number of chunks stored in the page.
func (r *Reader) ChunkCount() int { return len(r.records) }

// Overlaps reports whether the page's time range intersects [from, to].
func (r *Reader) Overlaps(from, to int64) bool {
	return r.trailer.MinTime <= to && r.trailer.MaxTime >= from
}

// MayContainID reports whether the page's id-bloom might contain id. A
// false result is authoritative: the page holds no such series.
func (r *Reader) MayContainID(id uint32) bool {
	return r.idBloom.MayContainUint32(id)
}

func (r *Reader) loadChunk(rec IndexRecord) (*chunk.SealedChunk, error) {
	if rec.OffsetInPage+chunk.HeaderSize > uint64(len(r.pageMmap)) {
		return nil, errs.ErrInvalidHeaderSize
	}
	hdrBytes := r.pageMmap[rec.OffsetInPage : rec.OffsetInPage+chunk.HeaderSize]
	h, err := chunk.ParseHeader(hdrBytes)
	if err != nil {
		return nil, err
	}

	start := rec.OffsetInPage + chunk.HeaderSize
	end := start + uint64(h.SizeBytes)
	if end > uint64(len(r.pageMmap)) {
		return nil, errs.ErrInvalidHeaderSize
	}

	raw, err := r.codec.Decompress(r.pageMmap[start:end])
	if err != nil {
		return nil, fmt.Errorf("page: decompress chunk %d: %w", rec.ChunkID, err)
	}

	sealed := chunk.FromParts(h, raw)
	if !sealed.CheckChecksum() {
		return nil, errs.ErrBadChecksum
	}

	return sealed, nil
}

// ScanInterval iterates every stored measurement whose series id is in ids
// (all series if ids is empty), whose time falls in [from, to], and whose
// flag equals flag (any flag if flag is zero). Index records are
// bloom/time-filtered before their chunk is even decoded.
func (r *Reader) ScanInterval(ids map[uint32]struct{}, flag uint32, from, to int64) iter.Seq2[meas.Measurement, error] {
	return func(yield func(meas.Measurement, error) bool) {
		if !r.Overlaps(from, to) {
			return
		}
		if len(ids) > 0 {
			any := false
			for id := range ids {
				if r.MayContainID(id) {
					any = true
					break
				}
			}
			if !any {
				return
			}
		}

		for _, rec := range r.records {
			if len(ids) > 0 {
				if _, ok := ids[rec.MeasID]; !ok {
					continue
				}
			}
			if !rec.Overlaps(from, to) {
				continue
			}
			if flag != 0 && !chunk.FlagBloomMayContain(rec.FlagBloom, flag) {
				continue
			}

			sealed, err := r.loadChunk(rec)
			if err != nil {
				if !yield(meas.Measurement{}, err) {
					return
				}
				continue
			}

			for m, err := range sealed.All() {
				if err != nil {
					if !yield(meas.Measurement{}, err) {
						return
					}
					break
				}
				if m.Time < from || m.Time > to {
					continue
				}
				if flag != 0 && m.Flag != flag {
					continue
				}
				if !yield(m, nil) {
					return
				}
			}
		}
	}
}

// TimePoint returns, for each requested series id, the stored measurement
// with the greatest time <= tp, if any. ids empty means every series the
// page's index knows about.
func (r *Reader) TimePoint(ids map[uint32]struct{}, tp int64) (map[uint32]meas.Measurement, error) {
	best := make(map[uint32]meas.Measurement)

	for _, rec := range r.records {
		if len(ids) > 0 {
			if _, ok := ids[rec.MeasID]; !ok {
				continue
			}
		}
		if rec.MinTime > tp {
			continue
		}

		sealed, err := r.loadChunk(rec)
		if err != nil {
			return nil, err
		}

		for m, err := range sealed.All() {
			if err != nil {
				return nil, err
			}
			if m.Time > tp {
				break
			}
			if cur, ok := best[m.ID]; !ok || m.Time > cur.Time {
				best[m.ID] = m
			}
		}
	}

	return best, nil
}
