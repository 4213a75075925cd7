package page

import (
	"fmt"
	"os"
	"sort"

	"github.com/duskdb/duskdb/bloomfilter"
	"github.com/duskdb/duskdb/chunk"
	"github.com/duskdb/duskdb/compress"
	"github.com/duskdb/duskdb/format"
	"github.com/duskdb/duskdb/internal/pool"
	"github.com/duskdb/duskdb/meas"
)

// SortByIDTime sorts ms in place by (id, time), the order WritePage
// requires so each series' chunks come out contiguous and internally
// monotonic.
func SortByIDTime(ms []meas.Measurement) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].ID != ms[j].ID {
			return ms[i].ID < ms[j].ID
		}

		return ms[i].Time < ms[j].Time
	})
}

// Writer assembles one immutable page file and its sibling index file
// from a sorted measurement stream.
type Writer struct {
	pageFile *os.File
	idxFile  *os.File
	codec    compress.Codec

	chunkBytes int
	offset     uint64
	nextChunk  uint64

	records []IndexRecord
	idBloom *bloomfilter.Filter
	minTime int64
	maxTime int64
	first   bool

	// assembly holds one chunk's header+compressed body so writeChunk can
	// issue a single os.File.Write per chunk instead of two.
	assembly *pool.Buffer
}

// NewWriter creates pagePath and indexPath (truncating any existing
// content) and returns a Writer ready to accept series via WriteSeries.
func NewWriter(pagePath, indexPath string, chunkBytes int, compression format.CompressionType) (*Writer, error) {
	pf, err := os.OpenFile(pagePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("page: create %s: %w", pagePath, err)
	}

	idxf, err := os.OpenFile(indexPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("page: create %s: %w", indexPath, err)
	}

	codec, err := compress.GetCodec(compression)
	if err != nil {
		pf.Close()
		idxf.Close()
		return nil, err
	}

	return &Writer{
		pageFile:   pf,
		idxFile:    idxf,
		codec:      codec,
		chunkBytes: chunkBytes,
		idBloom:    bloomfilter.NewPageIDFilter(),
		first:      true,
		assembly:   pool.GetPageBuffer(),
	}, nil
}

// WriteSeries packs ms — a single series' measurements in ascending time
// order — into one or more chunks of at most chunkBytes each, writing each
// sealed chunk and its index record as it's produced.
func (w *Writer) WriteSeries(id uint32, ms []meas.Measurement) error {
	for len(ms) > 0 {
		oc := chunk.NewOpenChunk(id, w.chunkBytes)

		n := 0
		for n < len(ms) {
			if !oc.Append(ms[n]) {
				break
			}
			n++
		}
		if n == 0 {
			return fmt.Errorf("page: measurement for series %d too large for a %d-byte chunk", id, w.chunkBytes)
		}

		sealed := oc.Seal(w.offset)
		oc.Release()
		if err := w.writeChunk(sealed); err != nil {
			return err
		}

		ms = ms[n:]
	}

	return nil
}

// WritePage is a convenience that partitions a combined (id, time)-sorted
// stream by series and writes each partition via WriteSeries.
func (w *Writer) WritePage(ms []meas.Measurement) error {
	i := 0
	for i < len(ms) {
		id := ms[i].ID
		j := i + 1
		for j < len(ms) && ms[j].ID == id {
			j++
		}
		if err := w.WriteSeries(id, ms[i:j]); err != nil {
			return err
		}
		i = j
	}

	return nil
}

func (w *Writer) writeChunk(s *chunk.SealedChunk) error {
	raw := s.Bytes()
	compressed, err := w.codec.Compress(raw)
	if err != nil {
		return fmt.Errorf("page: compress chunk: %w", err)
	}

	h := s.Header()
	h.OffsetInPage = w.offset
	h.SizeBytes = uint32(len(compressed)) //nolint:gosec // bounded by chunkBytes plus codec overhead

	hdrBytes := h.Bytes()
	w.assembly.Reset()
	w.assembly.Append(hdrBytes)
	w.assembly.Append(compressed)
	if _, err := w.assembly.WriteTo(w.pageFile); err != nil {
		return fmt.Errorf("page: write chunk: %w", err)
	}
	w.offset += uint64(len(hdrBytes) + len(compressed))

	rec := IndexRecord{
		ChunkID:      w.nextChunk,
		MeasID:       h.IDMeas,
		MinTime:      h.FirstTime,
		MaxTime:      h.LastTime,
		FlagBloom:    h.FlagBloom,
		OffsetInPage: h.OffsetInPage,
	}
	w.nextChunk++
	w.records = append(w.records, rec)

	if _, err := w.idxFile.Write(rec.Bytes()); err != nil {
		return fmt.Errorf("page: write index record: %w", err)
	}

	w.idBloom.AddUint32(h.IDMeas)
	if w.first {
		w.minTime, w.maxTime = h.FirstTime, h.LastTime
		w.first = false
	} else {
		if h.FirstTime < w.minTime {
			w.minTime = h.FirstTime
		}
		if h.LastTime > w.maxTime {
			w.maxTime = h.LastTime
		}
	}

	return nil
}

// Close writes the page and index trailers and closes both files. It must
// be called exactly once, after every series has been written.
func (w *Writer) Close() error {
	if w.assembly != nil {
		pool.PutPageBuffer(w.assembly)
		w.assembly = nil
	}

	pageTrailer := PageTrailer{
		FileSize:   w.offset,
		ChunkCount: uint32(len(w.records)), //nolint:gosec // chunk counts fit in uint32 by construction
		MinTime:    w.minTime,
		MaxTime:    w.maxTime,
		MaxChunkID: w.nextChunk,
	}
	if _, err := w.pageFile.Write(pageTrailer.Bytes()); err != nil {
		return fmt.Errorf("page: write page trailer: %w", err)
	}
	if err := w.pageFile.Sync(); err != nil {
		return fmt.Errorf("page: fsync page file: %w", err)
	}
	if err := w.pageFile.Close(); err != nil {
		return fmt.Errorf("page: close page file: %w", err)
	}

	idxTrailer := IndexTrailer{
		Count:   uint32(len(w.records)), //nolint:gosec // index record counts fit in uint32 by construction
		MinTime: w.minTime,
		MaxTime: w.maxTime,
		IDBloom: w.idBloom.Bytes(),
	}
	if _, err := w.idxFile.Write(idxTrailer.Bytes()); err != nil {
		return fmt.Errorf("page: write index trailer: %w", err)
	}
	if err := w.idxFile.Sync(); err != nil {
		return fmt.Errorf("page: fsync index file: %w", err)
	}

	return w.idxFile.Close()
}
