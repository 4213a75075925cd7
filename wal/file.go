// Package wal implements an append-only write-ahead log: a file of raw
// measurements, any series interleaved, sealed once it reaches a
// configured record cap.
//
// Writes batch into an in-process buffer and flush with an ordered write
// plus File.Sync, so a crash loses at most the unflushed batch rather
// than corrupting the file. Reads mmap the sealed or in-progress file
// and scan it linearly — there's no index: every read that covers the
// WAL tier scans each WAL file the manifest lists, and under a page-backed
// strategy the dropper reads a sealed file once more to convert it into a
// page.
package wal

import (
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/duskdb/duskdb/errs"
	"github.com/duskdb/duskdb/meas"
)

// BatchRecords is the number of records buffered in memory before a flush
// (ordered write + fsync) is forced.
const BatchRecords = 256

// File is one WAL segment. Append is single-writer (the engine serializes
// all ingest into one active File); Scan/ReadAll/MinMaxTime may run
// concurrently with each other and with Append, each opening its own
// mmap snapshot of the durable prefix plus a copy of the still-buffered
// tail, so an append is visible to readers in the same process as soon as
// it returns even though the fsync that makes it crash-durable may not
// have happened yet.
type File struct {
	mu          sync.Mutex
	path        string
	capRecords  int
	f           *os.File
	pendingBuf  []byte
	onDiskCount int
	sealed      bool
}

// Create creates a fresh WAL segment at path with room for capRecords
// records.
func Create(path string, capRecords int) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create %s: %w", path, err)
	}

	return &File{path: path, capRecords: capRecords, f: f}, nil
}

// Open reopens an existing WAL segment at path. A torn tail — a length
// that isn't a whole multiple of RecordSize, left by a crash mid-write —
// is detected and truncated before the file is used.
func Open(path string, capRecords int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}

	size := info.Size()
	if rem := size % RecordSize; rem != 0 {
		size -= rem
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: truncate torn tail %s: %w", path, err)
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: seek %s: %w", path, err)
	}

	count := int(size / RecordSize)

	return &File{
		path:        path,
		capRecords:  capRecords,
		f:           f,
		onDiskCount: count,
		sealed:      count >= capRecords,
	}, nil
}

// Name returns the WAL segment's base file name, as recorded in the
// manifest.
func (w *File) Name() string { return filepath.Base(w.path) }

// Path returns the WAL segment's full path.
func (w *File) Path() string { return w.path }

// Sealed reports whether the file has stopped accepting writes, either
// because it reached its record cap or because Seal was called.
func (w *File) Sealed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.sealed
}

// Count returns the number of records the file holds, durable and still
// buffered alike.
func (w *File) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.onDiskCount + len(w.pendingBuf)/RecordSize
}

// Seal flushes any buffered records and marks the file sealed regardless
// of whether it reached its record cap, making it a drop candidate. Used
// by the engine's Flush under a page-backed strategy to push even a
// partially-filled WAL through the drop pipeline.
func (w *File) Seal() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		return err
	}
	w.sealed = true

	return nil
}

// Append buffers m for write. It returns errs.ErrSealed without touching
// the buffer if the file is already sealed (at its record cap or by
// Seal); the caller
// (engine) is expected to roll to a new WAL file in that case.
func (w *File) Append(m meas.Measurement) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sealed {
		return errs.ErrSealed
	}

	var buf [RecordSize]byte
	encodeRecord(buf[:], m)
	w.pendingBuf = append(w.pendingBuf, buf[:]...)

	pendingRecords := len(w.pendingBuf) / RecordSize
	reachedCap := w.onDiskCount+pendingRecords >= w.capRecords
	if pendingRecords >= BatchRecords || reachedCap {
		if err := w.flushLocked(); err != nil {
			return err
		}
	}
	if reachedCap {
		w.sealed = true
	}

	return nil
}

// Flush forces any buffered records to disk with fsync. A durability
// Flush() from the engine calls this for every open WAL file.
func (w *File) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.flushLocked()
}

func (w *File) flushLocked() error {
	if len(w.pendingBuf) == 0 {
		return nil
	}
	if _, err := w.f.Write(w.pendingBuf); err != nil {
		return fmt.Errorf("wal: write %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("wal: fsync %s: %w", w.path, err)
	}
	w.onDiskCount += len(w.pendingBuf) / RecordSize
	w.pendingBuf = w.pendingBuf[:0]

	return nil
}

// Close flushes and closes the underlying file.
func (w *File) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		return err
	}

	return w.f.Close()
}

// Query filters a WAL scan by series set, inclusive time range, and flag.
// An empty IDs set matches every series; Flag == 0 matches any flag.
type Query struct {
	IDs  map[uint32]struct{}
	Flag uint32
	From int64
	To   int64
}

func (q Query) matches(m meas.Measurement) bool {
	if len(q.IDs) > 0 {
		if _, ok := q.IDs[m.ID]; !ok {
			return false
		}
	}
	if m.Time < q.From || m.Time > q.To {
		return false
	}
	if q.Flag != 0 && m.Flag != q.Flag {
		return false
	}

	return true
}

// snapshot mmaps the durable prefix of the file read-only and returns it
// alongside a copy of the not-yet-fsynced tail and a close function.
func (w *File) snapshot() (durable []byte, tail []byte, closeFn func() error, err error) {
	w.mu.Lock()
	onDisk := w.onDiskCount
	tail = append([]byte(nil), w.pendingBuf...)
	w.mu.Unlock()

	if onDisk == 0 {
		return nil, tail, func() error { return nil }, nil
	}

	m, err := mmap.MapRegion(w.f, onDisk*RecordSize, mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wal: mmap %s: %w", w.path, err)
	}

	return m, tail, func() error { return m.Unmap() }, nil
}

// ReadAll iterates every record in the file, durable or still buffered, in
// append order.
func (w *File) ReadAll() iter.Seq2[meas.Measurement, error] {
	return w.Scan(Query{From: MinTime, To: MaxTime})
}

// Scan iterates the records matching q, in append order.
func (w *File) Scan(q Query) iter.Seq2[meas.Measurement, error] {
	return func(yield func(meas.Measurement, error) bool) {
		durable, tail, closeFn, err := w.snapshot()
		if err != nil {
			yield(meas.Measurement{}, err)
			return
		}
		defer closeFn() //nolint:errcheck // best-effort unmap on read path

		scanOne := func(data []byte) bool {
			for off := 0; off+RecordSize <= len(data); off += RecordSize {
				m := decodeRecord(data[off : off+RecordSize])
				if !q.matches(m) {
					continue
				}
				if !yield(m, nil) {
					return false
				}
			}

			return true
		}

		if !scanOne(durable) {
			return
		}
		scanOne(tail)
	}
}

// MinMaxTime linearly scans the file for series id and returns its
// earliest and latest timestamp.
func (w *File) MinMaxTime(id uint32) (minT, maxT int64, found bool) {
	for m, err := range w.Scan(Query{IDs: map[uint32]struct{}{id: {}}, From: MinTime, To: MaxTime}) {
		if err != nil {
			break
		}
		if !found {
			minT, maxT = m.Time, m.Time
			found = true

			continue
		}
		if m.Time < minT {
			minT = m.Time
		}
		if m.Time > maxT {
			maxT = m.Time
		}
	}

	return minT, maxT, found
}

// MinTime and MaxTime bound the inclusive range ReadAll/MinMaxTime scan
// over: the window [-2^62, 2^62-1].
const (
	MinTime = int64(-1) << 62
	MaxTime = int64(1)<<62 - 1
)
