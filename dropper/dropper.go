// Package dropper implements the background worker that converts sealed
// WAL files into pages and, on request, compacts overlapping pages within
// a time window. A manifest update is the commit point for both
// operations, so a crash mid-drop or mid-compaction just leaves stale
// files on disk for the next run to ignore or clean up — the manifest
// never reflects a half-finished conversion.
//
// Work is fed through a buffered channel drained by one dedicated
// goroutine, the same rotate-queue-plus-single-writer shape used
// anywhere a background worker owns a resource no other goroutine may
// mutate concurrently.
package dropper

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/duskdb/duskdb/errs"
	"github.com/duskdb/duskdb/lockmgr"
	"github.com/duskdb/duskdb/manifest"
	"github.com/duskdb/duskdb/meas"
	"github.com/duskdb/duskdb/page"
	"github.com/duskdb/duskdb/settings"
	"github.com/duskdb/duskdb/wal"
)

// Worker drains sealed WAL files into pages and merges pages on compaction
// requests. Exactly one Worker goroutine runs per Engine, so it never
// needs to coordinate with itself over which page it is currently writing.
type Worker struct {
	root     string
	mani     *manifest.Manifest
	locks    *lockmgr.Manager
	settings settings.Settings
	logger   *zap.Logger

	queue   chan string
	wg      sync.WaitGroup
	pending sync.WaitGroup
	seq     atomic.Int64
}

// New returns a Worker that will persist pages under root, updating mani
// and respecting locks' acquisition order. Call Start to begin draining.
func New(root string, mani *manifest.Manifest, locks *lockmgr.Manager, st settings.Settings, logger *zap.Logger) *Worker {
	w := &Worker{
		root:     root,
		mani:     mani,
		locks:    locks,
		settings: st,
		logger:   logger,
		queue:    make(chan string, 64),
	}
	w.seq.Store(time.Now().UnixNano())

	return w
}

// Start launches the worker's drain loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Enqueue schedules a sealed WAL file (by manifest name) for conversion
// into a page.
func (w *Worker) Enqueue(walName string) {
	w.pending.Add(1)
	w.queue <- walName
}

// Drain blocks until every WAL file enqueued so far has been converted
// and its manifest swap committed. New Enqueue calls made while Drain is
// waiting extend the wait.
func (w *Worker) Drain() {
	w.pending.Wait()
}

// Stop drains any remaining queued work and waits for the loop goroutine
// to exit. The caller must not Enqueue after calling Stop.
func (w *Worker) Stop() {
	close(w.queue)
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()

	for name := range w.queue {
		w.dropWithRetry(name)
		w.pending.Done()
	}
}

func (w *Worker) dropWithRetry(walName string) {
	backoff := w.settings.DropBackoffInitial
	for {
		if err := w.dropOnce(walName); err != nil {
			w.logger.Warn("wal drop failed, retrying",
				zap.String("wal", walName), zap.Duration("backoff", backoff),
				zap.Error(fmt.Errorf("%w: %w", errs.ErrDropFailed, err)))
			time.Sleep(backoff)

			backoff *= 2
			if backoff > w.settings.DropBackoffMax {
				backoff = w.settings.DropBackoffMax
			}

			continue
		}

		return
	}
}

func (w *Worker) nextPageNames() (pageName, idxName string) {
	seq := w.seq.Add(1)
	base := fmt.Sprintf("%016x", seq)

	return base + ".page", base + ".pagei"
}

func idxPathFor(pagePath string) string {
	return strings.TrimSuffix(pagePath, ".page") + ".pagei"
}

// dropOnce performs one WAL-to-page conversion: acquire WRITE on PAGE,
// read and sort the WAL's measurements, write one page, commit the
// manifest swap, then delete the WAL file.
func (w *Worker) dropOnce(walName string) error {
	g := w.locks.Lock(lockmgr.PAGE)
	defer g.Unlock()

	walPath := filepath.Join(w.root, walName)

	f, err := wal.Open(walPath, w.settings.WALCap)
	if err != nil {
		return fmt.Errorf("dropper: open %s: %w", walPath, err)
	}
	defer f.Close()

	var ms []meas.Measurement
	for m, err := range f.ReadAll() {
		if err != nil {
			return fmt.Errorf("dropper: read %s: %w", walPath, err)
		}
		ms = append(ms, m)
	}
	page.SortByIDTime(ms)

	pageName, idxName := w.nextPageNames()
	if err := writePage(w.root, pageName, idxName, ms, w.settings); err != nil {
		return err
	}

	if err := w.mani.CommitDrop(walName, pageName); err != nil {
		return fmt.Errorf("dropper: commit drop %s->%s: %w", walName, pageName, err)
	}

	if err := os.Remove(walPath); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("failed to remove dropped wal file", zap.String("path", walPath), zap.Error(err))
	}

	return nil
}

func writePage(root, pageName, idxName string, ms []meas.Measurement, st settings.Settings) error {
	pw, err := page.NewWriter(filepath.Join(root, pageName), filepath.Join(root, idxName), st.ChunkBytes, st.PageCompression)
	if err != nil {
		return fmt.Errorf("dropper: create page writer: %w", err)
	}
	if err := pw.WritePage(ms); err != nil {
		return fmt.Errorf("dropper: write page: %w", err)
	}

	return pw.Close()
}

// CompactByTime merges every page whose [min_time, max_time] overlaps
// [from, to] into a single new page, keeping the latest value at equal
// (id, time). It is idempotent under crash: the manifest swap in
// CommitCompaction is the sole commit point.
func (w *Worker) CompactByTime(from, to int64) error {
	g := w.locks.Lock(lockmgr.PAGE)
	defer g.Unlock()

	var oldNames []string
	var all []meas.Measurement

	for _, name := range w.mani.PageFiles() {
		pagePath := filepath.Join(w.root, name)
		idxPath := idxPathFor(pagePath)

		r, err := page.Open(pagePath, idxPath, w.settings.PageCompression)
		if err != nil {
			return fmt.Errorf("dropper: open page %s: %w", name, err)
		}
		if !r.Overlaps(from, to) {
			r.Close() //nolint:errcheck // best-effort unmap, read-only
			continue
		}

		// The old page is deleted once the merge commits, so every sample it
		// holds is carried over, not only those inside [from, to].
		for m, err := range r.ScanInterval(nil, 0, wal.MinTime, wal.MaxTime) {
			if err != nil {
				r.Close() //nolint:errcheck // best-effort unmap, read-only
				return fmt.Errorf("dropper: scan page %s: %w", name, err)
			}
			all = append(all, m)
		}
		r.Close() //nolint:errcheck // best-effort unmap, read-only
		oldNames = append(oldNames, name)
	}

	if len(oldNames) == 0 {
		return nil
	}

	merged := dedupeLatestAtEqualTime(all)

	pageName, idxName := w.nextPageNames()
	if err := writePage(w.root, pageName, idxName, merged, w.settings); err != nil {
		return err
	}

	if err := w.mani.CommitCompaction(oldNames, pageName); err != nil {
		return fmt.Errorf("dropper: commit compaction: %w", err)
	}

	for _, name := range oldNames {
		pagePath := filepath.Join(w.root, name)
		if err := os.Remove(pagePath); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove compacted page file", zap.String("path", pagePath), zap.Error(err))
		}
		if err := os.Remove(idxPathFor(pagePath)); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove compacted index file", zap.String("path", idxPathFor(pagePath)), zap.Error(err))
		}
	}

	return nil
}

// dedupeLatestAtEqualTime sorts ms by (id, time) and, for duplicate
// (id, time) pairs, keeps the one that appeared last — since merged input
// is built by iterating pages in the manifest's append order (oldest
// page first), the last occurrence is the most recently written value.
func dedupeLatestAtEqualTime(ms []meas.Measurement) []meas.Measurement {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].ID != ms[j].ID {
			return ms[i].ID < ms[j].ID
		}

		return ms[i].Time < ms[j].Time
	})

	out := ms[:0]
	for _, m := range ms {
		if n := len(out); n > 0 && out[n-1].ID == m.ID && out[n-1].Time == m.Time {
			out[n-1] = m
			continue
		}
		out = append(out, m)
	}

	return out
}
