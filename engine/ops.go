package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/duskdb/duskdb/lockmgr"
)

// Flush forces every durable tier to disk: the active WAL's buffered
// records, the memory table's sealed chunks (and, under MemoryAndPage,
// its spill to pages), and the by-step store's live tracks. A successful
// return means every Append that returned before this call is durable in
// at least one tier. It does not wait for Dropper's background
// WAL-to-page conversion to finish; use WaitAllAsyncs for that.
func (e *Engine) Flush() error {
	if e.settings.Strategy.UsesWAL() {
		g := e.locks.Lock(lockmgr.WAL)
		err := e.flushWALLocked()
		g.Unlock()
		if err != nil {
			return fmt.Errorf("engine: flush wal: %w", err)
		}
	}

	if e.table != nil {
		g := e.locks.Lock(lockmgr.MEM)
		err := e.table.Flush()
		g.Unlock()
		if err != nil {
			return fmt.Errorf("engine: flush memtable: %w", err)
		}
	}

	if e.settings.Strategy.UsesPage() {
		g := e.locks.Lock(lockmgr.PAGE)
		e.refreshPages()
		g.Unlock()
	}

	if e.bystepMgr != nil {
		g := e.locks.Lock(lockmgr.BYSTEP)
		err := e.bystepMgr.Flush()
		g.Unlock()
		if err != nil {
			return fmt.Errorf("engine: flush bystep: %w", err)
		}
	}

	return nil
}

// flushWALLocked forces the active WAL's buffered records to disk. Under
// a page-backed strategy it goes further: the active WAL, partial or not,
// is sealed and handed to the Dropper, so a Flush + WaitAllAsyncs pair
// leaves every accepted append in the page tier with no WAL file holding
// data. A fresh WAL is only created lazily on the next append. The
// caller holds lockmgr.WAL.
func (e *Engine) flushWALLocked() error {
	if e.activeWAL == nil {
		return nil
	}

	if !e.settings.Strategy.UsesPage() || e.activeWAL.Count() == 0 {
		return e.activeWAL.Flush()
	}

	if err := e.activeWAL.Seal(); err != nil {
		return err
	}
	name := e.activeWAL.Name()
	e.activeWAL.Close() //nolint:errcheck // already fsynced by Seal
	e.activeWAL = nil
	e.drop.Enqueue(name)

	return nil
}

// WaitAllAsyncs blocks until every background WAL-to-page drop queued so
// far has committed, then reconciles the open page reader set against the
// manifest. After it returns, data from every previously sealed WAL is
// readable from the page tier.
func (e *Engine) WaitAllAsyncs() error {
	if !e.isOpen() {
		return errNotOpen()
	}
	if e.drop == nil {
		return nil
	}

	e.drop.Drain()

	g := e.locks.Lock(lockmgr.PAGE)
	e.refreshPages()
	g.Unlock()

	return nil
}

// CompactByTime merges every page whose time range overlaps [from, to]
// into a single page. It only applies under a page-backed strategy;
// strategies without a page tier return nil without doing anything.
func (e *Engine) CompactByTime(from, to int64) error {
	if !e.isOpen() {
		return errNotOpen()
	}
	if e.drop == nil {
		return nil
	}

	if err := e.drop.CompactByTime(from, to); err != nil {
		return fmt.Errorf("engine: compact: %w", err)
	}

	g := e.locks.Lock(lockmgr.PAGE)
	e.refreshPages()
	g.Unlock()

	return nil
}

// Fsck reconciles the manifest against what's actually present on disk:
// every *.wal and matched *.page/*.pagei pair under the root becomes the
// new authoritative manifest list via Rewrite, discarding manifest
// entries for files that no longer exist and picking up orphaned files a
// prior crash left behind mid-write. Both locks are held for the whole
// sweep since it replaces the engine's entire page reader set.
func (e *Engine) Fsck() error {
	if !e.isOpen() {
		return errNotOpen()
	}

	g := e.locks.Lock(lockmgr.WAL, lockmgr.PAGE)
	defer g.Unlock()

	entries, err := os.ReadDir(e.root)
	if err != nil {
		return fmt.Errorf("engine: fsck readdir: %w", err)
	}

	var wals, pages []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}

		name := ent.Name()
		switch {
		case strings.HasSuffix(name, ".wal"):
			wals = append(wals, name)
		case strings.HasSuffix(name, ".page"):
			idx := strings.TrimSuffix(name, ".page") + ".pagei"
			if _, err := os.Stat(filepath.Join(e.root, idx)); err == nil {
				pages = append(pages, name)
			}
		}
	}
	sort.Strings(wals)
	sort.Strings(pages)

	if e.activeWAL != nil {
		active := e.activeWAL.Name()
		if _, found := indexOf(wals, active); !found {
			wals = append(wals, active)
			sort.Strings(wals)
		}
	}

	if err := e.mani.Rewrite(wals, pages); err != nil {
		return fmt.Errorf("engine: fsck rewrite manifest: %w", err)
	}

	e.refreshPages()

	return nil
}

func indexOf(names []string, target string) (int, bool) {
	for i, n := range names {
		if n == target {
			return i, true
		}
	}

	return -1, false
}
