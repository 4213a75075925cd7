package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/duskdb/duskdb/lockmgr"
	"github.com/duskdb/duskdb/meas"
	"github.com/duskdb/duskdb/notify"
	"github.com/duskdb/duskdb/page"
	"github.com/duskdb/duskdb/threadpool"
	"github.com/duskdb/duskdb/wal"
)

// IntervalCallback receives one matching measurement per call, in
// ascending (id, time) order. Returning false cancels the scan: the
// engine stops delivering further samples and drops the remaining
// already-merged results rather than buffering them for a caller that
// already said it's done.
type IntervalCallback func(meas.Measurement) bool

// Subscription identifies a registered Subscribe callback.
type Subscription = notify.Subscription

// Subscribe registers cb to fire on every future accepted Append matching
// ids (any series if empty) and flag (any flag if 0).
func (e *Engine) Subscribe(ids []uint32, flag uint32, cb func(meas.Measurement)) Subscription {
	return e.notifier.Subscribe(toSet(ids), flag, cb)
}

// Interval streams every stored measurement matching ids (all known ids
// if empty), flag (any flag if 0), whose time falls in the inclusive
// range [from, to]. Results are delivered id-by-id, ascending time within
// each id.
func (e *Engine) Interval(ids []uint32, flag uint32, from, to int64, cb IntervalCallback) error {
	if !e.isOpen() {
		return errNotOpen()
	}

	idSet := toSet(ids)

	samples, err := e.scanTiers(idSet, flag, from, to)
	if err != nil {
		return err
	}

	stepSamples, err := e.scanByStep(idSet, flag, from, to)
	if err != nil {
		return err
	}
	samples = append(samples, stepSamples...)

	for _, m := range dedupeSorted(samples) {
		if !cb(m) {
			break
		}
	}

	return nil
}

// TimePoint returns, for each id in ids (or every id with a qualifying
// sample if ids is empty), the measurement with the greatest time <= tp.
// An id explicitly requested but never observed still appears in the
// result, as {time: tp, flag: NO_DATA}, so callers never need to treat a
// missing map entry as a separate case from an explicit no-data marker.
func (e *Engine) TimePoint(ids []uint32, flag uint32, tp int64) (map[uint32]meas.Measurement, error) {
	if !e.isOpen() {
		return nil, errNotOpen()
	}

	idSet := toSet(ids)

	samples, err := e.scanTiers(idSet, flag, wal.MinTime, tp)
	if err != nil {
		return nil, err
	}

	stepSamples, err := e.scanByStep(idSet, flag, wal.MinTime, tp)
	if err != nil {
		return nil, err
	}
	samples = append(samples, stepSamples...)

	best := pickLatestPerID(samples)

	if len(ids) == 0 {
		return best, nil
	}

	out := make(map[uint32]meas.Measurement, len(ids))
	for _, id := range ids {
		if m, ok := best[id]; ok {
			out[id] = m
			continue
		}
		out[id] = meas.Measurement{ID: id, Time: tp, Flag: meas.NoData}
	}

	return out, nil
}

// CurrentValue returns the most recently appended measurement for each id
// in ids (or every id with a stored sample if ids is empty) matching
// flag. An id with no stored sample is simply absent from the result
// map.
func (e *Engine) CurrentValue(ids []uint32, flag uint32) (map[uint32]meas.Measurement, error) {
	if !e.isOpen() {
		return nil, errNotOpen()
	}

	idSet := toSet(ids)

	samples, err := e.scanTiers(idSet, flag, wal.MinTime, wal.MaxTime)
	if err != nil {
		return nil, err
	}

	stepSamples, err := e.scanByStep(idSet, flag, wal.MinTime, wal.MaxTime)
	if err != nil {
		return nil, err
	}
	samples = append(samples, stepSamples...)

	return pickLatestPerID(samples), nil
}

// MinMaxTime returns the earliest and latest timestamp stored for id
// across every enabled tier.
func (e *Engine) MinMaxTime(id uint32) (from, to int64, found bool, err error) {
	if !e.isOpen() {
		return 0, 0, false, errNotOpen()
	}

	if e.bystepMgr.HasStep(id) {
		minT, maxT, ok := e.bystepMgr.MinMaxTime(id)
		return minT, maxT, ok, nil
	}

	idSet := map[uint32]struct{}{id: {}}
	samples, err := e.scanTiers(idSet, 0, wal.MinTime, wal.MaxTime)
	if err != nil {
		return 0, 0, false, err
	}
	if len(samples) == 0 {
		return 0, 0, false, nil
	}

	minT, maxT := samples[0].m.Time, samples[0].m.Time
	for _, s := range samples[1:] {
		if s.m.Time < minT {
			minT = s.m.Time
		}
		if s.m.Time > maxT {
			maxT = s.m.Time
		}
	}

	return minT, maxT, true, nil
}

// scanTiers fans out a bounded scan across every regular (non-by-step)
// tier the active strategy enables, dispatching one READ-pool task per
// tier and merging their results once every task completes. The shared
// lockmgr guard is held for the whole fan-out, so a read only ever
// observes writes whose Append had already returned before the read
// acquired its locks — never a write still in flight.
func (e *Engine) scanTiers(idSet map[uint32]struct{}, flag uint32, from, to int64) ([]tieredSample, error) {
	useMem := e.table != nil
	usePage := e.settings.Strategy.UsesPage()
	useWAL := e.settings.Strategy.UsesWAL()

	var resources []lockmgr.Resource
	if useMem {
		resources = append(resources, lockmgr.MEM)
	}
	if useWAL {
		resources = append(resources, lockmgr.WAL)
	}
	if usePage {
		resources = append(resources, lockmgr.PAGE)
	}
	if len(resources) == 0 {
		return nil, nil
	}

	g := e.locks.RLock(resources...)
	defer g.Unlock()

	if usePage {
		e.refreshPages()
	}

	var mu sync.Mutex
	var out []tieredSample

	group := e.pools.Read.NewGroup(context.Background())

	if useMem {
		group.Submit(threadpool.READ, func(context.Context) error {
			var local []tieredSample
			for m, err := range e.table.ScanInterval(idSet, flag, from, to) {
				if err != nil {
					return fmt.Errorf("engine: mem scan: %w", err)
				}
				local = append(local, tieredSample{m: m, priority: tierMem})
			}
			mu.Lock()
			out = append(out, local...)
			mu.Unlock()

			return nil
		})
	}

	if useWAL {
		group.Submit(threadpool.READ, func(context.Context) error {
			local, err := e.scanWALTier(idSet, flag, from, to)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, local...)
			mu.Unlock()

			return nil
		})
	}

	if usePage {
		group.Submit(threadpool.READ, func(context.Context) error {
			local, err := e.scanPageTier(idSet, flag, from, to)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, local...)
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// scanWALTier scans every WAL file the manifest still lists — not just
// the active one, since a WAL-only strategy keeps sealed files around
// forever as a read tier (sealed files only get consumed by Dropper
// under a strategy that also uses PAGE).
func (e *Engine) scanWALTier(idSet map[uint32]struct{}, flag uint32, from, to int64) ([]tieredSample, error) {
	q := wal.Query{IDs: idSet, Flag: flag, From: from, To: to}

	var out []tieredSample
	for _, name := range e.mani.WALFiles() {
		if e.activeWAL != nil && name == e.activeWAL.Name() {
			for m, err := range e.activeWAL.Scan(q) {
				if err != nil {
					return nil, fmt.Errorf("engine: wal scan %s: %w", name, err)
				}
				out = append(out, tieredSample{m: m, priority: tierWAL})
			}

			continue
		}

		f, err := wal.Open(filepath.Join(e.root, name), e.settings.WALCap)
		if err != nil {
			return nil, fmt.Errorf("engine: open sealed wal %s: %w", name, err)
		}
		for m, err := range f.Scan(q) {
			if err != nil {
				f.Close() //nolint:errcheck // best-effort close on read-path error
				return nil, fmt.Errorf("engine: wal scan %s: %w", name, err)
			}
			out = append(out, tieredSample{m: m, priority: tierWAL})
		}
		f.Close() //nolint:errcheck // best-effort close, read-only pass
	}

	return out, nil
}

func (e *Engine) scanPageTier(idSet map[uint32]struct{}, flag uint32, from, to int64) ([]tieredSample, error) {
	e.pagesMu.Lock()
	readers := make([]*page.Reader, 0, len(e.pages))
	for _, r := range e.pages {
		readers = append(readers, r)
	}
	e.pagesMu.Unlock()

	var out []tieredSample
	for _, r := range readers {
		for m, err := range r.ScanInterval(idSet, flag, from, to) {
			if err != nil {
				e.logger.Warn("skipping unreadable chunk during page scan")
				continue
			}
			out = append(out, tieredSample{m: m, priority: tierPage})
		}
	}

	return out, nil
}

// scanByStep scans every series with a registered step kind, filtering
// flag at the engine layer since bystep.Manager.ScanInterval only filters
// by id and time.
func (e *Engine) scanByStep(idSet map[uint32]struct{}, flag uint32, from, to int64) ([]tieredSample, error) {
	g := e.locks.RLock(lockmgr.BYSTEP)
	defer g.Unlock()

	byID, err := e.bystepMgr.ScanInterval(idSet, from, to)
	if err != nil {
		return nil, fmt.Errorf("engine: bystep scan: %w", err)
	}

	var out []tieredSample
	for _, ms := range byID {
		for _, m := range ms {
			if flag != 0 && m.Flag != flag && m.Flag != meas.NoData {
				continue
			}
			out = append(out, tieredSample{m: m, priority: tierByStep})
		}
	}

	return out, nil
}

// refreshPages reconciles the open page.Reader registry against the
// manifest's current page list: Dropper and cache-spill writes add pages
// asynchronously, and compaction removes them. The manifest itself is the
// synchronization point (spec's "manifest update is the commit point"),
// so this only ever opens readers for names the manifest still lists and
// closes readers for names it no longer does.
func (e *Engine) refreshPages() {
	want := make(map[string]struct{})
	for _, name := range e.mani.PageFiles() {
		want[name] = struct{}{}
	}

	e.pagesMu.Lock()
	defer e.pagesMu.Unlock()

	for name, r := range e.pages {
		if _, ok := want[name]; !ok {
			r.Close() //nolint:errcheck // best-effort close of a page removed by compaction
			delete(e.pages, name)
		}
	}

	for name := range want {
		if _, ok := e.pages[name]; ok {
			continue
		}

		pagePath := filepath.Join(e.root, name)
		r, err := page.Open(pagePath, idxPathFor(pagePath), e.settings.PageCompression)
		if err != nil {
			e.logger.Warn("failed to open page during refresh, will retry next scan")
			continue
		}
		e.pages[name] = r
	}
}
