package engine

import (
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/duskdb/duskdb/bystep"
	"github.com/duskdb/duskdb/chunk"
	"github.com/duskdb/duskdb/errs"
	"github.com/duskdb/duskdb/lockmgr"
	"github.com/duskdb/duskdb/meas"
	"github.com/duskdb/duskdb/page"
)

// Append accepts one measurement. A series id of 0 is reserved and always
// counted as ignored rather than written. A series with a registered
// by-step kind (SetSteps) is routed exclusively through the by-step grid
// instead of the regular MEM/WAL/PAGE tiers, so Interval/TimePoint never
// have to dedupe the same sample surfacing out of two unrelated places.
func (e *Engine) Append(m meas.Measurement) (AppendResult, error) {
	if !e.isOpen() {
		return AppendResult{}, errNotOpen()
	}
	if m.ID == 0 {
		return AppendResult{Ignored: 1}, nil
	}

	if e.bystepMgr.HasStep(m.ID) {
		if err := e.bystepMgr.Append(m); err != nil {
			if errors.Is(err, errs.ErrUnknownSeries) {
				e.logger.Warn("append: unknown series for bystep", zap.Uint32("id", m.ID))
				return AppendResult{Ignored: 1}, nil
			}

			return AppendResult{}, fmt.Errorf("engine: bystep append: %w", err)
		}

		e.notifier.Publish(m)

		return AppendResult{Written: 1}, nil
	}

	var err error
	switch {
	case e.settings.Strategy.UsesMemory():
		err = e.table.Append(m)
	case e.settings.Strategy.UsesWAL():
		err = e.appendWAL(m)
	default:
		return AppendResult{Ignored: 1}, nil
	}
	if err != nil {
		return AppendResult{}, fmt.Errorf("engine: append: %w", err)
	}

	e.notifier.Publish(m)

	return AppendResult{Written: 1}, nil
}

// AppendBatch accepts a sequence of measurements. It stops at the first
// fatal error (an IOError from the active WAL) — that's the only failure
// an in-flight append can raise that isn't just "this one sample was
// rejected" — and returns the partial AppendResult accumulated so far.
func (e *Engine) AppendBatch(ms iter.Seq[meas.Measurement]) (AppendResult, error) {
	var total AppendResult
	for m := range ms {
		r, err := e.Append(m)
		total.Written += r.Written
		total.Ignored += r.Ignored
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// SetSteps registers (or updates) the grid step kind for each series in
// kinds. A series not present here is unaffected and continues through
// the regular MEM/WAL/PAGE tiers.
func (e *Engine) SetSteps(kinds map[uint32]bystep.StepKind) error {
	if !e.isOpen() {
		return errNotOpen()
	}

	e.bystepMgr.SetSteps(kinds)

	return nil
}

// appendWAL writes m into the active WAL file, rolling to a freshly
// created one (and, under settings.WALToPage, enqueueing the sealed file
// for Dropper conversion) when the active file reports full. The ingest
// path serializes into a single WAL, so the whole roll sequence runs
// under an exclusive lockmgr.WAL hold — no reader ever observes a WAL
// file mid-swap.
func (e *Engine) appendWAL(m meas.Measurement) error {
	g := e.locks.Lock(lockmgr.WAL)
	defer g.Unlock()

	// Flush under a page-backed strategy seals and surrenders the active
	// WAL; the next append recreates one here.
	if e.activeWAL == nil {
		if err := e.rollWAL(); err != nil {
			return err
		}
	}

	if err := e.activeWAL.Append(m); err != nil {
		if !errors.Is(err, errs.ErrSealed) {
			return fmt.Errorf("engine: wal append: %w", err)
		}

		sealedName := e.activeWAL.Name()
		e.activeWAL.Close() //nolint:errcheck // already flushed by the append that sealed it

		if e.settings.Strategy.UsesPage() {
			e.drop.Enqueue(sealedName)
		}
		if err := e.rollWAL(); err != nil {
			return err
		}
		if err := e.activeWAL.Append(m); err != nil {
			return fmt.Errorf("engine: wal append after roll: %w", err)
		}
	}

	return nil
}

// spillToPage persists a batch of chunks evicted from the memory tier
// (settings.MemoryAndPage) directly into a new page file, giving cache
// mode's eviction a durable home on disk instead of just dropping the
// oldest chunks. It deliberately does not take lockmgr.PAGE: this
// runs synchronously from inside memtable.Table's own lock while
// appending or flushing, and lockmgr's fixed acquisition order (WAL <
// PAGE < MEM < BYSTEP) would be inverted by acquiring PAGE while already
// holding MEM. Safety instead comes from this path being additive-only
// (it only ever adds a new page, never deletes one, so a concurrent
// reader's already-open page.Readers are unaffected) and from a disjoint
// filename prefix ("c" + sequence) so it can never collide with a
// Dropper-generated page name.
func (e *Engine) spillToPage(id uint32, chunks []*chunk.SealedChunk) error {
	var ms []meas.Measurement
	for _, c := range chunks {
		for m, err := range c.All() {
			if err != nil {
				return fmt.Errorf("engine: spill decode series %d: %w", id, err)
			}
			ms = append(ms, m)
		}
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Time < ms[j].Time })

	seq := e.pageSeq.Add(1)
	pageName := fmt.Sprintf("c%016x.page", seq)
	idxName := fmt.Sprintf("c%016x.pagei", seq)

	pw, err := page.NewWriter(filepath.Join(e.root, pageName), filepath.Join(e.root, idxName), e.settings.ChunkBytes, e.settings.PageCompression)
	if err != nil {
		return fmt.Errorf("engine: spill create page writer: %w", err)
	}
	if err := pw.WriteSeries(id, ms); err != nil {
		return fmt.Errorf("engine: spill write series %d: %w", id, err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("engine: spill close page: %w", err)
	}

	if err := e.mani.AddPage(pageName); err != nil {
		return fmt.Errorf("engine: spill register page: %w", err)
	}

	return nil
}
