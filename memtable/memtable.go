// Package memtable implements the hot, in-memory tier: exactly one open
// (not-full) chunk per series plus that series' already-sealed chunks,
// evicted by oldest-max_time fraction once the table's byte budget is
// exceeded.
//
// Every series keeps one encoder accumulating samples until it reports
// full; sealing hands the producer's exclusive write access over to
// read-only sharing, and a fresh encoder takes its place so ingest never
// blocks waiting for the old one to drain.
package memtable

import (
	"fmt"
	"iter"
	"math"
	"sort"
	"sync"

	"github.com/duskdb/duskdb/chunk"
	"github.com/duskdb/duskdb/meas"
)

// SpillFunc persists chunks evicted from the table, e.g. into a page, when
// the table is used as a read-through cache (settings.MemoryAndPage). A
// nil SpillFunc means evicted chunks are simply dropped (settings.Memory).
type SpillFunc func(id uint32, sealed []*chunk.SealedChunk) error

type sealedEntry struct {
	id      uint32
	chunk   *chunk.SealedChunk
	durable bool
}

// Table is the in-memory per-series chunk store.
type Table struct {
	mu sync.RWMutex

	chunkBytes    int
	memoryLimit   int64
	evictFraction float64
	spill         SpillFunc

	open        map[uint32]*chunk.OpenChunk
	sealedByID  map[uint32][]*chunk.SealedChunk
	sealedOrder []sealedEntry
	usedBytes   int64
}

// New returns an empty Table. spill may be nil (pure MEMORY strategy).
func New(chunkBytes int, memoryLimit int64, evictFraction float64, spill SpillFunc) *Table {
	return &Table{
		chunkBytes:    chunkBytes,
		memoryLimit:   memoryLimit,
		evictFraction: evictFraction,
		spill:         spill,
		open:          make(map[uint32]*chunk.OpenChunk),
		sealedByID:    make(map[uint32][]*chunk.SealedChunk),
	}
}

// Append adds m to its series' open chunk, rolling to a fresh chunk (and
// sealing the full one) when needed. An eviction sweep runs afterward if
// the table's byte budget has been exceeded.
func (t *Table) Append(m meas.Measurement) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	oc, ok := t.open[m.ID]
	if !ok {
		oc = chunk.NewOpenChunk(m.ID, t.chunkBytes)
		t.open[m.ID] = oc
	}

	if !oc.Append(m) {
		t.sealLocked(m.ID, oc.Seal(0))
		oc.Release()

		oc = chunk.NewOpenChunk(m.ID, t.chunkBytes)
		t.open[m.ID] = oc
		if !oc.Append(m) {
			return fmt.Errorf("memtable: measurement for series %d too large for a %d-byte chunk", m.ID, t.chunkBytes)
		}
	}

	if t.usedBytes > t.memoryLimit {
		t.evictLocked()
	}

	return nil
}

func (t *Table) sealLocked(id uint32, s *chunk.SealedChunk) {
	t.sealedByID[id] = append(t.sealedByID[id], s)
	t.sealedOrder = append(t.sealedOrder, sealedEntry{id: id, chunk: s})
	t.usedBytes += int64(len(s.Bytes()))
}

// evictLocked sweeps the oldest-by-max_time fraction of sealed chunks out
// of the table, spilling them via t.spill if configured.
func (t *Table) evictLocked() {
	if len(t.sealedOrder) == 0 {
		return
	}

	sort.Slice(t.sealedOrder, func(i, j int) bool {
		return t.sealedOrder[i].chunk.Header().LastTime < t.sealedOrder[j].chunk.Header().LastTime
	})

	n := int(math.Ceil(float64(len(t.sealedOrder)) * t.evictFraction))
	if n < 1 {
		n = 1
	}
	if n > len(t.sealedOrder) {
		n = len(t.sealedOrder)
	}

	victims := t.sealedOrder[:n]
	t.sealedOrder = t.sealedOrder[n:]

	bySeries := make(map[uint32][]*chunk.SealedChunk)
	for _, v := range victims {
		t.usedBytes -= int64(len(v.chunk.Bytes()))
		t.sealedByID[v.id] = removeChunk(t.sealedByID[v.id], v.chunk)
		if !v.durable {
			bySeries[v.id] = append(bySeries[v.id], v.chunk)
		}
	}

	if t.spill != nil {
		for id, chunks := range bySeries {
			sort.Slice(chunks, func(i, j int) bool {
				return chunks[i].Header().FirstTime < chunks[j].Header().FirstTime
			})
			if err := t.spill(id, chunks); err != nil {
				// Keep the chunks resident so a later eviction or Flush
				// retries the spill instead of losing them.
				t.sealedByID[id] = append(append([]*chunk.SealedChunk(nil), chunks...), t.sealedByID[id]...)
				for _, c := range chunks {
					t.sealedOrder = append(t.sealedOrder, sealedEntry{id: id, chunk: c})
					t.usedBytes += int64(len(c.Bytes()))
				}
			}
		}
	}
}

func removeChunk(chunks []*chunk.SealedChunk, victim *chunk.SealedChunk) []*chunk.SealedChunk {
	out := chunks[:0]
	for _, c := range chunks {
		if c != victim {
			out = append(out, c)
		}
	}

	return out
}

// Flush seals every series' open chunk and spills every sealed chunk that
// no earlier Flush has spilled (the newly sealed ones included) through
// the table's SpillFunc, regardless of the memory budget. This is what gives
// settings.MemoryAndPage's Flush() a durability guarantee: after it
// returns, every accepted append is readable from a page even though the
// in-memory chunks themselves are retained as a read cache. A nil
// SpillFunc (pure settings.Memory) makes this a no-op beyond sealing.
func (t *Table) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, oc := range t.open {
		if oc.Count() == 0 {
			continue
		}
		t.sealLocked(id, oc.Seal(0))
		oc.Release()
		t.open[id] = chunk.NewOpenChunk(id, t.chunkBytes)
	}

	if t.spill == nil {
		return nil
	}

	pending := make(map[uint32][]*chunk.SealedChunk)
	for i, e := range t.sealedOrder {
		if e.durable {
			continue
		}
		pending[e.id] = append(pending[e.id], e.chunk)
		t.sealedOrder[i].durable = true
	}

	for id, chunks := range pending {
		sort.Slice(chunks, func(i, j int) bool {
			return chunks[i].Header().FirstTime < chunks[j].Header().FirstTime
		})
		if err := t.spill(id, chunks); err != nil {
			return fmt.Errorf("memtable: flush spill series %d: %w", id, err)
		}
	}

	return nil
}

// UsedBytes returns the table's current estimated byte footprint.
func (t *Table) UsedBytes() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.usedBytes
}

// seriesIDs returns ids, or every series the table knows about if ids is
// empty — an empty request is "match everything", not "match nothing".
func (t *Table) seriesIDs(ids map[uint32]struct{}) []uint32 {
	if len(ids) > 0 {
		out := make([]uint32, 0, len(ids))
		for id := range ids {
			out = append(out, id)
		}

		return out
	}

	seen := make(map[uint32]struct{})
	for id := range t.open {
		seen[id] = struct{}{}
	}
	for id := range t.sealedByID {
		seen[id] = struct{}{}
	}

	out := make([]uint32, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// ScanInterval iterates every measurement held for the requested ids (all
// known ids if empty) whose time falls in [from, to] and whose flag
// matches (any flag if 0), each series' chunks in insertion order.
func (t *Table) ScanInterval(ids map[uint32]struct{}, flag uint32, from, to int64) iter.Seq2[meas.Measurement, error] {
	return func(yield func(meas.Measurement, error) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()

		for _, id := range t.seriesIDs(ids) {
			for _, s := range t.sealedByID[id] {
				if s.Header().LastTime < from || s.Header().FirstTime > to {
					continue
				}
				for m, err := range s.All() {
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

			if oc, ok := t.open[id]; ok {
				if oc.Count() == 0 || oc.LastTime() < from || oc.FirstTime() > to {
					continue
				}
				sealed := oc.Seal(0)
				for m, err := range sealed.All() {
					if err != nil {
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
}

// TimePoint returns, for each requested id (all known ids if empty), the
// held measurement with the greatest time <= tp.
func (t *Table) TimePoint(ids map[uint32]struct{}, tp int64) (map[uint32]meas.Measurement, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[uint32]meas.Measurement)
	for _, id := range t.seriesIDs(ids) {
		var best meas.Measurement
		found := false

		consider := func(s *chunk.SealedChunk) error {
			if s.Header().FirstTime > tp {
				return nil
			}
			for m, err := range s.All() {
				if err != nil {
					return err
				}
				if m.Time > tp {
					break
				}
				if !found || m.Time > best.Time {
					best, found = m, true
				}
			}

			return nil
		}

		for _, s := range t.sealedByID[id] {
			if err := consider(s); err != nil {
				return nil, err
			}
		}
		if oc, ok := t.open[id]; ok && oc.Count() > 0 {
			if err := consider(oc.Seal(0)); err != nil {
				return nil, err
			}
		}

		if found {
			out[id] = best
		}
	}

	return out, nil
}

// MinMaxTime returns the earliest and latest timestamp held for id across
// its sealed chunks and open chunk.
func (t *Table) MinMaxTime(id uint32) (minT, maxT int64, found bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, s := range t.sealedByID[id] {
		h := s.Header()
		if !found {
			minT, maxT, found = h.FirstTime, h.LastTime, true
			continue
		}
		if h.FirstTime < minT {
			minT = h.FirstTime
		}
		if h.LastTime > maxT {
			maxT = h.LastTime
		}
	}

	if oc, ok := t.open[id]; ok && oc.Count() > 0 {
		if !found || oc.FirstTime() < minT {
			minT = oc.FirstTime()
		}
		if !found || oc.LastTime() > maxT {
			maxT = oc.LastTime()
		}
		found = true
	}

	return minT, maxT, found
}

// CurrentValue returns the most recently appended measurement for id, if
// any, regardless of time.
func (t *Table) CurrentValue(id uint32) (meas.Measurement, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if oc, ok := t.open[id]; ok && oc.Count() > 0 {
		sealed := oc.Seal(0)
		var last meas.Measurement
		for m, err := range sealed.All() {
			if err != nil {
				break
			}
			last = m
		}

		return last, true
	}

	if chunks := t.sealedByID[id]; len(chunks) > 0 {
		last := chunks[len(chunks)-1]
		var lastM meas.Measurement
		found := false
		for m, err := range last.All() {
			if err != nil {
				break
			}
			lastM, found = m, true
		}

		return lastM, found
	}

	return meas.Measurement{}, false
}
