package bystep

import (
	"sync"

	"github.com/duskdb/duskdb/errs"
	"github.com/duskdb/duskdb/meas"
)

// Manager holds the current in-memory Track for every series with a
// registered StepKind and routes appends through the period-rollover
// rules: roll forward into a fresh period, reload a historical period for
// an out-of-order write, or overwrite the current slot.
type Manager struct {
	mu      sync.Mutex
	adapter *IOAdapter
	kinds   map[uint32]StepKind
	tracks  map[uint32]*Track
}

// NewManager returns a Manager backed by adapter. adapter is owned by the
// caller and must outlive the Manager.
func NewManager(adapter *IOAdapter) *Manager {
	return &Manager{
		adapter: adapter,
		kinds:   make(map[uint32]StepKind),
		tracks:  make(map[uint32]*Track),
	}
}

// SetSteps registers the step kind for each series in kinds, per the
// Engine's set_steps operation.
func (m *Manager) SetSteps(kinds map[uint32]StepKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, k := range kinds {
		m.kinds[id] = k
	}
}

// Append rounds mm.Time onto its series' grid and writes the slot,
// rolling to a new period (flushing the old one) or loading a historical
// period for an out-of-order write. It returns errs.ErrUnknownSeries if
// mm.ID has no registered step kind.
func (m *Manager) Append(mm meas.Measurement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind, ok := m.kinds[mm.ID]
	if !ok {
		return errs.ErrUnknownSeries
	}

	period := periodOf(kind, mm.Time)

	tr, ok := m.tracks[mm.ID]
	switch {
	case !ok:
		tr = newTrack(mm.ID, kind, period)
		m.tracks[mm.ID] = tr
	case period > tr.period:
		m.adapter.Put(tr.period, tr.id, tr.Bytes())
		tr = newTrack(mm.ID, kind, period)
		m.tracks[mm.ID] = tr
	case period < tr.period:
		hist, err := m.loadTrackLocked(mm.ID, kind, period)
		if err != nil {
			return err
		}
		hist.Set(mm.Time, mm.Value, mm.Flag)
		m.adapter.Put(hist.period, hist.id, hist.Bytes())

		return nil
	}

	tr.Set(mm.Time, mm.Value, mm.Flag)

	return nil
}

func (m *Manager) loadTrackLocked(id uint32, kind StepKind, period int64) (*Track, error) {
	// Drain the adapter's write queue first so a Put for this same period
	// that's still in flight can't be missed by the read-back.
	if err := m.adapter.Flush(); err != nil {
		return nil, err
	}

	data, found, err := m.adapter.Get(period, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return newTrack(id, kind, period), nil
	}

	return parseTrack(id, kind, period, data)
}

// ScanInterval returns, for each requested id (every registered id if
// ids is empty), the grid samples in [from, to], spanning however many
// periods that range covers, live in-memory period first and historical
// periods loaded from the adapter.
func (m *Manager) ScanInterval(ids map[uint32]struct{}, from, to int64) (map[uint32][]meas.Measurement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Queued but not-yet-applied Puts must be visible to the historical
	// Gets below.
	if err := m.adapter.Flush(); err != nil {
		return nil, err
	}

	out := make(map[uint32][]meas.Measurement)
	for id, kind := range m.kinds {
		if len(ids) > 0 {
			if _, ok := ids[id]; !ok {
				continue
			}
		}

		first := periodOf(kind, from)
		last := periodOf(kind, to)

		var samples []meas.Measurement
		for p := first; p <= last; p++ {
			tr, err := m.trackForPeriodLocked(id, kind, p)
			if err != nil {
				return nil, err
			}
			if tr == nil {
				continue
			}
			samples = append(samples, tr.Scan(from, to)...)
		}
		out[id] = samples
	}

	return out, nil
}

func (m *Manager) trackForPeriodLocked(id uint32, kind StepKind, period int64) (*Track, error) {
	if cur, ok := m.tracks[id]; ok && cur.period == period {
		return cur, nil
	}

	data, found, err := m.adapter.Get(period, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	return parseTrack(id, kind, period, data)
}

// HasStep reports whether id has a registered step kind, i.e. whether its
// appends should be routed through the by-step grid rather than the
// regular MEM/WAL/PAGE tiers.
func (m *Manager) HasStep(id uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.kinds[id]

	return ok
}

// RegisteredIDs returns every series id with a registered step kind, used
// by Engine to expand an empty id set ("match all known ids") across the
// by-step tier.
func (m *Manager) RegisteredIDs() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uint32, 0, len(m.kinds))
	for id := range m.kinds {
		out = append(out, id)
	}

	return out
}

// CurrentValue returns the most recently written grid slot for id within
// its live in-memory period.
func (m *Manager) CurrentValue(id uint32) (meas.Measurement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.tracks[id]
	if !ok {
		return meas.Measurement{}, false
	}

	return tr.Latest()
}

// MinMaxTime returns the earliest and latest written slot time for id
// within its live in-memory period.
func (m *Manager) MinMaxTime(id uint32) (minT, maxT int64, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.tracks[id]
	if !ok {
		return 0, 0, false
	}

	return tr.Range()
}

// Flush persists every live in-memory track and waits for the adapter's
// write queue to drain.
func (m *Manager) Flush() error {
	m.mu.Lock()
	for _, tr := range m.tracks {
		m.adapter.Put(tr.period, tr.id, tr.Bytes())
	}
	m.mu.Unlock()

	return m.adapter.Flush()
}
