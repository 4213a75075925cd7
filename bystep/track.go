package bystep

import (
	"github.com/duskdb/duskdb/endian"
	"github.com/duskdb/duskdb/errs"
	"github.com/duskdb/duskdb/meas"
)

// slotBytes is the packed wire size of one grid slot: value(8) + flag(4).
const slotBytes = 12

type gridSlot struct {
	value float64
	flag  uint32
}

// Track is one series' in-memory packed chunk for a single period, a
// fixed-size grid of slotsPerPeriod(kind) values. Unset slots carry
// meas.NoData.
type Track struct {
	id     uint32
	kind   StepKind
	period int64
	slots  []gridSlot
}

func newTrack(id uint32, kind StepKind, period int64) *Track {
	slots := make([]gridSlot, kind.slotsPerPeriod())
	for i := range slots {
		slots[i].flag = meas.NoData
	}

	return &Track{id: id, kind: kind, period: period, slots: slots}
}

// Period returns the track's period number.
func (t *Track) Period() int64 { return t.period }

func (t *Track) slotIndex(time int64) int {
	rounded := roundToStep(time, t.kind.stepMs())
	base := t.period * t.kind.periodMs()

	return int((rounded - base) / t.kind.stepMs())
}

// Set overwrites the slot for time with value/flag, last-writer-wins.
// time must fall within the track's own period; out-of-range writes are
// silently ignored since callers resolve the correct period before
// calling Set.
func (t *Track) Set(time int64, value float64, flag uint32) {
	idx := t.slotIndex(time)
	if idx < 0 || idx >= len(t.slots) {
		return
	}
	t.slots[idx] = gridSlot{value: value, flag: flag}
}

// Scan returns every grid slot whose time falls in [from, to], in
// ascending time order, with flag meas.NoData for slots never written.
func (t *Track) Scan(from, to int64) []meas.Measurement {
	base := t.period * t.kind.periodMs()
	step := t.kind.stepMs()

	var out []meas.Measurement
	for i, s := range t.slots {
		tm := base + int64(i)*step
		if tm < from || tm > to {
			continue
		}
		out = append(out, meas.Measurement{ID: t.id, Time: tm, Value: s.value, Flag: s.flag})
	}

	return out
}

// Latest returns the grid slot with the greatest time that has actually
// been written (flag != meas.NoData), used for current_value queries
// against a by-step series. It only considers this track's own period;
// a series whose most recent write landed in an earlier period reports
// not-found rather than reaching into history.
func (t *Track) Latest() (meas.Measurement, bool) {
	base := t.period * t.kind.periodMs()
	step := t.kind.stepMs()

	found := false
	var best meas.Measurement
	for i, s := range t.slots {
		if s.flag == meas.NoData {
			continue
		}
		tm := base + int64(i)*step
		if !found || tm > best.Time {
			best = meas.Measurement{ID: t.id, Time: tm, Value: s.value, Flag: s.flag}
			found = true
		}
	}

	return best, found
}

// Range returns the earliest and latest written slot's time in this
// track, if any slot has been set.
func (t *Track) Range() (minT, maxT int64, found bool) {
	base := t.period * t.kind.periodMs()
	step := t.kind.stepMs()

	for i, s := range t.slots {
		if s.flag == meas.NoData {
			continue
		}
		tm := base + int64(i)*step
		if !found {
			minT, maxT, found = tm, tm, true
			continue
		}
		if tm < minT {
			minT = tm
		}
		if tm > maxT {
			maxT = tm
		}
	}

	return minT, maxT, found
}

// Bytes serializes the track's grid to its packed little-endian wire form.
func (t *Track) Bytes() []byte {
	buf := make([]byte, len(t.slots)*slotBytes)
	w := endian.NewWriter(buf)
	for _, s := range t.slots {
		w.Float64(s.value)
		w.Uint32(s.flag)
	}

	return buf
}

// parseTrack reconstructs a Track from its packed wire form, previously
// produced by Bytes() for the same kind.
func parseTrack(id uint32, kind StepKind, period int64, data []byte) (*Track, error) {
	n := kind.slotsPerPeriod()
	if len(data) != n*slotBytes {
		return nil, errs.ErrInvalidHeaderSize
	}

	r := endian.NewReader(data)
	slots := make([]gridSlot, n)
	for i := range slots {
		slots[i] = gridSlot{value: r.Float64(), flag: r.Uint32()}
	}

	return &Track{id: id, kind: kind, period: period, slots: slots}, nil
}
