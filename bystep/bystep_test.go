package bystep

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskdb/duskdb/errs"
	"github.com/duskdb/duskdb/meas"
)

func newTestAdapter(t *testing.T) *IOAdapter {
	t.Helper()
	a, err := OpenIOAdapter(filepath.Join(t.TempDir(), "bystep.db"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	return a
}

func TestAppend_UnknownSeriesErrors(t *testing.T) {
	m := NewManager(newTestAdapter(t))
	err := m.Append(meas.Measurement{ID: 1, Time: 0, Value: 1.0})
	require.ErrorIs(t, err, errs.ErrUnknownSeries)
}

func TestAppend_SparseFillReportsNoData(t *testing.T) {
	m := NewManager(newTestAdapter(t))
	m.SetSteps(map[uint32]StepKind{9: SEC})

	require.NoError(t, m.Append(meas.Measurement{ID: 9, Time: 1000, Value: 1.0}))
	require.NoError(t, m.Append(meas.Measurement{ID: 9, Time: 3000, Value: 2.0}))

	out, err := m.ScanInterval(map[uint32]struct{}{9: {}}, 1000, 3000)
	require.NoError(t, err)

	samples := out[9]
	byTime := make(map[int64]meas.Measurement)
	for _, s := range samples {
		byTime[s.Time] = s
	}

	require.Equal(t, 1.0, byTime[1000].Value)
	require.True(t, byTime[2000].IsNoData())
	require.Equal(t, 2.0, byTime[3000].Value)
}

func TestAppend_OutOfOrderWriteUpdatesHistoricalPeriod(t *testing.T) {
	adapter := newTestAdapter(t)
	m := NewManager(adapter)
	m.SetSteps(map[uint32]StepKind{1: MS})

	// MS period spans 1000ms; force a rollover to period 1 then write
	// back into period 0.
	require.NoError(t, m.Append(meas.Measurement{ID: 1, Time: 1500, Value: 9.0}))
	require.NoError(t, m.Append(meas.Measurement{ID: 1, Time: 500, Value: 5.0}))

	require.NoError(t, m.Flush())

	data, found, err := adapter.Get(0, 1)
	require.NoError(t, err)
	require.True(t, found)

	tr, err := parseTrack(1, MS, 0, data)
	require.NoError(t, err)
	samples := tr.Scan(0, 999)
	byTime := make(map[int64]meas.Measurement)
	for _, s := range samples {
		byTime[s.Time] = s
	}
	require.Equal(t, 5.0, byTime[500].Value)
}

func TestFlush_DrainsQueue(t *testing.T) {
	m := NewManager(newTestAdapter(t))
	m.SetSteps(map[uint32]StepKind{1: SEC})
	require.NoError(t, m.Append(meas.Measurement{ID: 1, Time: 1000, Value: 1.0}))
	require.NoError(t, m.Flush())
}
