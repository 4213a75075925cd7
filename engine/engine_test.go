package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskdb/duskdb/bystep"
	"github.com/duskdb/duskdb/meas"
	"github.com/duskdb/duskdb/settings"
)

func openTestEngine(t *testing.T, opts ...settings.Option) *Engine {
	t.Helper()
	root := t.TempDir()

	allOpts := append([]settings.Option{settings.WithRoot(root)}, opts...)
	e, err := Open(settings.New(allOpts...))
	require.NoError(t, err)

	t.Cleanup(func() { _ = e.Stop() })

	return e
}

func TestEngine_IntervalRoundtrip(t *testing.T) {
	e := openTestEngine(t)

	for i := int64(0); i < 5; i++ {
		r, err := e.Append(meas.Measurement{ID: 1, Time: 100 + i*10, Value: float64(i)})
		require.NoError(t, err)
		require.Equal(t, uint64(1), r.Written)
	}

	var got []meas.Measurement
	err := e.Interval([]uint32{1}, 0, 100, 140, func(m meas.Measurement) bool {
		got = append(got, m)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, float64(0), got[0].Value)
	require.Equal(t, float64(4), got[4].Value)
}

func TestEngine_TimePointWithGapReturnsNoData(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.Append(meas.Measurement{ID: 1, Time: 100, Value: 1})
	require.NoError(t, err)
	_, err = e.Append(meas.Measurement{ID: 1, Time: 300, Value: 3})
	require.NoError(t, err)

	out, err := e.TimePoint([]uint32{1, 2}, 0, 200)
	require.NoError(t, err)

	require.Equal(t, float64(1), out[1].Value)
	require.True(t, out[2].IsNoData())
	require.Equal(t, int64(200), out[2].Time)
}

func TestEngine_ChunkFullRollsOverAndStillReads(t *testing.T) {
	e := openTestEngine(t, settings.WithChunkBytes(64), settings.WithStrategy(settings.Memory))

	const n = 500
	for i := int64(0); i < n; i++ {
		r, err := e.Append(meas.Measurement{ID: 7, Time: i, Value: float64(i)})
		require.NoError(t, err)
		require.Equal(t, uint64(1), r.Written)
	}

	var count int
	err := e.Interval([]uint32{7}, 0, 0, n-1, func(m meas.Measurement) bool {
		count++
		return true
	})
	require.NoError(t, err)
	require.Equal(t, n, count)
}

func TestEngine_WALRollAtCapKeepsCurrentValueReadableAfterFlush(t *testing.T) {
	e := openTestEngine(t, settings.WithWALCap(4))

	for i := int64(0); i < 4; i++ {
		_, err := e.Append(meas.Measurement{ID: 3, Time: i * 10, Value: float64(i)})
		require.NoError(t, err)
	}
	_, err := e.Append(meas.Measurement{ID: 3, Time: 40, Value: 4})
	require.NoError(t, err)

	require.NoError(t, e.Flush())

	out, err := e.CurrentValue([]uint32{3}, 0)
	require.NoError(t, err)
	require.Equal(t, float64(4), out[3].Value)
}

func TestEngine_DropConvertsSealedWALsIntoPages(t *testing.T) {
	root := t.TempDir()
	e, err := Open(settings.New(settings.WithRoot(root), settings.WithWALCap(100)))
	require.NoError(t, err)
	defer e.Stop() //nolint:errcheck // best-effort cleanup

	for i := int64(0); i < 250; i++ {
		r, err := e.Append(meas.Measurement{ID: 3, Time: i, Value: float64(i)})
		require.NoError(t, err)
		require.Equal(t, uint64(1), r.Written)
	}
	require.NoError(t, e.Flush())
	require.NoError(t, e.WaitAllAsyncs())

	// Two WALs sealed at cap plus the 50-record tail sealed by Flush:
	// all three dropped into pages, no WAL file left holding data.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var wals, pages int
	for _, ent := range entries {
		switch filepath.Ext(ent.Name()) {
		case ".wal":
			wals++
		case ".page":
			pages++
		}
	}
	require.Equal(t, 0, wals)
	require.Equal(t, 3, pages)

	var got []meas.Measurement
	err = e.Interval([]uint32{3}, 0, 0, 999, func(m meas.Measurement) bool {
		got = append(got, m)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 250)
	for i, m := range got {
		require.Equal(t, int64(i), m.Time)
	}
}

func TestEngine_CompactionMergesOverlappingPages(t *testing.T) {
	root := t.TempDir()
	e, err := Open(settings.New(settings.WithRoot(root), settings.WithWALCap(50)))
	require.NoError(t, err)
	defer e.Stop() //nolint:errcheck // best-effort cleanup

	for i := int64(0); i < 200; i++ {
		_, err := e.Append(meas.Measurement{ID: 4, Time: i, Value: float64(i)})
		require.NoError(t, err)
	}
	require.NoError(t, e.Flush())
	require.NoError(t, e.WaitAllAsyncs())

	require.NoError(t, e.CompactByTime(0, 199))
	// Idempotence: a second pass over the same window leaves one page.
	require.NoError(t, e.CompactByTime(0, 199))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var pages int
	for _, ent := range entries {
		if filepath.Ext(ent.Name()) == ".page" {
			pages++
		}
	}
	require.Equal(t, 1, pages)

	var count int
	err = e.Interval([]uint32{4}, 0, 0, 999, func(meas.Measurement) bool {
		count++
		return true
	})
	require.NoError(t, err)
	require.Equal(t, 200, count)
}

func TestEngine_ReopenAfterStopSeesPriorData(t *testing.T) {
	root := t.TempDir()

	st := settings.New(settings.WithRoot(root))
	e, err := Open(st)
	require.NoError(t, err)

	_, err = e.Append(meas.Measurement{ID: 9, Time: 1000, Value: 9.5})
	require.NoError(t, err)
	require.NoError(t, e.Flush())
	require.NoError(t, e.Stop())

	e2, err := Open(st)
	require.NoError(t, err)
	defer e2.Stop() //nolint:errcheck // best-effort cleanup, failure already covered by assertions above

	out, err := e2.CurrentValue([]uint32{9}, 0)
	require.NoError(t, err)
	require.Equal(t, 9.5, out[9].Value)
}

func TestEngine_ByStepSparseFillReportsNoData(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.SetSteps(map[uint32]bystep.StepKind{5: bystep.SEC}))

	_, err := e.Append(meas.Measurement{ID: 5, Time: 1_000, Value: 1})
	require.NoError(t, err)
	_, err = e.Append(meas.Measurement{ID: 5, Time: 3_000, Value: 3})
	require.NoError(t, err)

	var got []meas.Measurement
	err = e.Interval([]uint32{5}, 0, 1_000, 3_000, func(m meas.Measurement) bool {
		got = append(got, m)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, float64(1), got[0].Value)
	require.True(t, got[1].IsNoData())
	require.Equal(t, float64(3), got[2].Value)
}

func TestEngine_AppendRejectsReservedID(t *testing.T) {
	e := openTestEngine(t)

	r, err := e.Append(meas.Measurement{ID: 0, Time: 1, Value: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), r.Ignored)
	require.Equal(t, uint64(0), r.Written)
}

func TestEngine_SubscribeReceivesAppends(t *testing.T) {
	e := openTestEngine(t)

	received := make(chan meas.Measurement, 1)
	sub := e.Subscribe([]uint32{2}, 0, func(m meas.Measurement) {
		received <- m
	})
	defer sub.Unsubscribe()

	_, err := e.Append(meas.Measurement{ID: 2, Time: 5, Value: 1.5})
	require.NoError(t, err)

	select {
	case m := <-received:
		require.Equal(t, 1.5, m.Value)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("subscriber never received the appended measurement")
	}
}
