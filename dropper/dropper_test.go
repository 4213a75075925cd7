package dropper

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duskdb/duskdb/lockmgr"
	"github.com/duskdb/duskdb/manifest"
	"github.com/duskdb/duskdb/meas"
	"github.com/duskdb/duskdb/page"
	"github.com/duskdb/duskdb/settings"
	"github.com/duskdb/duskdb/wal"
)

func newTestWorker(t *testing.T) (*Worker, string) {
	t.Helper()
	root := t.TempDir()

	mani, err := manifest.Open(root)
	require.NoError(t, err)

	st := settings.New(settings.WithRoot(root))

	w := New(root, mani, lockmgr.New(), st, zap.NewNop())

	return w, root
}

func writeTestWAL(t *testing.T, root, name string, ms []meas.Measurement) {
	t.Helper()

	f, err := wal.Create(filepath.Join(root, name), 1024)
	require.NoError(t, err)

	for _, m := range ms {
		require.NoError(t, f.Append(m))
	}
	require.NoError(t, f.Flush())
	require.NoError(t, f.Close())
}

func TestDropOnce_ConvertsWALIntoPageAndUpdatesManifest(t *testing.T) {
	w, root := newTestWorker(t)

	ms := []meas.Measurement{
		{ID: 1, Time: 100, Value: 1.0},
		{ID: 1, Time: 200, Value: 2.0},
		{ID: 2, Time: 50, Value: 9.0},
	}
	writeTestWAL(t, root, "0001.wal", ms)
	require.NoError(t, w.mani.AddWAL("0001.wal"))

	require.NoError(t, w.dropOnce("0001.wal"))

	require.Empty(t, w.mani.WALFiles())
	require.Len(t, w.mani.PageFiles(), 1)

	pageName := w.mani.PageFiles()[0]
	pagePath := filepath.Join(root, pageName)
	idxPath := idxPathFor(pagePath)

	r, err := page.Open(pagePath, idxPath, w.settings.PageCompression)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.MayContainID(1))
	require.True(t, r.MayContainID(2))

	out, err := r.TimePoint(map[uint32]struct{}{1: {}}, 200)
	require.NoError(t, err)
	require.Equal(t, 2.0, out[1].Value)
}

func TestCompactByTime_MergesOverlappingPagesKeepingLatest(t *testing.T) {
	w, root := newTestWorker(t)

	writeTestWAL(t, root, "0001.wal", []meas.Measurement{
		{ID: 1, Time: 100, Value: 1.0},
	})
	require.NoError(t, w.mani.AddWAL("0001.wal"))
	require.NoError(t, w.dropOnce("0001.wal"))

	writeTestWAL(t, root, "0002.wal", []meas.Measurement{
		{ID: 1, Time: 100, Value: 42.0}, // same (id, time), written later: should win
		{ID: 1, Time: 150, Value: 2.0},
	})
	require.NoError(t, w.mani.AddWAL("0002.wal"))
	require.NoError(t, w.dropOnce("0002.wal"))

	require.Len(t, w.mani.PageFiles(), 2)

	require.NoError(t, w.CompactByTime(0, 1000))

	require.Len(t, w.mani.PageFiles(), 1)

	pageName := w.mani.PageFiles()[0]
	pagePath := filepath.Join(root, pageName)
	idxPath := idxPathFor(pagePath)

	r, err := page.Open(pagePath, idxPath, w.settings.PageCompression)
	require.NoError(t, err)
	defer r.Close()

	out, err := r.TimePoint(map[uint32]struct{}{1: {}}, 100)
	require.NoError(t, err)
	require.Equal(t, 42.0, out[1].Value)

	out, err = r.TimePoint(map[uint32]struct{}{1: {}}, 150)
	require.NoError(t, err)
	require.Equal(t, 2.0, out[1].Value)
}

func TestCompactByTime_NoOverlappingPagesIsNoop(t *testing.T) {
	w, root := newTestWorker(t)

	writeTestWAL(t, root, "0001.wal", []meas.Measurement{
		{ID: 1, Time: 100, Value: 1.0},
	})
	require.NoError(t, w.mani.AddWAL("0001.wal"))
	require.NoError(t, w.dropOnce("0001.wal"))

	require.NoError(t, w.CompactByTime(10_000, 20_000))
	require.Len(t, w.mani.PageFiles(), 1)
	_ = root
}

func TestDrainWaitsForQueuedDrops(t *testing.T) {
	w, root := newTestWorker(t)

	writeTestWAL(t, root, "0001.wal", []meas.Measurement{
		{ID: 1, Time: 100, Value: 1.0},
	})
	require.NoError(t, w.mani.AddWAL("0001.wal"))

	w.Start()
	defer w.Stop()

	w.Enqueue("0001.wal")
	w.Drain()

	require.Empty(t, w.mani.WALFiles())
	require.Len(t, w.mani.PageFiles(), 1)
}

func TestDedupeLatestAtEqualTime(t *testing.T) {
	in := []meas.Measurement{
		{ID: 1, Time: 100, Value: 1.0},
		{ID: 1, Time: 100, Value: 2.0},
		{ID: 2, Time: 50, Value: 3.0},
	}

	out := dedupeLatestAtEqualTime(in)
	require.Len(t, out, 2)

	byID := make(map[uint32]meas.Measurement)
	for _, m := range out {
		byID[m.ID] = m
	}
	require.Equal(t, 2.0, byID[1].Value)
	require.Equal(t, 3.0, byID[2].Value)
}
