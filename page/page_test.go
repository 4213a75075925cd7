package page

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskdb/duskdb/format"
	"github.com/duskdb/duskdb/meas"
)

func writeTestPage(t *testing.T, dir string, ms []meas.Measurement, chunkBytes int) (string, string) {
	t.Helper()

	pagePath := filepath.Join(dir, "0001.page")
	idxPath := filepath.Join(dir, "0001.index")

	w, err := NewWriter(pagePath, idxPath, chunkBytes, format.CompressionZstd)
	require.NoError(t, err)

	SortByIDTime(ms)
	require.NoError(t, w.WritePage(ms))
	require.NoError(t, w.Close())

	return pagePath, idxPath
}

func TestWriteAndScanInterval(t *testing.T) {
	dir := t.TempDir()

	ms := []meas.Measurement{
		{ID: 1, Time: 10, Value: 1.0, Flag: 5},
		{ID: 1, Time: 20, Value: 2.0, Flag: 5},
		{ID: 1, Time: 30, Value: 3.0, Flag: 7},
		{ID: 2, Time: 15, Value: 9.0, Flag: 0},
	}
	pagePath, idxPath := writeTestPage(t, dir, ms, 4096)

	r, err := Open(pagePath, idxPath, format.CompressionZstd)
	require.NoError(t, err)
	defer r.Close()

	minT, maxT := r.MinMaxTime()
	require.Equal(t, int64(10), minT)
	require.Equal(t, int64(30), maxT)
	require.True(t, r.MayContainID(1))
	require.True(t, r.MayContainID(2))
	require.False(t, r.MayContainID(99))

	var got []meas.Measurement
	for m, err := range r.ScanInterval(map[uint32]struct{}{1: {}}, 0, 0, 100) {
		require.NoError(t, err)
		got = append(got, m)
	}
	require.Len(t, got, 3)

	got = nil
	for m, err := range r.ScanInterval(nil, 5, 0, 100) {
		require.NoError(t, err)
		got = append(got, m)
	}
	require.Len(t, got, 2)
}

func TestTimePoint(t *testing.T) {
	dir := t.TempDir()

	ms := []meas.Measurement{
		{ID: 1, Time: 10, Value: 1.0},
		{ID: 1, Time: 20, Value: 2.0},
		{ID: 2, Time: 15, Value: 9.0},
	}
	pagePath, idxPath := writeTestPage(t, dir, ms, 4096)

	r, err := Open(pagePath, idxPath, format.CompressionZstd)
	require.NoError(t, err)
	defer r.Close()

	best, err := r.TimePoint(nil, 18)
	require.NoError(t, err)
	require.Equal(t, 2.0, best[1].Value)
	require.Equal(t, 9.0, best[2].Value)

	best, err = r.TimePoint(nil, 5)
	require.NoError(t, err)
	require.Empty(t, best)
}

func TestWriteSeries_SplitsAcrossChunksWhenFull(t *testing.T) {
	dir := t.TempDir()

	var ms []meas.Measurement
	for i := int64(0); i < 2000; i++ {
		ms = append(ms, meas.Measurement{ID: 1, Time: i, Value: float64(i)})
	}
	pagePath, idxPath := writeTestPage(t, dir, ms, 512)

	r, err := Open(pagePath, idxPath, format.CompressionZstd)
	require.NoError(t, err)
	defer r.Close()

	require.Greater(t, r.ChunkCount(), 1)

	var got []meas.Measurement
	for m, err := range r.ScanInterval(nil, 0, 0, 3000) {
		require.NoError(t, err)
		got = append(got, m)
	}
	require.Len(t, got, 2000)
	for i, m := range got {
		require.Equal(t, int64(i), m.Time)
	}
}
