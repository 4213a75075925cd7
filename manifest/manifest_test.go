package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesFreshManifest(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir)
	require.NoError(t, err)
	require.Equal(t, CodeVersion, m.SchemaVersion())
	require.Empty(t, m.WALFiles())
	require.Empty(t, m.PageFiles())

	data, err := os.ReadFile(filepath.Join(dir, fileName))
	require.NoError(t, err)
	require.Contains(t, string(data), "schema_version=1")
}

func TestAddWAL_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, m.AddWAL("0001.wal"))
	require.NoError(t, m.AddWAL("0002.wal"))

	reloaded, err := Open(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"0001.wal", "0002.wal"}, reloaded.WALFiles())
}

func TestCommitDrop_MovesWALToPage(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, m.AddWAL("0001.wal"))

	require.NoError(t, m.CommitDrop("0001.wal", "0001.page"))
	require.Empty(t, m.WALFiles())
	require.Equal(t, []string{"0001.page"}, m.PageFiles())

	reloaded, err := Open(dir)
	require.NoError(t, err)
	require.Empty(t, reloaded.WALFiles())
	require.Equal(t, []string{"0001.page"}, reloaded.PageFiles())
}

func TestCommitCompaction_MergesPages(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, m.AddWAL("w.wal"))
	require.NoError(t, m.CommitDrop("w.wal", "0001.page"))
	require.NoError(t, m.CommitCompaction(nil, "0002.page"))

	require.NoError(t, m.CommitCompaction([]string{"0001.page", "0002.page"}, "0003.page"))
	require.Equal(t, []string{"0003.page"}, m.PageFiles())
}

func TestOpen_RefusesNewerSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("schema_version=999\n"), 0o644))

	_, err := Open(dir)
	require.Error(t, err)
}

func TestRewrite_ReplacesContents(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, m.AddWAL("stale.wal"))

	require.NoError(t, m.Rewrite([]string{"0005.wal"}, []string{"0005.page"}))
	require.Equal(t, []string{"0005.wal"}, m.WALFiles())
	require.Equal(t, []string{"0005.page"}, m.PageFiles())
}
