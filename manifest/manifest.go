// Package manifest persists duskdb's durable list of WAL and page files
// plus the on-disk schema version.
//
// The file format is line-oriented text:
//
//	schema_version=1
//	wal=0001.wal
//	page=0001.page
//
// Every mutation is committed with write-to-temp-then-os.Rename, so
// readers never observe a partially written manifest — a crash mid-write
// leaves either the old file or the new one, never a half-flushed hybrid.
// Each Manifest value owns its own lock rather than relying on a
// process-wide instance, so an Engine can hold one without any other
// package reaching for a shared global.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/duskdb/duskdb/errs"
)

const fileName = "Manifest"

// Manifest is the durable record of every live WAL and page file plus the
// schema version the store was written with. All mutator methods acquire
// an exclusive in-process lock and persist before returning, so a crash
// between mutation and persist never happens and a crash mid-persist
// leaves the prior, still-valid manifest in place (the temp file is never
// renamed over the original until it's fully written).
type Manifest struct {
	mu      sync.RWMutex
	dir     string
	version uint32
	wals    []string
	pages   []string
}

// CodeVersion is the schema version this build writes and the highest
// version it can open without an upgrade-in-place.
const CodeVersion uint32 = 1

// Open loads the manifest from dir, creating a fresh one at CodeVersion if
// none exists. It returns errs.ErrVersionMismatch if the on-disk version
// is newer than CodeVersion — opening an older build against a newer
// store's data is refused rather than risking a misread; a stored version
// lower than CodeVersion is accepted and silently upgraded in place on
// the next persist.
func Open(dir string) (*Manifest, error) {
	path := filepath.Join(dir, fileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m := &Manifest{dir: dir, version: CodeVersion}
		if err := m.persistLocked(); err != nil {
			return nil, err
		}

		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	m := &Manifest{dir: dir}
	if err := m.parse(data); err != nil {
		return nil, err
	}
	if m.version > CodeVersion {
		return nil, fmt.Errorf("manifest: stored=%d code=%d: %w", m.version, CodeVersion, errs.ErrVersionMismatch)
	}
	if m.version < CodeVersion {
		m.version = CodeVersion
		if err := m.persistLocked(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Manifest) parse(data []byte) error {
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		switch key {
		case "schema_version":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return fmt.Errorf("manifest: bad schema_version %q: %w", val, err)
			}
			m.version = uint32(v)
		case "wal":
			m.wals = append(m.wals, val)
		case "page":
			m.pages = append(m.pages, val)
		}
	}

	return sc.Err()
}

// SchemaVersion returns the manifest's current schema version.
func (m *Manifest) SchemaVersion() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.version
}

// WALFiles returns a snapshot of the live WAL file names.
func (m *Manifest) WALFiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.wals...)
}

// PageFiles returns a snapshot of the live page file names.
func (m *Manifest) PageFiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.pages...)
}

// AddWAL registers a newly created WAL file and persists the manifest.
func (m *Manifest) AddWAL(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wals = append(m.wals, name)

	return m.persistLocked()
}

// AddPage registers a newly created page file (written directly by a
// memory-tier eviction spill, bypassing WAL/Dropper) and persists the
// manifest.
func (m *Manifest) AddPage(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pages = append(m.pages, name)

	return m.persistLocked()
}

// CommitDrop atomically removes walName and adds pageName: the single
// persisted write that makes a WAL-to-page conversion crash-idempotent.
// Before this call returns, a crash leaves the WAL intact and the new
// page simply unreferenced garbage; after, the WAL is gone from the
// manifest and safe to delete.
func (m *Manifest) CommitDrop(walName, pageName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wals = removeName(m.wals, walName)
	m.pages = append(m.pages, pageName)

	return m.persistLocked()
}

// CommitCompaction atomically removes oldPages and adds newPage: the
// single persisted write that makes compaction crash-idempotent the same
// way CommitDrop does for a single WAL conversion.
func (m *Manifest) CommitCompaction(oldPages []string, newPage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, old := range oldPages {
		m.pages = removeName(m.pages, old)
	}
	m.pages = append(m.pages, newPage)

	return m.persistLocked()
}

// Rewrite rebuilds the manifest from an authoritative wal/page list,
// used by fsck after an on-disk scan reconciles what actually exists.
func (m *Manifest) Rewrite(wals, pages []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wals = append([]string(nil), wals...)
	m.pages = append([]string(nil), pages...)

	return m.persistLocked()
}

func removeName(names []string, target string) []string {
	out := names[:0]
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}

	return out
}

func (m *Manifest) persistLocked() error {
	path := filepath.Join(m.dir, fileName)
	tmp := path + ".tmp"

	var b strings.Builder
	fmt.Fprintf(&b, "schema_version=%d\n", m.version)
	for _, w := range m.wals {
		fmt.Fprintf(&b, "wal=%s\n", w)
	}
	for _, p := range m.pages {
		fmt.Fprintf(&b, "page=%s\n", p)
	}

	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("manifest: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("manifest: rename: %w", err)
	}

	return nil
}
