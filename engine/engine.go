// Package engine implements the Engine facade: the opaque handle that
// binds the bit-cursor/chunk codecs, the WAL/Page/MemChunkTable tiers,
// the lock manager, thread pools, Dropper, and by-step subsystems behind
// one small set of public operations.
//
// Every manager a component needs (thread pools, locks, the manifest) is
// an explicit field on Engine rather than a package-level global, so
// tests can spin up as many independent stores as they like in one
// process without them stepping on each other. Query results are
// delivered through a pulled iterator or a pushed callback depending on
// the call, with cancellation modeled simply as "stop calling the
// callback" rather than a separate cancel channel.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/duskdb/duskdb/bystep"
	"github.com/duskdb/duskdb/dropper"
	"github.com/duskdb/duskdb/errs"
	"github.com/duskdb/duskdb/lockmgr"
	"github.com/duskdb/duskdb/manifest"
	"github.com/duskdb/duskdb/memtable"
	"github.com/duskdb/duskdb/notify"
	"github.com/duskdb/duskdb/page"
	"github.com/duskdb/duskdb/settings"
	"github.com/duskdb/duskdb/threadpool"
	"github.com/duskdb/duskdb/wal"
)

// State is one of the Engine lifecycle's four stages:
// INIT -> OPEN -> (STOPPING) -> STOPPED.
type State int32

const (
	StateInit State = iota
	StateOpen
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpen:
		return "OPEN"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// AppendResult reports how many measurements a write operation accepted
// versus rejected.
type AppendResult struct {
	Written uint64
	Ignored uint64
}

// bystepQueueCap bounds the by-step IOAdapter's write queue: writers block
// once this many persists are in flight rather than growing it unbounded.
const bystepQueueCap = 256

// Engine is the opaque handle exposing the store's public operations. The
// zero value is not usable; construct one with Open.
type Engine struct {
	state atomic.Int32

	root     string
	settings settings.Settings
	logger   *zap.Logger

	mani     *manifest.Manifest
	locks    *lockmgr.Manager
	pools    *threadpool.Manager
	notifier *notify.Notifier

	table *memtable.Table // nil unless settings.Strategy.UsesMemory()

	walMu     sync.Mutex
	activeWAL *wal.File // nil unless settings.Strategy.UsesWAL()
	walSeq    atomic.Int64

	pagesMu sync.Mutex
	pages   map[string]*page.Reader // nil unless settings.Strategy.UsesPage()
	pageSeq atomic.Int64

	drop *dropper.Worker // nil unless settings.Strategy.UsesPage()

	bystepAdapter *bystep.IOAdapter
	bystepMgr     *bystep.Manager

	stopOnce sync.Once
}

// Option configures an Engine at construction time, mirroring the
// settings.Option functional-option convention.
type Option func(*Engine)

// WithLogger overrides the engine's structured logger. The default is
// zap.NewNop(), consistent with library-style (not daemon-style) ambient
// logging for an embeddable storage engine.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Open loads (or creates) the store rooted at st.Root and transitions the
// Engine INIT -> OPEN. It returns errs.ErrVersionMismatch if the on-disk
// manifest schema is newer than this build supports.
func Open(st settings.Settings, opts ...Option) (*Engine, error) {
	if st.Root == "" {
		return nil, fmt.Errorf("engine: open: %w", fmt.Errorf("settings.Root must not be empty"))
	}
	if err := os.MkdirAll(st.Root, 0o755); err != nil {
		return nil, fmt.Errorf("engine: mkdir %s: %w", st.Root, err)
	}

	e := &Engine{
		root:     st.Root,
		settings: st,
		logger:   zap.NewNop(),
		locks:    lockmgr.New(),
		pools:    threadpool.NewManager(st.ReadPoolSize, st.DropPoolSize, st.CommonPoolSize),
		notifier: notify.New(),
		pages:    make(map[string]*page.Reader),
	}
	for _, opt := range opts {
		opt(e)
	}

	mani, err := manifest.Open(st.Root)
	if err != nil {
		return nil, err
	}
	e.mani = mani

	if st.Strategy.UsesMemory() {
		var spill memtable.SpillFunc
		if st.Strategy.UsesPage() {
			spill = e.spillToPage
		}
		e.table = memtable.New(st.ChunkBytes, st.MemoryLimit, st.MemoryEvictFraction, spill)
	}

	if st.Strategy.UsesPage() {
		e.drop = dropper.New(st.Root, mani, e.locks, st, e.logger)
		e.drop.Start()

		if err := e.openExistingPages(); err != nil {
			e.closeBestEffort()
			return nil, err
		}
	}

	if st.Strategy.UsesWAL() {
		if err := e.openOrCreateActiveWAL(); err != nil {
			e.closeBestEffort()
			return nil, err
		}
	}

	adapter, err := bystep.OpenIOAdapter(filepath.Join(st.Root, "bystep.db"), bystepQueueCap)
	if err != nil {
		e.closeBestEffort()
		return nil, err
	}
	e.bystepAdapter = adapter
	e.bystepMgr = bystep.NewManager(adapter)

	e.walSeq.Store(time.Now().UnixNano())
	e.pageSeq.Store(time.Now().UnixNano())
	e.state.Store(int32(StateOpen))

	return e, nil
}

func (e *Engine) openExistingPages() error {
	for _, name := range e.mani.PageFiles() {
		pagePath := filepath.Join(e.root, name)
		r, err := page.Open(pagePath, idxPathFor(pagePath), e.settings.PageCompression)
		if err != nil {
			return fmt.Errorf("engine: open page %s: %w", name, err)
		}
		e.pages[name] = r
	}

	return nil
}

func idxPathFor(pagePath string) string {
	return strings.TrimSuffix(pagePath, ".page") + ".pagei"
}

func (e *Engine) openOrCreateActiveWAL() error {
	names := e.mani.WALFiles()
	if len(names) > 0 {
		last := names[len(names)-1]
		f, err := wal.Open(filepath.Join(e.root, last), e.settings.WALCap)
		if err != nil {
			return fmt.Errorf("engine: reopen wal %s: %w", last, err)
		}
		if !f.Sealed() {
			e.activeWAL = f
			return nil
		}

		// The last known WAL reached its cap before the engine was last
		// stopped (or crashed). Queue it for drop (WAL+PAGE only; a
		// WAL-only strategy keeps it forever as a read tier) and start
		// a fresh one.
		f.Close() //nolint:errcheck // best-effort close before handing the name to the dropper
		if e.settings.Strategy.UsesPage() {
			e.drop.Enqueue(last)
		}
	}

	return e.rollWAL()
}

// rollWAL creates and registers a brand-new active WAL file. Callers must
// hold no conflicting lock; it acquires lockmgr.WAL itself only through
// its caller (appendWAL) when rolling mid-ingest, or runs lock-free during
// Open before the engine is visible to any reader.
func (e *Engine) rollWAL() error {
	seq := e.walSeq.Add(1)
	name := fmt.Sprintf("%016x.wal", seq)

	f, err := wal.Create(filepath.Join(e.root, name), e.settings.WALCap)
	if err != nil {
		return fmt.Errorf("engine: create wal %s: %w", name, err)
	}
	if err := e.mani.AddWAL(name); err != nil {
		f.Close() //nolint:errcheck // best-effort close on registration failure
		return fmt.Errorf("engine: register wal %s: %w", name, err)
	}

	e.activeWAL = f

	return nil
}

// isOpen reports whether the engine is accepting operations.
func (e *Engine) isOpen() bool {
	return State(e.state.Load()) == StateOpen
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Stop flushes every tier (Flush), stops the Dropper, closes the active
// WAL, the open pages and the by-step store, and transitions
// OPEN -> STOPPING -> STOPPED. It is idempotent;
// subsequent calls are no-ops.
func (e *Engine) Stop() error {
	var stopErr error
	e.stopOnce.Do(func() {
		e.state.Store(int32(StateStopping))

		if err := e.Flush(); err != nil {
			stopErr = err
		}

		if e.drop != nil {
			e.drop.Stop()
		}

		if e.activeWAL != nil {
			if err := e.activeWAL.Close(); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("engine: close wal: %w", err)
			}
		}

		e.pagesMu.Lock()
		for _, r := range e.pages {
			if err := r.Close(); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("engine: close page: %w", err)
			}
		}
		e.pagesMu.Unlock()

		if e.bystepAdapter != nil {
			if err := e.bystepAdapter.Close(); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("engine: close bystep store: %w", err)
			}
		}

		e.state.Store(int32(StateStopped))
	})

	return stopErr
}

// closeBestEffort tears down whatever was opened so far during a failed
// Open, without going through the full Stop state machine (the engine
// never reached OPEN).
func (e *Engine) closeBestEffort() {
	if e.drop != nil {
		e.drop.Stop()
	}
	if e.activeWAL != nil {
		e.activeWAL.Close() //nolint:errcheck // best-effort cleanup on a failed Open
	}
	for _, r := range e.pages {
		r.Close() //nolint:errcheck // best-effort cleanup on a failed Open
	}
	if e.bystepAdapter != nil {
		e.bystepAdapter.Close() //nolint:errcheck // best-effort cleanup on a failed Open
	}
}

// errNotOpen is returned by every public operation invoked outside OPEN.
func errNotOpen() error {
	return errs.ErrNotReady
}
