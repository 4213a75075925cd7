// Package settings holds the Engine's tunable configuration: storage
// strategy selection, tier capacities, and memory limits, built with the
// functional-option pattern so New() always returns a fully-defaulted
// Settings value and callers only spell out what they want to override.
package settings

import (
	"time"

	"github.com/duskdb/duskdb/format"
)

// Strategy selects which storage tiers participate in the write and read
// pipeline.
type Strategy uint8

const (
	// WAL writes land only in the append-only log; no page compaction
	// ever runs. Reads only ever touch WAL files.
	WAL Strategy = iota
	// WALToPage is the default: writes land in WAL, sealed WAL files are
	// asynchronously dropped into compressed, immutable pages.
	WALToPage
	// Memory keeps regular (non-by-step) series only in the in-memory
	// chunk table; their measurements are never written to disk.
	Memory
	// MemoryAndPage uses memory as the primary store and spills evicted
	// chunks into pages, serving as a read-through cache in front of disk.
	MemoryAndPage
)

func (s Strategy) String() string {
	switch s {
	case WAL:
		return "WAL"
	case WALToPage:
		return "WAL_TO_PAGE"
	case Memory:
		return "MEMORY"
	case MemoryAndPage:
		return "MEMORY_AND_PAGE"
	default:
		return "UNKNOWN"
	}
}

// UsesWAL reports whether the strategy routes writes through a WAL file.
func (s Strategy) UsesWAL() bool {
	return s == WAL || s == WALToPage
}

// UsesPage reports whether the strategy ever produces page files.
func (s Strategy) UsesPage() bool {
	return s == WALToPage || s == MemoryAndPage
}

// UsesMemory reports whether the strategy keeps an in-memory chunk table as
// a primary (not just cache) tier.
func (s Strategy) UsesMemory() bool {
	return s == Memory || s == MemoryAndPage
}

const (
	// DefaultChunkBytes is the target size in bytes for a chunk's encoded
	// buffer before it's considered full and a new one is rolled.
	DefaultChunkBytes = 4096
	// DefaultWALCap is the number of raw measurement records a WAL file
	// accepts before it's sealed.
	DefaultWALCap = 1 << 16
	// DefaultMemoryLimit bounds total bytes held by the in-memory chunk
	// table before an eviction sweep runs.
	DefaultMemoryLimit = 256 << 20
	// DefaultMemoryEvictFraction is the fraction (by count, oldest
	// max_time first) of full chunks swept per eviction pass.
	DefaultMemoryEvictFraction = 0.25
	// DefaultSchemaVersion is the manifest schema version this build
	// writes and the highest version it will open without upgrading.
	DefaultSchemaVersion = 1
)

// Settings configures an Engine instance.
type Settings struct {
	Root                string
	Strategy            Strategy
	ChunkBytes          int
	WALCap              int
	MemoryLimit         int64
	MemoryEvictFraction float64
	SchemaVersion       uint32
	ReadPoolSize        int
	DropPoolSize        int
	CommonPoolSize      int
	DropBackoffInitial  time.Duration
	DropBackoffMax      time.Duration
	PageCompression     format.CompressionType
}

// Option mutates a Settings value during construction.
type Option func(*Settings)

// WithRoot sets the directory duskdb persists its manifest, WAL, page, and
// bystep files under.
func WithRoot(root string) Option {
	return func(s *Settings) { s.Root = root }
}

// WithStrategy selects the storage strategy.
func WithStrategy(strategy Strategy) Option {
	return func(s *Settings) { s.Strategy = strategy }
}

// WithChunkBytes overrides the target chunk buffer size.
func WithChunkBytes(n int) Option {
	return func(s *Settings) { s.ChunkBytes = n }
}

// WithWALCap overrides the number of records a WAL file holds before
// sealing.
func WithWALCap(n int) Option {
	return func(s *Settings) { s.WALCap = n }
}

// WithMemoryLimit overrides the in-memory chunk table's byte budget.
func WithMemoryLimit(n int64) Option {
	return func(s *Settings) { s.MemoryLimit = n }
}

// WithReadPoolSize overrides the READ thread pool's worker capacity.
func WithReadPoolSize(n int) Option {
	return func(s *Settings) { s.ReadPoolSize = n }
}

// WithPageCompression overrides the second-stage compression applied to a
// chunk's packed buffer when it's written into a page file.
func WithPageCompression(c format.CompressionType) Option {
	return func(s *Settings) { s.PageCompression = c }
}

// New builds a Settings value from defaults plus the given options.
func New(opts ...Option) Settings {
	s := Settings{
		Strategy:            WALToPage,
		ChunkBytes:          DefaultChunkBytes,
		WALCap:              DefaultWALCap,
		MemoryLimit:         DefaultMemoryLimit,
		MemoryEvictFraction: DefaultMemoryEvictFraction,
		SchemaVersion:       DefaultSchemaVersion,
		ReadPoolSize:        4,
		DropPoolSize:        1,
		CommonPoolSize:      2,
		DropBackoffInitial:  50 * time.Millisecond,
		DropBackoffMax:      5 * time.Second,
		PageCompression:     format.CompressionZstd,
	}
	for _, opt := range opts {
		opt(&s)
	}

	return s
}
