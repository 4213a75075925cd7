// Package pool provides the reusable scratch buffers behind duskdb's
// write path: the encode buffer every open chunk fills, and the assembly
// buffer a page writer stages one chunk's header+compressed body in so a
// chunk costs one write syscall instead of two.
package pool

import (
	"io"
	"sync"

	"github.com/duskdb/duskdb/settings"
)

// Buffer is a reusable byte scratch area. The zero value is ready to use.
type Buffer struct {
	b []byte
}

// Bytes returns the buffer's current contents.
func (bb *Buffer) Bytes() []byte { return bb.b }

// Len returns the number of bytes currently held.
func (bb *Buffer) Len() int { return len(bb.b) }

// Reset empties the buffer, keeping its allocation for reuse.
func (bb *Buffer) Reset() { bb.b = bb.b[:0] }

// Grab returns a zeroed slice of exactly n bytes backed by the buffer,
// reallocating only when the current capacity is too small. Chunk
// encoding ORs bits into place, so handing out anything but zeroed bytes
// would leak a previous chunk's stream into the next; zeroing here is
// what makes buffer reuse safe at all. The slice is valid until the next
// Grab, Reset, or Put.
func (bb *Buffer) Grab(n int) []byte {
	if cap(bb.b) < n {
		bb.b = make([]byte, n)
	} else {
		bb.b = bb.b[:n]
		clear(bb.b)
	}

	return bb.b
}

// Append adds p to the end of the buffer, growing it as needed.
func (bb *Buffer) Append(p []byte) {
	bb.b = append(bb.b, p...)
}

// WriteTo writes the buffer's contents to w in one call.
func (bb *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(bb.b)

	return int64(n), err
}

// Pool hands out Buffers presized to a hint and refuses to take back any
// that grew past retainBytes, so one oversized outlier can't pin its
// memory for the life of the process.
type Pool struct {
	p           sync.Pool
	retainBytes int
}

// NewPool returns a Pool whose fresh Buffers start at sizeHint capacity
// and whose returned Buffers are discarded above retainBytes.
func NewPool(sizeHint, retainBytes int) *Pool {
	return &Pool{
		p: sync.Pool{
			New: func() any { return &Buffer{b: make([]byte, 0, sizeHint)} },
		},
		retainBytes: retainBytes,
	}
}

// Get retrieves an empty Buffer from the pool.
func (p *Pool) Get() *Buffer {
	bb, _ := p.p.Get().(*Buffer)

	return bb
}

// Put returns bb to the pool for reuse.
func (p *Pool) Put(bb *Buffer) {
	if bb == nil || cap(bb.b) > p.retainBytes {
		return
	}
	bb.Reset()
	p.p.Put(bb)
}

// The two process-wide pools are sized off the default chunk size: a
// chunk buffer is exactly ChunkBytes unless overridden, and a page
// assembly holds one chunk's header+body, so a small multiple covers
// even generously overridden chunk sizes while keeping retained memory
// bounded.
var (
	chunkPool = NewPool(settings.DefaultChunkBytes, 32*settings.DefaultChunkBytes)
	pagePool  = NewPool(4*settings.DefaultChunkBytes, 64*settings.DefaultChunkBytes)
)

// GetChunkBuffer retrieves a Buffer from the shared chunk-encode pool.
func GetChunkBuffer() *Buffer { return chunkPool.Get() }

// PutChunkBuffer returns a Buffer to the shared chunk-encode pool.
func PutChunkBuffer(bb *Buffer) { chunkPool.Put(bb) }

// GetPageBuffer retrieves a Buffer from the shared page-assembly pool.
func GetPageBuffer() *Buffer { return pagePool.Get() }

// PutPageBuffer returns a Buffer to the shared page-assembly pool.
func PutPageBuffer(bb *Buffer) { pagePool.Put(bb) }
