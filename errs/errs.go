// Package errs defines the sentinel errors returned across duskdb's
// storage tiers. Callers should use errors.Is against these values rather
// than comparing error strings.
package errs

import "errors"

var (
	// ErrBadChecksum indicates a chunk's stored CRC32 doesn't match its
	// buffer contents. The chunk is skipped by readers.
	ErrBadChecksum = errors.New("duskdb: chunk checksum mismatch")

	// ErrNotReady is returned by any Engine operation invoked outside the
	// OPEN state.
	ErrNotReady = errors.New("duskdb: engine is not ready")

	// ErrVersionMismatch is returned when the on-disk manifest schema
	// version is newer than the code's supported version.
	ErrVersionMismatch = errors.New("duskdb: manifest schema version mismatch")

	// ErrUnknownSeries is returned by by-step operations on a series that
	// has no registered step kind.
	ErrUnknownSeries = errors.New("duskdb: series has no registered step")

	// ErrDropFailed wraps a failed WAL-to-page drop attempt. The Dropper
	// retries with backoff and logs the wrapped error; it never surfaces
	// to Engine callers.
	ErrDropFailed = errors.New("duskdb: drop failed")

	// ErrInvalidHeaderSize is returned when a chunk, page, or index header
	// is parsed from a byte slice of the wrong length.
	ErrInvalidHeaderSize = errors.New("duskdb: invalid header size")

	// ErrTornRecord indicates a stream that ends mid-record: a chunk
	// buffer that decodes fewer samples than its header claims, or a WAL
	// tail cut partway through a record by a crash.
	ErrTornRecord = errors.New("duskdb: torn record")

	// ErrSealed is returned internally when a write targets an
	// already-sealed WAL file. It never crosses the Engine boundary: the
	// caller rolls to a new WAL.
	ErrSealed = errors.New("duskdb: resource is sealed")
)
