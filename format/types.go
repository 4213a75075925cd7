// Package format defines the small enums written into on-disk headers:
// the page-level compression algorithm a reader needs to know before it
// can decode a chunk's buffer. Keeping these as a standalone package
// (rather than folding them into compress or page) lets settings, page,
// and compress all depend on the enum without importing each other.
package format

// CompressionType identifies the algorithm used to compress a page's
// chunk bodies. It is stored once per page (settings.Settings.PageCompression
// at write time) rather than per chunk, since a page is always written by
// one Writer under one compression choice.
type CompressionType uint8

const (
	CompressionNone CompressionType = 0x1 // CompressionNone stores chunk bodies uncompressed.
	CompressionZstd CompressionType = 0x2 // CompressionZstd compresses chunk bodies with Zstandard.
	CompressionS2   CompressionType = 0x3 // CompressionS2 compresses chunk bodies with S2 (Snappy-compatible).
	CompressionLZ4  CompressionType = 0x4 // CompressionLZ4 compresses chunk bodies with LZ4.
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZstd:
		return "Zstd"
	case CompressionS2:
		return "S2"
	case CompressionLZ4:
		return "LZ4"
	default:
		return "Unknown"
	}
}
