package compress

// zstdCodec is the default page compression. The Compress/Decompress
// method bodies live in zstd_pure.go (klauspost/compress, the default)
// and zstd_cgo.go (valyala/gozstd behind the gozstd build tag); both
// produce interchangeable zstd frames, so pages written by one build are
// readable by the other.
type zstdCodec struct{}

var _ Codec = zstdCodec{}
