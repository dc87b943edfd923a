package compress

import "github.com/arloliu/f3/format"

// ZstdCompressor provides Zstandard compression.
//
// The implementation is selected at build time: the pure Go klauspost/compress
// encoder by default, or valyala/gozstd when built with cgo and the gozstd tag.
// It suits OptData entries and wide binary columns where ratio matters more than speed.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a new Zstd compressor with default settings.
//
// Returns:
//   - ZstdCompressor: New Zstd compressor instance
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}

// Type returns format.CompressionZstd.
func (c ZstdCompressor) Type() format.CompressionType {
	return format.CompressionZstd
}
