// Package compress provides the general purpose compressors used by f3.
//
// Compressors are applied after a column codec has produced its encoded bytes:
// the plain+zstd, plain+s2 and plain+lz4 native codecs wrap the plain wire format
// with one of these, and the writer can compress OptData entries (embedded codec
// modules) before they are stored.
//
// Supported algorithms:
//   - None: bytes are passed through unchanged
//   - Zstd: best ratio, moderate speed (klauspost/compress, or valyala/gozstd with the gozstd build tag)
//   - S2: balanced ratio and speed
//   - LZ4: fastest decompression
//
// All compressors are stateless values and safe for concurrent use. Encoders and
// decoders that carry internal state are pooled.
package compress
