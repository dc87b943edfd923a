// Package codec implements the native execution backend: UDE codecs compiled into the
// host process.
//
// Built-in codecs:
//   - plain: the canonical wire format, supports range decode and batch size
//   - plain+zstd, plain+s2, plain+lz4: plain followed by a general purpose compressor
//   - delta: delta-of-delta zigzag varint encoding for int64 columns
//   - gorilla: XOR bit packing for float64 columns
//
// DefaultRegistry returns the process-wide registry holding all of them. NewRegistry
// returns a fresh registry with the same built-ins for callers that want to add their own
// codecs without affecting other users of the default.
package codec
