// Package ude defines the user-defined encoding (UDE) contract shared by every f3 codec.
//
// A codec turns a Batch of values into opaque encoding-unit bytes and back. The same
// contract is implemented by native Go codecs (package codec) and by WebAssembly modules
// embedded in the file (package sandbox); the reader and writer cannot tell them apart.
//
// # Lifecycle
//
//	features, err := c.Check(meta)          // once per codec and column
//	dec, err := c.Init(ctx, unitBytes, kw)  // once per encoding unit
//	for {
//	    batch, err := dec.Decode(ctx)       // nil batch means the unit is exhausted
//	    ...
//	}
//	dec.Close()
//
// # Wire format
//
// Batches cross the sandbox boundary, and are stored by the plain codec, in a canonical
// little-endian layout:
//
//	kind u8 | count u32 | payload
//
// Int64 and Float64 payloads are count 8-byte values. Binary payloads are count+1 u32
// offsets followed by the concatenated value bytes.
package ude
