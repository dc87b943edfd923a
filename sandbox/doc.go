// Package sandbox runs codecs shipped as WebAssembly modules inside a wazero runtime.
//
// A Module implements ude.Codec on top of a small ABI. The guest exports:
//
//	memory                                 linear memory shared with the host
//	alloc(size i32) -> i32                 returns a pointer, 0 on failure
//	check(meta_ptr, meta_len i32) -> i64   feature bits, negative to reject
//	init(unit_ptr, unit_len, kw_ptr, kw_len i32) -> i32   0 on success
//	decode(max_rows i32) -> i64            ptr<<32 | len of a wire batch, 0 when done, -1 on failure
//	encode(batch_ptr, batch_len, kw_ptr, kw_len i32) -> i64   optional, same packing as decode
//
// Unit metadata and kwargs cross the boundary in their MarshalBinary formats; batches
// use the ude wire format. Every decoder gets its own module instance, so a trap or a
// limit breach affects only the unit being decoded. Compiled modules are cached per
// Runtime.
package sandbox
