// Package hash wraps xxHash64 for checksums, value interning and cache keys.
package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// ID computes the xxHash64 of the given string.
func ID(data string) uint64 {
	return xxhash.Sum64String(data)
}

// Bytes computes the xxHash64 of data.
func Bytes(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Int64 computes the xxHash64 of the little-endian encoding of v.
func Int64(v int64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v)) //nolint: gosec

	return xxhash.Sum64(b[:])
}

// NewDigest returns a streaming xxHash64 digest used for whole-file checksums.
func NewDigest() *xxhash.Digest {
	return xxhash.New()
}
