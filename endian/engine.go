// Package endian provides the byte order engine and a bounds-checked cursor used by
// every binary layout in f3.
//
// All on-disk structures are little-endian:
//
//	engine := endian.GetLittleEndianEngine()
//	buf = engine.AppendUint64(buf, footerOffset)
//
// The returned EndianEngine values are immutable and safe for concurrent use.
package endian

import "encoding/binary"

// EndianEngine combines binary.ByteOrder and binary.AppendByteOrder so the same value
// can both decode fixed-size fields in place and append them to a growing buffer.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// GetLittleEndianEngine returns the little-endian engine.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the big-endian engine.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}
