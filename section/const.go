package section

import "github.com/arloliu/f3/endian"

// Magic is stored in the last four bytes of every f3 file.
const Magic = "F3FF"

const (
	PostscriptSize  = 32 // fixed postscript size at EOF-32
	EncUnitRefSize  = 36 // known size of one EncUnitRef entry in a ColMetadata record
	ColMetaPtrSize  = 12 // offset u64 + size u32
	RowGroupSize    = 24 // firstRow u64, rowCount u64, firstIOUnit u32, ioUnitCount u32
	IOUnitEntrySize = 40 // offset, size, firstRow, rowCount, checksum (all u64)
	TagHeaderSize   = 6  // tag u16 + length u32
)

// Footer section tags.
const (
	TagSchema     uint16 = 0x0001
	TagRowGroups  uint16 = 0x0002
	TagIOUnits    uint16 = 0x0003
	TagDicts      uint16 = 0x0004
	TagColMeta    uint16 = 0x0005
	TagOptData    uint16 = 0x0006
	TagProperties uint16 = 0x0007
)

// OptDataCodecPrefix prefixes the OptData key of an embedded codec module.
const OptDataCodecPrefix = "codec:"

// CodecKey returns the OptData key holding the module for codec id.
func CodecKey(id string) string {
	return OptDataCodecPrefix + id
}

var engine = endian.GetLittleEndianEngine()
