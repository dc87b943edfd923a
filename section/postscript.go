package section

import (
	"fmt"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
)

// Postscript is the fixed 32-byte trailer of an f3 file.
//
// Layout (little-endian):
//
//	0-7   FooterOffset
//	8-11  FooterSize
//	12-15 MetadataSize   OptData + ColMetadata + Footer
//	16-23 DataChecksum   xxHash64 of every byte before the postscript
//	24    ChecksumType
//	25    reserved
//	26-27 Version        major<<8 | minor
//	28-31 Magic          "F3FF"
type Postscript struct {
	FooterOffset uint64
	FooterSize   uint32
	MetadataSize uint32
	DataChecksum uint64
	ChecksumType format.ChecksumType
	Version      uint16
}

// ParsePostscript parses the last 32 bytes of tail.
//
// Parameters:
//   - tail: Trailing bytes of the file; only the final PostscriptSize bytes are used
//
// Returns:
//   - Postscript: Parsed postscript
//   - error: ErrNotAnF3File on a short tail or bad magic, ErrUnsupportedVersion when
//     the major version is outside the supported range
func ParsePostscript(tail []byte) (Postscript, error) {
	if len(tail) < PostscriptSize {
		return Postscript{}, fmt.Errorf("%w: tail is %d bytes", errs.ErrNotAnF3File, len(tail))
	}

	data := tail[len(tail)-PostscriptSize:]
	if string(data[28:32]) != Magic {
		return Postscript{}, fmt.Errorf("%w: bad magic %q", errs.ErrNotAnF3File, data[28:32])
	}

	ps := Postscript{
		FooterOffset: engine.Uint64(data[0:8]),
		FooterSize:   engine.Uint32(data[8:12]),
		MetadataSize: engine.Uint32(data[12:16]),
		DataChecksum: engine.Uint64(data[16:24]),
		ChecksumType: format.ChecksumType(data[24]),
		Version:      engine.Uint16(data[26:28]),
	}

	major := format.MajorVersion(ps.Version)
	if major < format.MinMajorVersion || major > format.MaxMajorVersion {
		return Postscript{}, fmt.Errorf("%w: %d.%d", errs.ErrUnsupportedVersion, major, format.MinorVersion(ps.Version))
	}

	return ps, nil
}

// Bytes serializes the postscript.
func (p Postscript) Bytes() []byte {
	return p.AppendTo(make([]byte, 0, PostscriptSize))
}

// AppendTo appends the serialized postscript to dst.
func (p Postscript) AppendTo(dst []byte) []byte {
	dst = engine.AppendUint64(dst, p.FooterOffset)
	dst = engine.AppendUint32(dst, p.FooterSize)
	dst = engine.AppendUint32(dst, p.MetadataSize)
	dst = engine.AppendUint64(dst, p.DataChecksum)
	dst = append(dst, byte(p.ChecksumType), 0)
	dst = engine.AppendUint16(dst, p.Version)

	return append(dst, Magic...)
}

// MetadataOffset returns the file offset where the metadata part starts.
func (p Postscript) MetadataOffset() uint64 {
	return p.FooterOffset + uint64(p.FooterSize) - uint64(p.MetadataSize)
}

// Validate checks the postscript against the file size.
func (p Postscript) Validate(fileSize int64) error {
	if fileSize < PostscriptSize {
		return fmt.Errorf("%w: file is %d bytes", errs.ErrNotAnF3File, fileSize)
	}

	dataEnd := uint64(fileSize) - PostscriptSize //nolint: gosec
	if p.FooterOffset+uint64(p.FooterSize) != dataEnd {
		return fmt.Errorf("%w: footer [%d, +%d) does not end at postscript %d",
			errs.ErrCorruptMetadata, p.FooterOffset, p.FooterSize, dataEnd)
	}
	if uint64(p.MetadataSize) < uint64(p.FooterSize) || uint64(p.MetadataSize) > dataEnd {
		return fmt.Errorf("%w: metadata size %d out of range", errs.ErrCorruptMetadata, p.MetadataSize)
	}

	return nil
}
