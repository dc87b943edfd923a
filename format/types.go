// Package format defines the enumerations shared by every layer of the f3 file format.
package format

type (
	// Kind is the physical value type of a column and of every batch that flows through a codec.
	Kind uint8
	// DictMode is the dictionary scope recorded for an encoding unit.
	DictMode uint8
	// CompressionType identifies a general purpose compressor.
	CompressionType uint8
	// ChecksumType identifies the checksum algorithm recorded in the postscript.
	ChecksumType uint8
	// Feature is a single optional codec capability bit.
	Feature uint32
)

const (
	KindInvalid Kind = 0x0
	KindInt64   Kind = 0x1 // KindInt64 stores signed 64-bit integers.
	KindFloat64 Kind = 0x2 // KindFloat64 stores IEEE-754 doubles.
	KindBinary  Kind = 0x3 // KindBinary stores variable-length byte strings.

	NoDict     DictMode = 0x0 // NoDict means the unit carries plain values.
	LocalDict  DictMode = 0x1 // LocalDict means the dictionary lives in the same IOUnit.
	SharedDict DictMode = 0x2 // SharedDict means the dictionary lives in an earlier IOUnit.

	CompressionNone CompressionType = 0x1 // CompressionNone represents no compression.
	CompressionZstd CompressionType = 0x2 // CompressionZstd represents Zstandard compression.
	CompressionS2   CompressionType = 0x3 // CompressionS2 represents S2 compression.
	CompressionLZ4  CompressionType = 0x4 // CompressionLZ4 represents LZ4 compression.

	ChecksumNone   ChecksumType = 0x0
	ChecksumXxHash ChecksumType = 0x1 // ChecksumXxHash is xxHash64 over the covered bytes.
)

const (
	// FeatureRangeDecode means the decoder honors the range.start/range.end kwargs.
	FeatureRangeDecode Feature = 1 << 0
	// FeatureBatchSize means the decoder honors the batch_size kwarg and may return several batches.
	FeatureBatchSize Feature = 1 << 1
)

// Format versions are encoded as major<<8 | minor.
const (
	VersionV1 uint16 = 0x0100 // VersionV1 is the legacy layout without dictionaries or checksums.
	VersionV2 uint16 = 0x0200 // VersionV2 is the current layout.

	CurrentVersion  = VersionV2
	MinMajorVersion = 1
	MaxMajorVersion = 2
)

// MajorVersion extracts the major component of a packed version.
func MajorVersion(v uint16) uint8 {
	return uint8(v >> 8)
}

// MinorVersion extracts the minor component of a packed version.
func MinorVersion(v uint16) uint8 {
	return uint8(v & 0xFF) //nolint: gosec
}

func (k Kind) String() string {
	switch k {
	case KindInt64:
		return "Int64"
	case KindFloat64:
		return "Float64"
	case KindBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	return k == KindInt64 || k == KindFloat64 || k == KindBinary
}

// DictEligible reports whether columns of kind k may be dictionary encoded.
func (k Kind) DictEligible() bool {
	return k == KindInt64 || k == KindBinary
}

func (m DictMode) String() string {
	switch m {
	case NoDict:
		return "NoDict"
	case LocalDict:
		return "Local"
	case SharedDict:
		return "Shared"
	default:
		return "Unknown"
	}
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZstd:
		return "Zstd"
	case CompressionS2:
		return "S2"
	case CompressionLZ4:
		return "LZ4"
	default:
		return "Unknown"
	}
}

func (c ChecksumType) String() string {
	switch c {
	case ChecksumNone:
		return "None"
	case ChecksumXxHash:
		return "XxHash"
	default:
		return "Unknown"
	}
}
