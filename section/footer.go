package section

import (
	"fmt"
	"math"
	"slices"

	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/ude"
)

// RowGroup is a logical partition of rows. Its rows live in IOUnits
// [FirstIOUnit, FirstIOUnit+IOUnitCount); dictionary-only IOUnits inside that range
// carry no rows.
type RowGroup struct {
	FirstRow    uint64
	RowCount    uint64
	FirstIOUnit uint32
	IOUnitCount uint32
}

// IOUnit is a contiguous byte range written in one flush.
//
// A zero Size means the extent is unknown (legacy files); such units are never coalesced
// into a single read.
type IOUnit struct {
	Offset   uint64
	Size     uint64
	FirstRow uint64
	RowCount uint64
	Checksum uint64
}

// DictOnly reports whether the unit holds dictionaries but no rows.
func (u IOUnit) DictOnly() bool {
	return u.RowCount == 0
}

// DictEntry locates one DictUnit.
type DictEntry struct {
	DictID     uint32
	Mode       format.DictMode
	IOUnit     uint32
	Offset     uint64
	Size       uint32
	ValueCount uint32
	Codec      string
}

// ColMetaLocation locates one ColMetadata record.
type ColMetaLocation struct {
	Offset uint64
	Size   uint32
}

// OptDataEntry locates one OptData value and records how it is compressed.
type OptDataEntry struct {
	Key         string
	Offset      uint64
	Size        uint32
	Compression format.CompressionType
}

// Footer is the writer-side model of a version 2 footer.
type Footer struct {
	Columns    []ude.Column
	RowGroups  []RowGroup
	IOUnits    []IOUnit
	Dicts      []DictEntry
	ColMeta    []ColMetaLocation // row-group major: index rg*len(Columns)+col
	OptData    []OptDataEntry
	Properties map[string]string
}

func appendSection(dst []byte, tag uint16, body []byte) []byte {
	dst = engine.AppendUint16(dst, tag)
	dst = engine.AppendUint32(dst, uint32(len(body))) //nolint: gosec

	return append(dst, body...)
}

func appendString8(dst []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint8 {
		return dst, fmt.Errorf("string %q exceeds 255 bytes", s)
	}

	return append(append(dst, byte(len(s))), s...), nil
}

func appendString16(dst []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return dst, fmt.Errorf("string exceeds 65535 bytes: %d", len(s))
	}
	dst = engine.AppendUint16(dst, uint16(len(s)))

	return append(dst, s...), nil
}

// Bytes serializes the footer as tagged sections.
//
// Returns:
//   - []byte: Serialized footer
//   - error: Names or codec ids too long, or a pointer table that does not match
//     len(RowGroups) * len(Columns)
func (f *Footer) Bytes() ([]byte, error) {
	if len(f.ColMeta) != len(f.RowGroups)*len(f.Columns) {
		return nil, fmt.Errorf("col meta table has %d entries, want %d", len(f.ColMeta), len(f.RowGroups)*len(f.Columns))
	}

	var (
		out  []byte
		body []byte
		err  error
	)

	body = engine.AppendUint32(nil, uint32(len(f.Columns))) //nolint: gosec
	for _, c := range f.Columns {
		if body, err = appendString16(body, c.Name); err != nil {
			return nil, err
		}
		body = append(body, byte(c.Kind))
		if body, err = appendString8(body, c.Codec); err != nil {
			return nil, err
		}
	}
	out = appendSection(out, TagSchema, body)

	body = engine.AppendUint32(body[:0], uint32(len(f.RowGroups))) //nolint: gosec
	for _, rg := range f.RowGroups {
		body = engine.AppendUint64(body, rg.FirstRow)
		body = engine.AppendUint64(body, rg.RowCount)
		body = engine.AppendUint32(body, rg.FirstIOUnit)
		body = engine.AppendUint32(body, rg.IOUnitCount)
	}
	out = appendSection(out, TagRowGroups, body)

	body = engine.AppendUint32(body[:0], uint32(len(f.IOUnits))) //nolint: gosec
	for _, u := range f.IOUnits {
		body = engine.AppendUint64(body, u.Offset)
		body = engine.AppendUint64(body, u.Size)
		body = engine.AppendUint64(body, u.FirstRow)
		body = engine.AppendUint64(body, u.RowCount)
		body = engine.AppendUint64(body, u.Checksum)
	}
	out = appendSection(out, TagIOUnits, body)

	if len(f.Dicts) > 0 {
		body = engine.AppendUint32(body[:0], uint32(len(f.Dicts))) //nolint: gosec
		for _, d := range f.Dicts {
			body = engine.AppendUint32(body, d.DictID)
			body = append(body, byte(d.Mode))
			body = engine.AppendUint32(body, d.IOUnit)
			body = engine.AppendUint64(body, d.Offset)
			body = engine.AppendUint32(body, d.Size)
			body = engine.AppendUint32(body, d.ValueCount)
			if body, err = appendString8(body, d.Codec); err != nil {
				return nil, err
			}
		}
		out = appendSection(out, TagDicts, body)
	}

	var regionStart, regionEnd uint64
	for i, loc := range f.ColMeta {
		end := loc.Offset + uint64(loc.Size)
		if i == 0 || loc.Offset < regionStart {
			regionStart = loc.Offset
		}
		regionEnd = max(regionEnd, end)
	}
	body = engine.AppendUint64(body[:0], regionStart)
	body = engine.AppendUint64(body, regionEnd-regionStart)
	body = engine.AppendUint32(body, uint32(len(f.RowGroups))) //nolint: gosec
	body = engine.AppendUint32(body, uint32(len(f.Columns)))   //nolint: gosec
	for _, loc := range f.ColMeta {
		body = engine.AppendUint64(body, loc.Offset)
		body = engine.AppendUint32(body, loc.Size)
	}
	out = appendSection(out, TagColMeta, body)

	if len(f.OptData) > 0 {
		body = engine.AppendUint32(body[:0], uint32(len(f.OptData))) //nolint: gosec
		for _, e := range f.OptData {
			if body, err = appendString16(body, e.Key); err != nil {
				return nil, err
			}
			body = engine.AppendUint64(body, e.Offset)
			body = engine.AppendUint32(body, e.Size)
			body = append(body, byte(e.Compression))
		}
		out = appendSection(out, TagOptData, body)
	}

	if len(f.Properties) > 0 {
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		body = engine.AppendUint32(body[:0], uint32(len(keys))) //nolint: gosec
		for _, k := range keys {
			if body, err = appendString16(body, k); err != nil {
				return nil, err
			}
			v := f.Properties[k]
			body = engine.AppendUint32(body, uint32(len(v))) //nolint: gosec
			body = append(body, v...)
		}
		out = appendSection(out, TagProperties, body)
	}

	return out, nil
}
