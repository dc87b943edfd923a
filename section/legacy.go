package section

import (
	"github.com/arloliu/f3/endian"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/ude"
)

// Version 1 layout.
//
// Footer:
//
//	num_cols u32 | columns (name_len u16, name, kind u8, codec_len u8, codec) |
//	num_row_groups u32 | row groups (first_row u64, row_count u64) |
//	col meta pointers, row-group major (offset u64, size u32)
//
// ColMetadata:
//
//	row_count u64 | num_units u32 | units (offset u64, size u32, first_row u64, row_count u32)
//
// Version 1 has no IOUnit table, dictionaries, OptData or checksums. The adapter exposes
// each row group as one IOUnit of unknown extent.
const legacyUnitSize = 24

// LegacyRowGroup is a version 1 row group.
type LegacyRowGroup struct {
	FirstRow uint64
	RowCount uint64
}

// LegacyUnit is a version 1 encoding unit reference.
type LegacyUnit struct {
	Offset   uint64
	Size     uint32
	FirstRow uint64
	RowCount uint32
}

// LegacyFooter is the version 1 footer model, kept to produce compatibility fixtures.
type LegacyFooter struct {
	Columns   []ude.Column
	RowGroups []LegacyRowGroup
	ColMeta   []ColMetaLocation
}

// Bytes serializes a version 1 footer.
func (f *LegacyFooter) Bytes() ([]byte, error) {
	out := engine.AppendUint32(nil, uint32(len(f.Columns))) //nolint: gosec

	var err error
	for _, c := range f.Columns {
		if out, err = appendString16(out, c.Name); err != nil {
			return nil, err
		}
		out = append(out, byte(c.Kind))
		if out, err = appendString8(out, c.Codec); err != nil {
			return nil, err
		}
	}

	out = engine.AppendUint32(out, uint32(len(f.RowGroups))) //nolint: gosec
	for _, rg := range f.RowGroups {
		out = engine.AppendUint64(out, rg.FirstRow)
		out = engine.AppendUint64(out, rg.RowCount)
	}
	for _, loc := range f.ColMeta {
		out = engine.AppendUint64(out, loc.Offset)
		out = engine.AppendUint32(out, loc.Size)
	}

	return out, nil
}

// LegacyColMetadataBytes serializes a version 1 ColMetadata record.
func LegacyColMetadataBytes(rowCount uint64, units []LegacyUnit) []byte {
	out := engine.AppendUint64(nil, rowCount)
	out = engine.AppendUint32(out, uint32(len(units))) //nolint: gosec
	for _, u := range units {
		out = engine.AppendUint64(out, u.Offset)
		out = engine.AppendUint32(out, u.Size)
		out = engine.AppendUint64(out, u.FirstRow)
		out = engine.AppendUint32(out, u.RowCount)
	}

	return out
}

type legacyFooter struct {
	version   uint16
	columns   []ude.Column
	rowGroups []RowGroup
	ioUnits   []IOUnit
	numRows   uint64
	colMeta   []byte
	region    [2]uint64
}

func parseLegacyFooter(version uint16, data []byte) (*legacyFooter, error) {
	f := &legacyFooter{version: version}
	c := endian.NewCursor(engine, data)

	numCols := int(c.Uint32())
	if numCols > len(data) {
		return nil, corrupt("legacy footer claims %d columns", numCols)
	}
	f.columns = make([]ude.Column, numCols)
	for i := range f.columns {
		name := string(c.Bytes(int(c.Uint16())))
		kind := format.Kind(c.Uint8())
		codec := string(c.Bytes(int(c.Uint8())))
		if c.Err() != nil {
			return nil, corrupt("legacy schema truncated at column %d", i)
		}
		if !kind.IsValid() {
			return nil, corrupt("legacy column %q has unknown kind %d", name, kind)
		}
		f.columns[i] = ude.Column{Name: name, Kind: kind, Codec: codec}
	}

	numRG := int(c.Uint32())
	if c.Err() != nil || numRG*16 > c.Remaining() {
		return nil, corrupt("legacy row groups truncated")
	}
	f.rowGroups = make([]RowGroup, numRG)
	f.ioUnits = make([]IOUnit, numRG)
	for i := range f.rowGroups {
		first, count := c.Uint64(), c.Uint64()
		if first != f.numRows {
			return nil, corrupt("legacy row group %d starts at row %d, want %d", i, first, f.numRows)
		}
		f.rowGroups[i] = RowGroup{FirstRow: first, RowCount: count, FirstIOUnit: uint32(i), IOUnitCount: 1} //nolint: gosec
		f.ioUnits[i] = IOUnit{FirstRow: first, RowCount: count}
		f.numRows += count
	}

	tableSize := numRG * numCols * ColMetaPtrSize
	if c.Remaining() != tableSize {
		return nil, corrupt("legacy col meta table is %d bytes, want %d", c.Remaining(), tableSize)
	}
	f.colMeta = c.Bytes(tableSize)

	for i := 0; i < numRG*numCols; i++ {
		entry := f.colMeta[i*ColMetaPtrSize:]
		off, size := engine.Uint64(entry), uint64(engine.Uint32(entry[8:]))
		if i == 0 || off < f.region[0] {
			f.region[0] = off
		}
		f.region[1] = max(f.region[1], off+size)
	}
	f.region[1] -= f.region[0]

	return f, nil
}

func (f *legacyFooter) Version() uint16 { return f.version }
func (f *legacyFooter) Columns() []ude.Column { return f.columns }
func (f *legacyFooter) NumRows() uint64 { return f.numRows }
func (f *legacyFooter) RowGroups() []RowGroup { return f.rowGroups }
func (f *legacyFooter) IOUnits() []IOUnit { return f.ioUnits }
func (f *legacyFooter) Properties() map[string]string { return nil }
func (f *legacyFooter) ColMetaRegion() (uint64, uint64) { return f.region[0], f.region[1] }
func (f *legacyFooter) Dict(uint32) (DictEntry, bool) { return DictEntry{}, false }
func (f *legacyFooter) OptData(string) (OptDataEntry, bool) { return OptDataEntry{}, false }

func (f *legacyFooter) ColMetaLocation(rowGroup, column int) (ColMetaLocation, error) {
	if rowGroup < 0 || rowGroup >= len(f.rowGroups) || column < 0 || column >= len(f.columns) {
		return ColMetaLocation{}, corrupt("col meta (%d, %d) out of range", rowGroup, column)
	}

	entry := f.colMeta[(rowGroup*len(f.columns)+column)*ColMetaPtrSize:]

	return ColMetaLocation{Offset: engine.Uint64(entry), Size: engine.Uint32(entry[8:])}, nil
}

// ParseColMetadata maps a version 1 record onto ColMetadata. Codec and kind come from
// the schema, every unit is NoDict and belongs to the IOUnit of its row group.
func (f *legacyFooter) ParseColMetadata(column int, data []byte) (*ColMetadata, error) {
	if column < 0 || column >= len(f.columns) {
		return nil, corrupt("legacy column %d out of range", column)
	}

	c := endian.NewCursor(engine, data)
	rowCount := c.Uint64()
	n := int(c.Uint32())
	if c.Err() != nil || n*legacyUnitSize > c.Remaining() {
		return nil, corrupt("legacy col metadata truncated")
	}

	refs := make([]EncUnitRef, n)
	var rows uint64
	for i := range refs {
		refs[i] = EncUnitRef{
			Offset:   c.Uint64(),
			Size:     c.Uint32(),
			FirstRow: c.Uint64(),
			RowCount: c.Uint32(),
			DictMode: format.NoDict,
		}
		refs[i].IOUnit = f.rowGroupOf(refs[i].FirstRow)
		if i > 0 && refs[i].FirstRow != refs[i-1].EndRow() {
			return nil, corrupt("legacy unit %d is not contiguous", i)
		}
		rows += uint64(refs[i].RowCount)
	}
	if rows != rowCount {
		return nil, corrupt("legacy units cover %d rows, record says %d", rows, rowCount)
	}

	col := f.columns[column]

	return NewColMetadata(col.Codec, 0, col.Kind, rowCount, refs), nil
}

func (f *legacyFooter) rowGroupOf(row uint64) uint32 {
	for i, rg := range f.rowGroups {
		if row < rg.FirstRow+rg.RowCount {
			return uint32(i) //nolint: gosec
		}
	}

	return uint32(len(f.rowGroups)) //nolint: gosec
}
