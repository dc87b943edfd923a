package section

import (
	"fmt"

	"github.com/arloliu/f3/endian"
	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/ude"
)

// Directory is the read-side view of a file's footer, shared by every format version.
//
// Implementations are immutable after parsing and safe for concurrent use.
type Directory interface {
	// Version returns the packed format version.
	Version() uint16
	// Columns returns the schema in column order.
	Columns() []ude.Column
	// NumRows returns the total row count.
	NumRows() uint64
	// RowGroups returns every row group in row order.
	RowGroups() []RowGroup
	// IOUnits returns every IOUnit in file order.
	IOUnits() []IOUnit
	// Dict returns the dictionary table entry for id.
	Dict(id uint32) (DictEntry, bool)
	// ColMetaLocation returns where the ColMetadata record for (rowGroup, column) lives.
	ColMetaLocation(rowGroup, column int) (ColMetaLocation, error)
	// ColMetaRegion returns the byte range holding every ColMetadata record.
	ColMetaRegion() (offset uint64, size uint64)
	// OptData returns the OptData directory entry for key.
	OptData(key string) (OptDataEntry, bool)
	// Properties returns the free-form key/value properties.
	Properties() map[string]string
	// ParseColMetadata parses a ColMetadata record of the given column.
	ParseColMetadata(column int, data []byte) (*ColMetadata, error)
}

// ParseFooter parses footer bytes written with the given format version.
//
// Parameters:
//   - version: Packed version from the postscript
//   - data: Footer bytes; the returned Directory may retain subslices of data
//
// Returns:
//   - Directory: Version 2 view or the legacy version 1 adapter
//   - error: ErrUnsupportedVersion or ErrCorruptMetadata
func ParseFooter(version uint16, data []byte) (Directory, error) {
	switch format.MajorVersion(version) {
	case 1:
		return parseLegacyFooter(version, data)
	case 2:
		return parseFooterV2(version, data)
	default:
		return nil, fmt.Errorf("%w: major %d", errs.ErrUnsupportedVersion, format.MajorVersion(version))
	}
}

type footerV2 struct {
	version    uint16
	columns    []ude.Column
	rowGroups  []RowGroup
	ioUnits    []IOUnit
	dicts      map[uint32]DictEntry
	optData    map[string]OptDataEntry
	properties map[string]string
	numRows    uint64

	// colMetaTable is a zero-copy view of the fixed-width pointer table.
	colMetaTable  []byte
	colMetaOffset uint64
	colMetaSize   uint64
}

func corrupt(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{errs.ErrCorruptMetadata}, args...)...)
}

func parseFooterV2(version uint16, data []byte) (*footerV2, error) {
	f := &footerV2{version: version}
	seen := make(map[uint16]bool)

	c := endian.NewCursor(engine, data)
	for c.Remaining() > 0 {
		tag := c.Uint16()
		size := int(c.Uint32())
		body := c.Bytes(size)
		if c.Err() != nil {
			return nil, corrupt("footer section 0x%04x truncated", tag)
		}
		if seen[tag] {
			return nil, corrupt("duplicate footer section 0x%04x", tag)
		}
		seen[tag] = true

		var err error
		switch tag {
		case TagSchema:
			err = f.parseSchema(body)
		case TagRowGroups:
			err = f.parseRowGroups(body)
		case TagIOUnits:
			err = f.parseIOUnits(body)
		case TagDicts:
			err = f.parseDicts(body)
		case TagColMeta:
			err = f.parseColMetaTable(body)
		case TagOptData:
			err = f.parseOptData(body)
		case TagProperties:
			err = f.parseProperties(body)
		default:
			// unknown sections are skipped
		}
		if err != nil {
			return nil, err
		}
	}

	for _, tag := range []uint16{TagSchema, TagRowGroups, TagIOUnits, TagColMeta} {
		if !seen[tag] {
			return nil, corrupt("missing footer section 0x%04x", tag)
		}
	}

	return f, f.validate()
}

func (f *footerV2) parseSchema(body []byte) error {
	c := endian.NewCursor(engine, body)
	n := int(c.Uint32())
	if n > len(body) {
		return corrupt("schema claims %d columns", n)
	}

	f.columns = make([]ude.Column, n)
	for i := range f.columns {
		name := string(c.Bytes(int(c.Uint16())))
		kind := format.Kind(c.Uint8())
		codec := string(c.Bytes(int(c.Uint8())))
		if c.Err() != nil {
			return corrupt("schema truncated at column %d", i)
		}
		if !kind.IsValid() {
			return corrupt("column %q has unknown kind %d", name, kind)
		}
		f.columns[i] = ude.Column{Name: name, Kind: kind, Codec: codec}
	}

	return nil
}

func (f *footerV2) parseRowGroups(body []byte) error {
	c := endian.NewCursor(engine, body)
	n := int(c.Uint32())
	if c.Err() != nil || n*RowGroupSize > c.Remaining() {
		return corrupt("row group table truncated")
	}

	f.rowGroups = make([]RowGroup, n)
	for i := range f.rowGroups {
		f.rowGroups[i] = RowGroup{
			FirstRow:    c.Uint64(),
			RowCount:    c.Uint64(),
			FirstIOUnit: c.Uint32(),
			IOUnitCount: c.Uint32(),
		}
	}

	return nil
}

func (f *footerV2) parseIOUnits(body []byte) error {
	c := endian.NewCursor(engine, body)
	n := int(c.Uint32())
	if c.Err() != nil || n*IOUnitEntrySize > c.Remaining() {
		return corrupt("IOUnit table truncated")
	}

	f.ioUnits = make([]IOUnit, n)
	for i := range f.ioUnits {
		f.ioUnits[i] = IOUnit{
			Offset:   c.Uint64(),
			Size:     c.Uint64(),
			FirstRow: c.Uint64(),
			RowCount: c.Uint64(),
			Checksum: c.Uint64(),
		}
	}

	return nil
}

func (f *footerV2) parseDicts(body []byte) error {
	c := endian.NewCursor(engine, body)
	n := int(c.Uint32())
	if n > len(body) {
		return corrupt("dictionary table claims %d entries", n)
	}

	f.dicts = make(map[uint32]DictEntry, n)
	for range n {
		d := DictEntry{
			DictID:     c.Uint32(),
			Mode:       format.DictMode(c.Uint8()),
			IOUnit:     c.Uint32(),
			Offset:     c.Uint64(),
			Size:       c.Uint32(),
			ValueCount: c.Uint32(),
		}
		d.Codec = string(c.Bytes(int(c.Uint8())))
		if c.Err() != nil {
			return corrupt("dictionary table truncated")
		}
		if _, dup := f.dicts[d.DictID]; dup {
			return corrupt("dictionary id %d defined twice", d.DictID)
		}
		f.dicts[d.DictID] = d
	}

	return nil
}

func (f *footerV2) parseColMetaTable(body []byte) error {
	c := endian.NewCursor(engine, body)
	f.colMetaOffset = c.Uint64()
	f.colMetaSize = c.Uint64()
	numRG := int(c.Uint32())
	numCols := int(c.Uint32())
	if c.Err() != nil {
		return corrupt("col meta table header truncated")
	}

	table := c.Bytes(c.Remaining())
	if uint64(len(table)) != uint64(numRG)*uint64(numCols)*ColMetaPtrSize {
		return corrupt("col meta table is %d bytes for %dx%d records", len(table), numRG, numCols)
	}
	f.colMetaTable = table

	return nil
}

func (f *footerV2) parseOptData(body []byte) error {
	c := endian.NewCursor(engine, body)
	n := int(c.Uint32())
	if n > len(body) {
		return corrupt("OptData directory claims %d entries", n)
	}

	f.optData = make(map[string]OptDataEntry, n)
	for range n {
		e := OptDataEntry{Key: string(c.Bytes(int(c.Uint16())))}
		e.Offset = c.Uint64()
		e.Size = c.Uint32()
		e.Compression = format.CompressionType(c.Uint8())
		if c.Err() != nil {
			return corrupt("OptData directory truncated")
		}
		f.optData[e.Key] = e
	}

	return nil
}

func (f *footerV2) parseProperties(body []byte) error {
	c := endian.NewCursor(engine, body)
	n := int(c.Uint32())
	if n > len(body) {
		return corrupt("properties claim %d entries", n)
	}

	f.properties = make(map[string]string, n)
	for range n {
		k := string(c.Bytes(int(c.Uint16())))
		v := string(c.Bytes(int(c.Uint32())))
		if c.Err() != nil {
			return corrupt("properties truncated")
		}
		f.properties[k] = v
	}

	return nil
}

func (f *footerV2) validate() error {
	if len(f.colMetaTable) != len(f.rowGroups)*len(f.columns)*ColMetaPtrSize {
		return corrupt("col meta table does not match %d row groups x %d columns", len(f.rowGroups), len(f.columns))
	}

	var next uint64
	for i, rg := range f.rowGroups {
		if rg.FirstRow != next {
			return corrupt("row group %d starts at row %d, want %d", i, rg.FirstRow, next)
		}
		if uint64(rg.FirstIOUnit)+uint64(rg.IOUnitCount) > uint64(len(f.ioUnits)) {
			return corrupt("row group %d references IOUnits beyond %d", i, len(f.ioUnits))
		}
		next += rg.RowCount
	}
	f.numRows = next

	for id, d := range f.dicts {
		if int(d.IOUnit) >= len(f.ioUnits) {
			return corrupt("dictionary %d references IOUnit %d", id, d.IOUnit)
		}
	}

	return nil
}

func (f *footerV2) Version() uint16 { return f.version }
func (f *footerV2) Columns() []ude.Column { return f.columns }
func (f *footerV2) NumRows() uint64 { return f.numRows }
func (f *footerV2) RowGroups() []RowGroup { return f.rowGroups }
func (f *footerV2) IOUnits() []IOUnit { return f.ioUnits }
func (f *footerV2) Properties() map[string]string { return f.properties }
func (f *footerV2) ColMetaRegion() (uint64, uint64) { return f.colMetaOffset, f.colMetaSize }

func (f *footerV2) Dict(id uint32) (DictEntry, bool) {
	d, ok := f.dicts[id]
	return d, ok
}

func (f *footerV2) OptData(key string) (OptDataEntry, bool) {
	e, ok := f.optData[key]
	return e, ok
}

func (f *footerV2) ColMetaLocation(rowGroup, column int) (ColMetaLocation, error) {
	if rowGroup < 0 || rowGroup >= len(f.rowGroups) || column < 0 || column >= len(f.columns) {
		return ColMetaLocation{}, corrupt("col meta (%d, %d) out of range", rowGroup, column)
	}

	off := (rowGroup*len(f.columns) + column) * ColMetaPtrSize
	entry := f.colMetaTable[off : off+ColMetaPtrSize]

	return ColMetaLocation{Offset: engine.Uint64(entry), Size: engine.Uint32(entry[8:])}, nil
}

func (f *footerV2) ParseColMetadata(column int, data []byte) (*ColMetadata, error) {
	meta, err := ParseColMetadata(data)
	if err != nil {
		return nil, err
	}
	if column >= 0 && column < len(f.columns) && meta.Kind != f.columns[column].Kind {
		return nil, corrupt("column %q metadata has kind %s, schema says %s",
			f.columns[column].Name, meta.Kind, f.columns[column].Kind)
	}

	return meta, nil
}
