package section

import (
	"github.com/arloliu/f3/endian"
	"github.com/arloliu/f3/format"
)

// EncUnitRef locates one encoding unit.
//
// On-disk entry (36 bytes, little-endian):
//
//	0-3   IOUnit    index into the footer IOUnit table
//	4-11  Offset    absolute file offset
//	12-15 Size
//	16-23 FirstRow  absolute row number
//	24-27 RowCount
//	28    DictMode
//	29-31 reserved
//	32-35 DictID    meaningful when DictMode is not NoDict
type EncUnitRef struct {
	IOUnit   uint32
	Offset   uint64
	Size     uint32
	FirstRow uint64
	RowCount uint32
	DictMode format.DictMode
	DictID   uint32
}

// EndRow returns the row after the last row covered by the unit.
func (r EncUnitRef) EndRow() uint64 {
	return r.FirstRow + uint64(r.RowCount)
}

func (r EncUnitRef) appendTo(dst []byte) []byte {
	dst = engine.AppendUint32(dst, r.IOUnit)
	dst = engine.AppendUint64(dst, r.Offset)
	dst = engine.AppendUint32(dst, r.Size)
	dst = engine.AppendUint64(dst, r.FirstRow)
	dst = engine.AppendUint32(dst, r.RowCount)
	dst = append(dst, byte(r.DictMode), 0, 0, 0)

	return engine.AppendUint32(dst, r.DictID)
}

func parseEncUnitRef(entry []byte) EncUnitRef {
	return EncUnitRef{
		IOUnit:   engine.Uint32(entry[0:4]),
		Offset:   engine.Uint64(entry[4:12]),
		Size:     engine.Uint32(entry[12:16]),
		FirstRow: engine.Uint64(entry[16:24]),
		RowCount: engine.Uint32(entry[24:28]),
		DictMode: format.DictMode(entry[28]),
		DictID:   engine.Uint32(entry[32:36]),
	}
}

// ColMetadata describes one column within one row group.
//
// Parsed records keep a view of the unit table inside the source bytes and decode
// entries on access.
type ColMetadata struct {
	Codec    string
	Flags    uint32
	Kind     format.Kind
	RowCount uint64

	unitTable []byte
	entrySize int
	refs      []EncUnitRef
}

// NewColMetadata creates a record from explicit unit references.
func NewColMetadata(codec string, flags uint32, kind format.Kind, rowCount uint64, refs []EncUnitRef) *ColMetadata {
	return &ColMetadata{Codec: codec, Flags: flags, Kind: kind, RowCount: rowCount, refs: refs}
}

// NumUnits returns the number of encoding units.
func (m *ColMetadata) NumUnits() int {
	if m.refs != nil {
		return len(m.refs)
	}
	if m.entrySize == 0 {
		return 0
	}

	return len(m.unitTable) / m.entrySize
}

// Unit returns the i-th encoding unit reference.
func (m *ColMetadata) Unit(i int) EncUnitRef {
	if m.refs != nil {
		return m.refs[i]
	}

	return parseEncUnitRef(m.unitTable[i*m.entrySize:])
}

// Units returns all encoding unit references.
func (m *ColMetadata) Units() []EncUnitRef {
	out := make([]EncUnitRef, m.NumUnits())
	for i := range out {
		out[i] = m.Unit(i)
	}

	return out
}

// Bytes serializes the record in the version 2 layout:
//
//	record_len u32 | codec_len u8 | codec | flags u32 | kind u8 | row_count u64 |
//	entry_size u16 | num_units u32 | entries
//
// record_len counts the bytes after itself.
func (m *ColMetadata) Bytes() ([]byte, error) {
	n := m.NumUnits()
	body := make([]byte, 4, 4+1+len(m.Codec)+19+n*EncUnitRefSize)

	var err error
	if body, err = appendString8(body, m.Codec); err != nil {
		return nil, err
	}
	body = engine.AppendUint32(body, m.Flags)
	body = append(body, byte(m.Kind))
	body = engine.AppendUint64(body, m.RowCount)
	body = engine.AppendUint16(body, EncUnitRefSize)
	body = engine.AppendUint32(body, uint32(n)) //nolint: gosec
	for i := range n {
		body = m.Unit(i).appendTo(body)
	}
	engine.PutUint32(body, uint32(len(body)-4)) //nolint: gosec

	return body, nil
}

// ParseColMetadata parses a version 2 ColMetadata record without copying the unit table.
//
// Parameters:
//   - data: Record bytes; bytes beyond record_len are ignored
//
// Returns:
//   - *ColMetadata: Parsed record referencing data
//   - error: ErrCorruptMetadata on any bounds violation
func ParseColMetadata(data []byte) (*ColMetadata, error) {
	c := endian.NewCursor(engine, data)
	recordLen := int(c.Uint32())
	record := c.Bytes(recordLen)
	if c.Err() != nil {
		return nil, corrupt("col metadata record of %d bytes exceeds %d available", recordLen, len(data))
	}

	c = endian.NewCursor(engine, record)
	m := &ColMetadata{}
	m.Codec = string(c.Bytes(int(c.Uint8())))
	m.Flags = c.Uint32()
	m.Kind = format.Kind(c.Uint8())
	m.RowCount = c.Uint64()
	entrySize := int(c.Uint16())
	numUnits := int(c.Uint32())
	if c.Err() != nil {
		return nil, corrupt("col metadata header truncated")
	}
	if !m.Kind.IsValid() {
		return nil, corrupt("col metadata has unknown kind %d", m.Kind)
	}
	if entrySize < EncUnitRefSize {
		return nil, corrupt("unit entry size %d below %d", entrySize, EncUnitRefSize)
	}
	if numUnits > c.Remaining()/entrySize {
		return nil, corrupt("%d unit entries of %d bytes exceed record", numUnits, entrySize)
	}

	m.entrySize = entrySize
	m.unitTable = c.Bytes(numUnits * entrySize)

	var rows uint64
	for i := range numUnits {
		ref := m.Unit(i)
		if i > 0 && ref.FirstRow != m.Unit(i-1).EndRow() {
			return nil, corrupt("unit %d starts at row %d, previous ends at %d", i, ref.FirstRow, m.Unit(i-1).EndRow())
		}
		rows += uint64(ref.RowCount)
	}
	if rows != m.RowCount {
		return nil, corrupt("units cover %d rows, record says %d", rows, m.RowCount)
	}

	return m, nil
}
