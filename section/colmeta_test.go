package section

import (
	"testing"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/stretchr/testify/require"
)

func sampleRefs() []EncUnitRef {
	return []EncUnitRef{
		{IOUnit: 1, Offset: 64, Size: 120, FirstRow: 0, RowCount: 60, DictMode: format.SharedDict, DictID: 7},
		{IOUnit: 2, Offset: 400, Size: 90, FirstRow: 60, RowCount: 40, DictMode: format.LocalDict, DictID: 8},
	}
}

func TestColMetadata_RoundTrip(t *testing.T) {
	meta := NewColMetadata("plain+zstd", 0x3, format.KindBinary, 100, sampleRefs())
	data, err := meta.Bytes()
	require.NoError(t, err)
	require.Equal(t, uint32(len(data)-4), engine.Uint32(data))

	parsed, err := ParseColMetadata(data)
	require.NoError(t, err)
	require.Equal(t, "plain+zstd", parsed.Codec)
	require.Equal(t, uint32(0x3), parsed.Flags)
	require.Equal(t, format.KindBinary, parsed.Kind)
	require.Equal(t, uint64(100), parsed.RowCount)
	require.Equal(t, 2, parsed.NumUnits())
	require.Equal(t, sampleRefs(), parsed.Units())
	require.Equal(t, uint64(100), parsed.Unit(1).EndRow())
}

func TestColMetadata_ZeroCopy(t *testing.T) {
	data, err := NewColMetadata("plain", 0, format.KindInt64, 100, sampleRefs()).Bytes()
	require.NoError(t, err)

	parsed, err := ParseColMetadata(data)
	require.NoError(t, err)

	// Mutating the source is visible through the parsed record.
	tableStart := len(data) - 2*EncUnitRefSize
	engine.PutUint32(data[tableStart+32:], 99)
	require.Equal(t, uint32(99), parsed.Unit(0).DictID)
}

// buildRecord writes a record with a custom entry size and trailing bytes, the way a
// newer minor version could.
func buildRecord(entrySize int, refs []EncUnitRef, trailing []byte) []byte {
	body := make([]byte, 4)
	body, _ = appendString8(body, "plain")
	body = engine.AppendUint32(body, 0)
	body = append(body, byte(format.KindInt64))
	var rows uint64
	for _, r := range refs {
		rows += uint64(r.RowCount)
	}
	body = engine.AppendUint64(body, rows)
	body = engine.AppendUint16(body, uint16(entrySize))
	body = engine.AppendUint32(body, uint32(len(refs)))
	for _, r := range refs {
		body = r.appendTo(body)
		body = append(body, make([]byte, entrySize-EncUnitRefSize)...)
	}
	body = append(body, trailing...)
	engine.PutUint32(body, uint32(len(body)-4))

	return body
}

func TestColMetadata_ForwardCompatible(t *testing.T) {
	data := buildRecord(EncUnitRefSize+12, sampleRefs(), []byte("future fields"))
	data = append(data, "next record"...)

	parsed, err := ParseColMetadata(data)
	require.NoError(t, err)
	require.Equal(t, sampleRefs(), parsed.Units())
}

func TestColMetadata_Corrupt(t *testing.T) {
	valid, err := NewColMetadata("plain", 0, format.KindInt64, 100, sampleRefs()).Bytes()
	require.NoError(t, err)

	t.Run("RecordBeyondBuffer", func(t *testing.T) {
		_, err := ParseColMetadata(valid[:len(valid)-1])
		require.ErrorIs(t, err, errs.ErrCorruptMetadata)
	})

	t.Run("EntrySizeTooSmall", func(t *testing.T) {
		_, err := ParseColMetadata(buildRecord(EncUnitRefSize, nil, nil)[:0])
		require.ErrorIs(t, err, errs.ErrCorruptMetadata)

		bad := buildRecord(EncUnitRefSize, sampleRefs(), nil)
		// entry size lives after len(4) codec(1+5) flags(4) kind(1) rows(8)
		engine.PutUint16(bad[23:], 8)
		_, err = ParseColMetadata(bad)
		require.ErrorIs(t, err, errs.ErrCorruptMetadata)
	})

	t.Run("TooManyUnits", func(t *testing.T) {
		bad := append([]byte(nil), valid...)
		engine.PutUint32(bad[25:], 1000)
		_, err := ParseColMetadata(bad)
		require.ErrorIs(t, err, errs.ErrCorruptMetadata)
	})

	t.Run("RowCountMismatch", func(t *testing.T) {
		data, err := NewColMetadata("plain", 0, format.KindInt64, 99, sampleRefs()).Bytes()
		require.NoError(t, err)
		_, err = ParseColMetadata(data)
		require.ErrorIs(t, err, errs.ErrCorruptMetadata)
	})

	t.Run("GapBetweenUnits", func(t *testing.T) {
		refs := sampleRefs()
		refs[1].FirstRow = 61
		data, err := NewColMetadata("plain", 0, format.KindInt64, 100, refs).Bytes()
		require.NoError(t, err)
		_, err = ParseColMetadata(data)
		require.ErrorIs(t, err, errs.ErrCorruptMetadata)
	})
}
