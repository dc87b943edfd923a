package ude

import (
	"testing"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/stretchr/testify/require"
)

func TestKwargs_MarshalRoundTrip(t *testing.T) {
	kw := Kwargs{
		KwargRangeStart: Int(10),
		KwargRangeEnd:   Int(20),
		"ratio":         Float(0.25),
		"strict":        Bool(true),
		"mode":          String("fast"),
	}

	data, err := kw.MarshalBinary()
	require.NoError(t, err)

	again, err := kw.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, data, again, "encoding must be deterministic")

	out, err := UnmarshalKwargs(data)
	require.NoError(t, err)
	require.Equal(t, kw, out)

	f, ok := out["ratio"].Float()
	require.True(t, ok)
	require.InDelta(t, 0.25, f, 0)
	b, ok := out["strict"].Bool()
	require.True(t, ok)
	require.True(t, b)
	s, ok := out["mode"].Str()
	require.True(t, ok)
	require.Equal(t, "fast", s)
	require.Equal(t, ValueString, out["mode"].Kind())
}

func TestKwargs_Empty(t *testing.T) {
	data, err := Kwargs(nil).MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, data)

	out, err := UnmarshalKwargs(data)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestKwargs_Corrupt(t *testing.T) {
	data, err := Kwargs{"k": String("value")}.MarshalBinary()
	require.NoError(t, err)

	_, err = UnmarshalKwargs(data[:len(data)-2])
	require.ErrorIs(t, err, errs.ErrInvalidBatch)

	bad := append([]byte(nil), data...)
	bad[4+2+1] = 0x7F
	_, err = UnmarshalKwargs(bad)
	require.ErrorIs(t, err, errs.ErrInvalidBatch)
}

func TestKwargs_RowRange(t *testing.T) {
	tests := []struct {
		name       string
		kw         Kwargs
		start, end int
	}{
		{"Absent", nil, 0, 100},
		{"Both", Kwargs{KwargRangeStart: Int(10), KwargRangeEnd: Int(20)}, 10, 20},
		{"Clamped", Kwargs{KwargRangeStart: Int(-5), KwargRangeEnd: Int(500)}, 0, 100},
		{"Inverted", Kwargs{KwargRangeStart: Int(50), KwargRangeEnd: Int(10)}, 50, 50},
		{"WrongKindIgnored", Kwargs{KwargRangeStart: String("3")}, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.kw.RowRange(100)
			require.Equal(t, tt.start, start)
			require.Equal(t, tt.end, end)
		})
	}
}

func TestUnitMetadata_RoundTrip(t *testing.T) {
	meta := UnitMetadata{CodecID: "custom.v1", Kind: format.KindBinary, RowCount: 1234, DictMode: format.SharedDict}
	data, err := meta.MarshalBinary()
	require.NoError(t, err)

	out, err := UnmarshalUnitMetadata(data)
	require.NoError(t, err)
	require.Equal(t, meta, out)

	_, err = UnmarshalUnitMetadata(data[:5])
	require.ErrorIs(t, err, errs.ErrInvalidBatch)
}

func TestFeatureSet_Has(t *testing.T) {
	fs := FeatureSet(format.FeatureRangeDecode)
	require.True(t, fs.Has(format.FeatureRangeDecode))
	require.False(t, fs.Has(format.FeatureBatchSize))
	require.False(t, fs.Has(format.FeatureRangeDecode|format.FeatureBatchSize))
}
