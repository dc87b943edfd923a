package ude

import (
	"testing"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/stretchr/testify/require"
)

func TestBatch_Basics(t *testing.T) {
	t.Run("Len", func(t *testing.T) {
		require.Equal(t, 3, NewInt64Batch([]int64{1, 2, 3}).Len())
		require.Equal(t, 2, NewFloat64Batch([]float64{1, 2}).Len())
		require.Equal(t, 1, NewStringBatch("a").Len())
		require.Equal(t, 0, (*Batch)(nil).Len())
	})

	t.Run("ByteSize", func(t *testing.T) {
		require.Equal(t, 24, NewInt64Batch([]int64{1, 2, 3}).ByteSize())
		require.Equal(t, 4+3+4+2, NewStringBatch("abc", "de").ByteSize())
	})

	t.Run("SliceSharesMemory", func(t *testing.T) {
		b := NewInt64Batch([]int64{10, 20, 30, 40})
		s := b.Slice(1, 3)
		require.Equal(t, []int64{20, 30}, s.Int64s)
		require.Same(t, &b.Int64s[1], &s.Int64s[0])

		// Appending to a slice must not clobber the parent.
		require.NoError(t, s.Append(NewInt64Batch([]int64{99})))
		require.Equal(t, int64(40), b.Int64s[3])
	})

	t.Run("AppendKindMismatch", func(t *testing.T) {
		b := NewInt64Batch([]int64{1})
		err := b.Append(NewFloat64Batch([]float64{1}))
		require.ErrorIs(t, err, errs.ErrInvalidBatch)
	})

	t.Run("CloneIsDeep", func(t *testing.T) {
		b := NewStringBatch("x", "yz")
		c := b.Clone()
		b.Binaries[1][0] = 'Q'
		require.Equal(t, []byte("yz"), c.Binaries[1])
		require.True(t, NewStringBatch("x", "yz").Equal(c))
	})
}

func TestBatch_Validate(t *testing.T) {
	require.NoError(t, NewInt64Batch(nil).Validate())
	require.ErrorIs(t, (*Batch)(nil).Validate(), errs.ErrInvalidBatch)
	require.ErrorIs(t, (&Batch{Kind: format.KindInvalid}).Validate(), errs.ErrInvalidBatch)
	require.ErrorIs(t, (&Batch{Kind: format.KindInt64, Float64s: []float64{1}}).Validate(), errs.ErrInvalidBatch)
}

func TestBatch_Equal(t *testing.T) {
	tests := []struct {
		name  string
		a, b  *Batch
		equal bool
	}{
		{"SameInts", NewInt64Batch([]int64{1, 2}), NewInt64Batch([]int64{1, 2}), true},
		{"DifferentInts", NewInt64Batch([]int64{1, 2}), NewInt64Batch([]int64{1, 3}), false},
		{"DifferentLength", NewInt64Batch([]int64{1}), NewInt64Batch([]int64{1, 2}), false},
		{"DifferentKind", NewInt64Batch([]int64{1}), NewFloat64Batch([]float64{1}), false},
		{"EmptySameKind", EmptyBatch(format.KindBinary), NewBinaryBatch(nil), true},
		{"Strings", NewStringBatch("a", "b"), NewStringBatch("a", "b"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.equal, tt.a.Equal(tt.b))
		})
	}
}
