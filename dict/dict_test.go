package dict

import (
	"fmt"
	"testing"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/ude"
	"github.com/stretchr/testify/require"
)

func cycleStrings(rows, distinct int) *ude.Batch {
	values := make([]string, rows)
	for i := range values {
		values[i] = fmt.Sprintf("city-%02d", i%distinct)
	}

	return ude.NewStringBatch(values...)
}

func TestPolicies(t *testing.T) {
	low := ColumnStats{Rows: 1000, Distinct: 10}
	mid := ColumnStats{Rows: 1000, Distinct: 300}
	high := ColumnStats{Rows: 1000, Distinct: 990}

	tests := []struct {
		name   string
		policy Policy
		stats  ColumnStats
		state  PendingUnitState
		want   format.DictMode
	}{
		{"NoDict", NoDictPolicy{}, low, PendingUnitState{}, format.NoDict},
		{"LocalLow", LocalPolicy{MaxCardinalityRatio: 0.5}, low, PendingUnitState{}, format.LocalDict},
		{"LocalHigh", LocalPolicy{MaxCardinalityRatio: 0.5}, high, PendingUnitState{}, format.NoDict},
		{"SharedFits", SharedPolicy{MaxDictSize: 100, MaxCardinalityRatio: 0.5}, low, PendingUnitState{SharedValues: 50, UncoveredValues: 10}, format.SharedDict},
		{"SharedOverflowsToLocal", SharedPolicy{MaxDictSize: 55, MaxCardinalityRatio: 0.5}, low, PendingUnitState{SharedValues: 50, UncoveredValues: 10}, format.LocalDict},
		{"SharedHighCardinality", SharedPolicy{MaxDictSize: 5000, MaxCardinalityRatio: 0.5}, high, PendingUnitState{}, format.NoDict},
		{"AutoLow", DefaultPolicy(), low, PendingUnitState{UncoveredValues: 10}, format.SharedDict},
		{"AutoMid", DefaultPolicy(), mid, PendingUnitState{UncoveredValues: 300}, format.LocalDict},
		{"AutoHigh", DefaultPolicy(), high, PendingUnitState{}, format.NoDict},
		{"AutoEmpty", DefaultPolicy(), ColumnStats{}, PendingUnitState{}, format.NoDict},
		{"Func", PolicyFunc(func(ColumnStats, PendingUnitState) Scope { return Scope{Mode: format.LocalDict} }), high, PendingUnitState{}, format.LocalDict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.policy.DecideScope(tt.stats, tt.state).Mode)
		})
	}
}

func TestInterner(t *testing.T) {
	b := ude.NewStringBatch("a", "b", "a", "c", "b")
	in := NewInterner(format.KindBinary)

	var codes []int32
	for i := range b.Len() {
		code, _ := in.Intern(b, i)
		codes = append(codes, code)
	}
	require.Equal(t, []int32{0, 1, 0, 2, 1}, codes)
	require.Equal(t, 3, in.Len())
	require.Equal(t, 3, in.ValueBytes())
	require.True(t, ude.NewStringBatch("a", "b", "c").Equal(in.Values()))

	// Interned values are copies of the input.
	b.Binaries[0][0] = 'z'
	require.Equal(t, []byte("a"), in.Values().Binaries[0])

	clone := in.Clone()
	code, added := clone.Intern(ude.NewStringBatch("d"), 0)
	require.True(t, added)
	require.Equal(t, int32(3), code)
	require.Equal(t, 3, in.Len())

	_, ok := in.Find(ude.NewStringBatch("d"), 0)
	require.False(t, ok)
}

func TestManager_SharedReuse(t *testing.T) {
	m := NewManager(SharedPolicy{MaxDictSize: 100, MaxCardinalityRatio: 0.5})

	first, err := m.Plan(0, cycleStrings(1000, 50), 0)
	require.NoError(t, err)
	require.Equal(t, format.SharedDict, first.Mode)
	require.True(t, first.Emit)
	require.Equal(t, 50, first.Dict.Len())

	second, err := m.Plan(0, cycleStrings(1000, 50), 2)
	require.NoError(t, err)
	require.False(t, second.Emit, "covered chunk must reuse the emitted dictionary")
	require.Equal(t, first.Dict.ID, second.Dict.ID)
	require.Equal(t, first.Codes.Int64s, second.Codes.Int64s)
}

func TestManager_SharedSuccessorKeepsCodes(t *testing.T) {
	m := NewManager(SharedPolicy{MaxDictSize: 100, MaxCardinalityRatio: 1})

	first, err := m.Plan(0, ude.NewStringBatch("x", "y", "x"), 0)
	require.NoError(t, err)

	second, err := m.Plan(0, ude.NewStringBatch("y", "z", "x"), 1)
	require.NoError(t, err)
	require.True(t, second.Emit)
	require.NotEqual(t, first.Dict.ID, second.Dict.ID)
	require.True(t, ude.NewStringBatch("x", "y", "z").Equal(second.Dict.Values()))
	require.Equal(t, []int64{1, 2, 0}, second.Codes.Int64s)

	// The predecessor is frozen and retired from the arena.
	require.Equal(t, 2, first.Dict.Len())
	_, ok := m.Lookup(first.Dict.ID)
	require.False(t, ok)
	_, ok = m.Lookup(second.Dict.ID)
	require.True(t, ok)
}

func TestManager_LocalAndRelease(t *testing.T) {
	m := NewManager(LocalPolicy{MaxCardinalityRatio: 0.5})

	a, err := m.Plan(3, ude.NewInt64Batch([]int64{7, 7, 9, 9}), 0)
	require.NoError(t, err)
	require.Equal(t, format.LocalDict, a.Mode)
	require.True(t, a.Emit)
	require.Equal(t, []int64{0, 0, 1, 1}, a.Codes.Int64s)
	require.Equal(t, []int64{7, 9}, a.Dict.Values().Int64s)

	b, err := m.Plan(3, ude.NewInt64Batch([]int64{7, 7}), 1)
	require.NoError(t, err)
	require.NotEqual(t, a.Dict.ID, b.Dict.ID, "local dictionaries are never shared")

	m.Release(a.Dict)
	_, ok := m.Lookup(a.Dict.ID)
	require.False(t, ok)
}

func TestManager_Ineligible(t *testing.T) {
	m := NewManager(PolicyFunc(func(ColumnStats, PendingUnitState) Scope { return Scope{Mode: format.SharedDict} }))

	a, err := m.Plan(0, ude.NewFloat64Batch([]float64{1, 1, 1}), 0)
	require.NoError(t, err)
	require.Equal(t, format.NoDict, a.Mode)

	a, err = m.Plan(0, ude.NewInt64Batch(nil), 0)
	require.NoError(t, err)
	require.Equal(t, format.NoDict, a.Mode)

	_, err = m.Plan(0, &ude.Batch{Kind: format.KindInvalid}, 0)
	require.ErrorIs(t, err, errs.ErrInvalidBatch)

	bad := NewManager(PolicyFunc(func(ColumnStats, PendingUnitState) Scope { return Scope{Mode: 9} }))
	_, err = bad.Plan(0, ude.NewInt64Batch([]int64{1}), 0)
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	values := ude.NewStringBatch("a", "b", "c")

	out, err := Apply(values, ude.NewInt64Batch([]int64{2, 0, 0, 1}))
	require.NoError(t, err)
	require.True(t, ude.NewStringBatch("c", "a", "a", "b").Equal(out))

	_, err = Apply(values, ude.NewInt64Batch([]int64{3}))
	require.ErrorIs(t, err, errs.ErrCorruptMetadata)
	_, err = Apply(values, ude.NewInt64Batch([]int64{-1}))
	require.ErrorIs(t, err, errs.ErrCorruptMetadata)
	_, err = Apply(values, ude.NewStringBatch("0"))
	require.ErrorIs(t, err, errs.ErrCorruptMetadata)

	ints, err := Apply(ude.NewInt64Batch([]int64{100, 200}), ude.NewInt64Batch([]int64{1, 1, 0}))
	require.NoError(t, err)
	require.Equal(t, []int64{200, 200, 100}, ints.Int64s)
}
