package sandbox

import (
	"bytes"
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/internal/metrics"
	"github.com/arloliu/f3/internal/testutil"
	"github.com/arloliu/f3/ude"
)

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()

	rt, err := NewRuntime(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rt.Close(context.Background())) })

	return rt
}

func TestModule_Passthrough(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	mod, err := rt.Load(ctx, "pass", testutil.PassthroughWasm())
	require.NoError(t, err)
	require.Equal(t, "pass", mod.ID())
	require.True(t, mod.CanEncode())

	batches := []*ude.Batch{
		ude.NewInt64Batch([]int64{1, -2, 3, 1 << 40}),
		ude.NewFloat64Batch([]float64{0.5, -1.25}),
		ude.NewStringBatch("alpha", "", "gamma"),
	}

	for _, want := range batches {
		t.Run(want.Kind.String(), func(t *testing.T) {
			fs, err := mod.Check(ude.UnitMetadata{CodecID: "pass", Kind: want.Kind, RowCount: uint64(want.Len())})
			require.NoError(t, err)
			require.Equal(t, ude.FeatureSet(0), fs)

			unit, err := mod.Encode(ctx, want, nil)
			require.NoError(t, err)
			wire, err := ude.MarshalWire(want)
			require.NoError(t, err)
			require.Equal(t, wire, unit)

			dec, err := mod.Init(ctx, unit, ude.Kwargs{ude.KwargBatchSize: ude.Int(2)})
			require.NoError(t, err)

			got, err := dec.Decode(ctx)
			require.NoError(t, err)
			require.True(t, want.Equal(got))

			got, err = dec.Decode(ctx)
			require.NoError(t, err)
			require.Nil(t, got)
			got, err = dec.Decode(ctx)
			require.NoError(t, err)
			require.Nil(t, got)

			require.NoError(t, dec.Close())
			require.NoError(t, dec.Close())
		})
	}
}

func TestModule_DecodeAll(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	mod, err := rt.Load(ctx, "pass", testutil.PassthroughWasm())
	require.NoError(t, err)

	want := ude.NewStringBatch("a", "b", "c")
	unit, err := ude.MarshalWire(want)
	require.NoError(t, err)

	dec, err := mod.Init(ctx, unit, nil)
	require.NoError(t, err)
	got, err := ude.DecodeAll(ctx, dec, format.KindBinary)
	require.NoError(t, err)
	require.True(t, want.Equal(got))
}

func TestModule_Faults(t *testing.T) {
	ctx := context.Background()
	unit, err := ude.MarshalWire(ude.NewInt64Batch([]int64{1, 2, 3}))
	require.NoError(t, err)

	t.Run("Trap", func(t *testing.T) {
		rt := newTestRuntime(t)
		mod, err := rt.Load(ctx, "trap", testutil.TrapWasm())
		require.NoError(t, err)

		before := promtest.ToFloat64(metrics.SandboxFaults.WithLabelValues(reasonTrap))

		dec, err := mod.Init(ctx, unit, nil)
		require.NoError(t, err)
		defer dec.Close()

		_, err = dec.Decode(ctx)
		require.ErrorIs(t, err, errs.ErrSandboxFault)
		require.NotErrorIs(t, err, errs.ErrResourceLimitExceeded)

		var fault *errs.SandboxFaultError
		require.ErrorAs(t, err, &fault)
		require.Equal(t, "trap", fault.Codec)
		require.Equal(t, reasonTrap, fault.Reason)
		require.InDelta(t, before+1, promtest.ToFloat64(metrics.SandboxFaults.WithLabelValues(reasonTrap)), 0)

		got, err := dec.Decode(ctx)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("Timeout", func(t *testing.T) {
		rt := newTestRuntime(t, WithLimits(Limits{MemoryLimitPages: 16, Timeout: 50 * time.Millisecond}))
		mod, err := rt.Load(ctx, "spin", testutil.SpinWasm())
		require.NoError(t, err)

		dec, err := mod.Init(ctx, unit, nil)
		require.NoError(t, err)
		defer dec.Close()

		start := time.Now()
		_, err = dec.Decode(ctx)
		require.ErrorIs(t, err, errs.ErrSandboxFault)
		require.ErrorIs(t, err, errs.ErrResourceLimitExceeded)
		require.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("CallerCancel", func(t *testing.T) {
		rt := newTestRuntime(t)
		mod, err := rt.Load(ctx, "spin", testutil.SpinWasm())
		require.NoError(t, err)

		dec, err := mod.Init(ctx, unit, nil)
		require.NoError(t, err)
		defer dec.Close()

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = dec.Decode(cctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.NotErrorIs(t, err, errs.ErrSandboxFault)
	})

	t.Run("MemoryLimit", func(t *testing.T) {
		rt := newTestRuntime(t, WithLimits(Limits{MemoryLimitPages: 2, Timeout: time.Second}))
		mod, err := rt.Load(ctx, "pass", testutil.PassthroughWasm())
		require.NoError(t, err)

		big, err := ude.MarshalWire(ude.NewBinaryBatch([][]byte{bytes.Repeat([]byte{'x'}, 200<<10)}))
		require.NoError(t, err)

		_, err = mod.Init(ctx, big, nil)
		require.ErrorIs(t, err, errs.ErrSandboxFault)
		require.ErrorIs(t, err, errs.ErrResourceLimitExceeded)

		dec, err := mod.Init(ctx, unit, nil)
		require.NoError(t, err, "a fault must not poison later instances")
		require.NoError(t, dec.Close())
	})

	t.Run("Rejected", func(t *testing.T) {
		rt := newTestRuntime(t)
		mod, err := rt.Load(ctx, "reject", testutil.RejectingWasm())
		require.NoError(t, err)

		_, err = mod.Check(ude.UnitMetadata{Kind: format.KindInt64})
		require.ErrorIs(t, err, errs.ErrCodecMismatch)
	})
}

func TestRuntime_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("InvalidBinary", func(t *testing.T) {
		rt := newTestRuntime(t)
		_, err := rt.Load(ctx, "junk", []byte("not wasm"))
		require.ErrorIs(t, err, errs.ErrSandboxFault)
	})

	t.Run("MissingExport", func(t *testing.T) {
		rt := newTestRuntime(t)
		_, err := rt.Load(ctx, "nodecode", testutil.PassthroughModule().Without("decode").Bytes())
		require.ErrorIs(t, err, errs.ErrSandboxFault)

		var fault *errs.SandboxFaultError
		require.ErrorAs(t, err, &fault)
		require.Equal(t, reasonABI, fault.Reason)
	})

	t.Run("NoEncode", func(t *testing.T) {
		rt := newTestRuntime(t)
		mod, err := rt.Load(ctx, "decodeonly", testutil.PassthroughModule().Without("encode").Bytes())
		require.NoError(t, err)
		require.False(t, mod.CanEncode())

		_, err = mod.Encode(ctx, ude.NewInt64Batch([]int64{1}), nil)
		require.ErrorIs(t, err, errs.ErrCodecMismatch)
	})

	t.Run("CustomExports", func(t *testing.T) {
		wasm := testutil.PassthroughModule().
			Rename("decode", "f3_decode").
			Rename("init", "f3_init").
			Bytes()

		rt := newTestRuntime(t)
		_, err := rt.Load(ctx, "renamed", wasm)
		require.ErrorIs(t, err, errs.ErrSandboxFault)

		exports := DefaultExports()
		exports.Decode = "f3_decode"
		exports.Init = "f3_init"
		rt = newTestRuntime(t, WithExports(exports))
		mod, err := rt.Load(ctx, "renamed", wasm)
		require.NoError(t, err)

		want := ude.NewInt64Batch([]int64{7, 8})
		unit, err := ude.MarshalWire(want)
		require.NoError(t, err)
		dec, err := mod.Init(ctx, unit, nil)
		require.NoError(t, err)
		got, err := ude.DecodeAll(ctx, dec, format.KindInt64)
		require.NoError(t, err)
		require.True(t, want.Equal(got))
	})
}

func TestRuntime_Cache(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, WithCacheSize(1))

	pass := testutil.PassthroughWasm()
	before := promtest.ToFloat64(metrics.ModulesCompiled)

	m1, err := rt.Load(ctx, "pass", pass)
	require.NoError(t, err)
	_, err = rt.Load(ctx, "pass-again", pass)
	require.NoError(t, err)
	require.InDelta(t, before+1, promtest.ToFloat64(metrics.ModulesCompiled), 0)

	// evicts pass
	_, err = rt.Load(ctx, "trap", testutil.TrapWasm())
	require.NoError(t, err)

	want := ude.NewInt64Batch([]int64{42})
	unit, err := ude.MarshalWire(want)
	require.NoError(t, err)
	dec, err := m1.Init(ctx, unit, nil)
	require.NoError(t, err)
	got, err := ude.DecodeAll(ctx, dec, format.KindInt64)
	require.NoError(t, err)
	require.True(t, want.Equal(got))
	require.InDelta(t, before+3, promtest.ToFloat64(metrics.ModulesCompiled), 0)
}

func TestRuntime_Options(t *testing.T) {
	ctx := context.Background()

	_, err := NewRuntime(ctx, WithLimits(Limits{}))
	require.Error(t, err)
	_, err = NewRuntime(ctx, WithLimits(Limits{MemoryLimitPages: 1, Timeout: -time.Second}))
	require.Error(t, err)
	_, err = NewRuntime(ctx, WithCacheSize(0))
	require.Error(t, err)
	_, err = NewRuntime(ctx, WithExports(Exports{}))
	require.Error(t, err)

	rt := newTestRuntime(t, WithLimits(Limits{MemoryLimitPages: 8}), WithLogger(nil))
	require.Equal(t, Limits{MemoryLimitPages: 8}, rt.Limits())
	require.Equal(t, DefaultLimits(), Limits{MemoryLimitPages: DefaultMemoryLimitPages, Timeout: DefaultTimeout})
}
