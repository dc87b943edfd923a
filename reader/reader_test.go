package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/f3/codec"
	"github.com/arloliu/f3/dict"
	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/internal/testutil"
	"github.com/arloliu/f3/sandbox"
	"github.com/arloliu/f3/section"
	"github.com/arloliu/f3/source"
	"github.com/arloliu/f3/ude"
	"github.com/arloliu/f3/writer"
)

func testSchema() []ude.Column {
	return []ude.Column{
		{Name: "ts", Kind: format.KindInt64},
		{Name: "value", Kind: format.KindFloat64},
		{Name: "host", Kind: format.KindBinary},
	}
}

func testBatch(start, rows, hosts int) []*ude.Batch {
	ts := make([]int64, rows)
	values := make([]float64, rows)
	names := make([][]byte, rows)
	for i := range rows {
		row := start + i
		ts[i] = int64(1_700_000_000_000 + row*1000)
		values[i] = float64(row) * 0.25
		names[i] = fmt.Appendf(nil, "host-%03d", row%hosts)
	}

	return []*ude.Batch{ude.NewInt64Batch(ts), ude.NewFloat64Batch(values), ude.NewBinaryBatch(names)}
}

// writeFile writes rows rows of testBatch data, flushing every unitRows rows.
func writeFile(t *testing.T, schema []ude.Column, rows, unitRows, hosts int, opts ...writer.Option) []byte {
	t.Helper()
	ctx := context.Background()

	var buf bytes.Buffer
	w, err := writer.New(&buf, schema, append([]writer.Option{writer.WithRowThreshold(unitRows)}, opts...)...)
	require.NoError(t, err)

	in := testBatch(0, rows, hosts)[:len(schema)]
	require.NoError(t, w.Write(ctx, in))
	_, err = w.Finish(ctx)
	require.NoError(t, err)

	return buf.Bytes()
}

func openBytes(t *testing.T, data []byte, opts ...Option) *Handle {
	t.Helper()

	h, err := Open(context.Background(), source.NewBytes(data), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })

	return h
}

// collect concatenates every batch of h and returns the values with the batches seen.
func collect(t *testing.T, h *Handle) ([]*ude.Batch, []*RecordBatch) {
	t.Helper()
	ctx := context.Background()

	it, err := h.Batches(ctx)
	require.NoError(t, err)

	out := make([]*ude.Batch, len(h.Schema()))
	for i, c := range h.Schema() {
		out[i] = ude.EmptyBatch(c.Kind)
	}

	var batches []*RecordBatch
	for rb, err := range it.All(ctx) {
		require.NoError(t, err)
		require.NoError(t, rb.Err())
		for i, v := range rb.Values {
			require.Equal(t, rb.NumRows, v.Len())
			require.NoError(t, out[i].Append(v))
		}
		batches = append(batches, rb)
	}

	return out, batches
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	data := writeFile(t, testSchema(), 500, 100, 5)

	t.Run("Valid", func(t *testing.T) {
		h := openBytes(t, data, WithVerifyFileChecksum(true))
		require.Equal(t, format.CurrentVersion, h.Version())
		require.Equal(t, uint64(500), h.NumRows())
		require.Equal(t, 1, h.NumRowGroups())
		require.Len(t, h.FileSchema(), 3)
		require.Nil(t, h.Selection())
	})

	t.Run("SmallReadAhead", func(t *testing.T) {
		h := openBytes(t, data, WithReadAhead(0))
		got, _ := collect(t, h)
		require.True(t, testBatch(0, 500, 5)[2].Equal(got[2]))
	})

	t.Run("TooShort", func(t *testing.T) {
		_, err := Open(ctx, source.NewBytes(data[:10]))
		require.ErrorIs(t, err, errs.ErrNotAnF3File)
	})

	t.Run("BadMagic", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-1] ^= 0xff
		_, err := Open(ctx, source.NewBytes(bad))
		require.ErrorIs(t, err, errs.ErrNotAnF3File)
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		ps, err := section.ParsePostscript(data)
		require.NoError(t, err)
		ps.Version = 0x0300

		bad := ps.AppendTo(bytes.Clone(data[:len(data)-section.PostscriptSize]))
		_, err = Open(ctx, source.NewBytes(bad))
		require.ErrorIs(t, err, errs.ErrUnsupportedVersion)
	})

	t.Run("CorruptFooter", func(t *testing.T) {
		ps, err := section.ParsePostscript(data)
		require.NoError(t, err)
		ps.FooterSize = 3

		bad := ps.AppendTo(bytes.Clone(data[:len(data)-section.PostscriptSize]))
		_, err = Open(ctx, source.NewBytes(bad))
		require.ErrorIs(t, err, errs.ErrCorruptMetadata)
	})

	t.Run("FileChecksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] ^= 0xff

		_, err := Open(ctx, source.NewBytes(bad), WithVerifyFileChecksum(true))
		require.ErrorIs(t, err, errs.ErrChecksumMismatch)

		h, err := Open(ctx, source.NewBytes(bad))
		require.NoError(t, err)
		require.NoError(t, h.Close())
	})

	t.Run("InvalidOptions", func(t *testing.T) {
		_, err := Open(ctx, source.NewBytes(data), WithDecodeConcurrency(0))
		require.Error(t, err)
		_, err = Open(ctx, source.NewBytes(data), WithBatchSize(-1))
		require.Error(t, err)
	})
}

func TestRoundTrip(t *testing.T) {
	data := writeFile(t, testSchema(), 2000, 300, 10)
	want := testBatch(0, 2000, 10)

	t.Run("Default", func(t *testing.T) {
		got, batches := collect(t, openBytes(t, data))
		for i := range want {
			require.True(t, want[i].Equal(got[i]), "column %d", i)
		}
		require.Len(t, batches, 7)
		require.Equal(t, uint64(0), batches[0].FirstRow)
		require.Equal(t, uint64(1800), batches[6].FirstRow)
		require.Equal(t, 200, batches[6].NumRows)
	})

	t.Run("VerifyIOUnits", func(t *testing.T) {
		got, _ := collect(t, openBytes(t, data, WithVerifyIOUnitChecksum(true)))
		require.True(t, want[0].Equal(got[0]))
	})

	t.Run("BatchSize", func(t *testing.T) {
		got, _ := collect(t, openBytes(t, data, WithBatchSize(7)))
		for i := range want {
			require.True(t, want[i].Equal(got[i]), "column %d", i)
		}
	})

	t.Run("ColumnAccess", func(t *testing.T) {
		h := openBytes(t, data)
		it, err := h.Batches(context.Background())
		require.NoError(t, err)

		rb, err := it.Next(context.Background())
		require.NoError(t, err)
		host, err := rb.Column("host")
		require.NoError(t, err)
		require.Equal(t, []byte("host-000"), host.Binaries[0])

		_, err = rb.Column("missing")
		require.ErrorIs(t, err, errs.ErrColumnNotFound)
	})
}

func TestProjection(t *testing.T) {
	ctx := context.Background()

	counted := testutil.NewCountingCodec("counted", codec.NewPlain())
	registry := codec.NewRegistry()
	require.NoError(t, registry.Register(counted))

	schema := []ude.Column{
		{Name: "ts", Kind: format.KindInt64, Codec: "counted"},
		{Name: "value", Kind: format.KindFloat64},
		{Name: "host", Kind: format.KindBinary},
	}
	data := writeFile(t, schema, 1000, 250, 1000,
		writer.WithRegistry(registry), writer.WithDictPolicy(dict.NoDictPolicy{}))
	h := openBytes(t, data, WithRegistry(registry))

	t.Run("SkipsUnprojected", func(t *testing.T) {
		counted.Reset()
		p, err := h.Project("host", "value")
		require.NoError(t, err)
		require.Equal(t, []string{"host", "value"}, []string{p.Schema()[0].Name, p.Schema()[1].Name})

		got, _ := collect(t, p)
		require.True(t, testBatch(0, 1000, 1000)[2].Equal(got[0]))
		require.Zero(t, counted.Checks())
		require.Zero(t, counted.Inits())
	})

	t.Run("OneDecoderPerUnit", func(t *testing.T) {
		counted.Reset()
		p, err := h.Project("ts")
		require.NoError(t, err)

		got, _ := collect(t, p)
		require.True(t, testBatch(0, 1000, 1000)[0].Equal(got[0]))
		require.Equal(t, int64(4), counted.Inits())
		require.Equal(t, int64(1), counted.Checks())
	})

	t.Run("ByIndex", func(t *testing.T) {
		p, err := h.ProjectIndexes(2, 0)
		require.NoError(t, err)
		require.Equal(t, "host", p.Schema()[0].Name)
		require.Equal(t, "ts", p.Schema()[1].Name)

		_, err = h.ProjectIndexes(3)
		require.ErrorIs(t, err, errs.ErrColumnNotFound)
	})

	t.Run("AllColumns", func(t *testing.T) {
		p, err := h.Project()
		require.NoError(t, err)
		require.Len(t, p.Schema(), 3)
	})

	t.Run("UnknownColumn", func(t *testing.T) {
		_, err := h.Project("ts", "nope")
		require.ErrorIs(t, err, errs.ErrColumnNotFound)
	})

	t.Run("ConcurrentHandles", func(t *testing.T) {
		var wg sync.WaitGroup
		for _, name := range []string{"ts", "value", "host"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := h.Project(name)
				if err != nil {
					t.Error(err)
					return
				}
				it, err := p.Batches(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				rows := 0
				for rb, err := range it.All(ctx) {
					if err != nil {
						t.Error(err)
						return
					}
					rows += rb.NumRows
				}
				if rows != 1000 {
					t.Errorf("column %s: read %d rows", name, rows)
				}
			}()
		}
		wg.Wait()
	})
}

func TestSelection(t *testing.T) {
	ctx := context.Background()

	counted := testutil.NewCountingCodec("counted", codec.NewPlain())
	registry := codec.NewRegistry()
	require.NoError(t, registry.Register(counted))

	schema := []ude.Column{
		{Name: "ts", Kind: format.KindInt64, Codec: "counted"},
		{Name: "value", Kind: format.KindFloat64},
	}
	data := writeFile(t, schema, 1000, 100, 1, writer.WithRegistry(registry))
	h := openBytes(t, data, WithRegistry(registry))
	all := testBatch(0, 1000, 1)

	t.Run("Ranges", func(t *testing.T) {
		counted.Reset()
		s, err := h.Select(RowRange{150, 250}, RowRange{900, 1000}, RowRange{240, 260})
		require.NoError(t, err)
		require.Equal(t, []RowRange{{150, 260}, {900, 1000}}, s.Selection())

		got, batches := collect(t, s)
		require.Len(t, batches, 3)
		require.Equal(t, uint64(150), batches[0].FirstRow)
		require.Equal(t, 50, batches[0].NumRows)
		require.Equal(t, uint64(200), batches[1].FirstRow)
		require.Equal(t, 60, batches[1].NumRows)
		require.Equal(t, uint64(900), batches[2].FirstRow)

		want := all[1].Slice(150, 260)
		require.NoError(t, want.Append(all[1].Slice(900, 1000)))
		require.True(t, want.Equal(got[1]))
		require.Equal(t, int64(3), counted.Inits())
	})

	t.Run("ProjectKeepsSelection", func(t *testing.T) {
		s, err := h.Select(RowRange{10, 20})
		require.NoError(t, err)
		p, err := s.Project("value")
		require.NoError(t, err)

		got, _ := collect(t, p)
		require.True(t, all[1].Slice(10, 20).Equal(got[0]))
	})

	t.Run("EmptyRanges", func(t *testing.T) {
		s, err := h.Select(RowRange{5, 5})
		require.NoError(t, err)
		_, batches := collect(t, s)
		require.Empty(t, batches)
	})

	t.Run("AllRows", func(t *testing.T) {
		s, err := h.Select()
		require.NoError(t, err)
		require.Nil(t, s.Selection())
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		_, err := h.Select(RowRange{990, 1001})
		require.ErrorIs(t, err, errs.ErrRowRangeOutOfBounds)
		_, err = h.Select(RowRange{20, 10})
		require.ErrorIs(t, err, errs.ErrRowRangeOutOfBounds)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := h.Batches(canceled)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestNormalizeRanges(t *testing.T) {
	got, err := normalizeRanges([]RowRange{{30, 40}, {0, 10}, {10, 15}, {35, 50}, {60, 60}}, 100)
	require.NoError(t, err)
	require.Equal(t, []RowRange{{0, 15}, {30, 50}}, got)
	require.Equal(t, uint64(15), got[0].Len())

	_, err = normalizeRanges([]RowRange{{0, 101}}, 100)
	require.ErrorIs(t, err, errs.ErrRowRangeOutOfBounds)
}

func TestIterator(t *testing.T) {
	ctx := context.Background()
	data := writeFile(t, testSchema(), 500, 100, 5)
	h := openBytes(t, data)

	t.Run("NextUntilEOF", func(t *testing.T) {
		it, err := h.Batches(ctx)
		require.NoError(t, err)

		n := 0
		for {
			_, err := it.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			n++
		}
		require.Equal(t, 5, n)

		_, err = it.Next(ctx)
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("BreakCloses", func(t *testing.T) {
		it, err := h.Batches(ctx)
		require.NoError(t, err)

		for range it.All(ctx) {
			break
		}
		_, err = it.Next(ctx)
		require.ErrorIs(t, err, io.EOF)
	})
}

func TestDictionaries(t *testing.T) {
	ctx := context.Background()

	counted := testutil.NewCountingCodec("counted", codec.NewPlain())
	registry := codec.NewRegistry()
	require.NoError(t, registry.Register(counted))

	schema := testSchema()
	schema[2].Codec = "counted"
	data := writeFile(t, schema, 4000, 1000, 20, writer.WithRegistry(registry))
	want := testBatch(0, 4000, 20)[2]

	t.Run("SharedCached", func(t *testing.T) {
		counted.Reset()
		h := openBytes(t, data, WithRegistry(registry))
		p, err := h.Project("host")
		require.NoError(t, err)

		got, _ := collect(t, p)
		require.True(t, want.Equal(got[0]))
		// four code units and one dictionary
		require.Equal(t, int64(5), counted.Inits())
	})

	t.Run("SharedUncached", func(t *testing.T) {
		counted.Reset()
		h := openBytes(t, data, WithRegistry(registry), WithDictionaryCache(false))
		p, err := h.Project("host")
		require.NoError(t, err)

		got, _ := collect(t, p)
		require.True(t, want.Equal(got[0]))
		require.Equal(t, int64(8), counted.Inits())
	})

	t.Run("Local", func(t *testing.T) {
		local := writeFile(t, testSchema(), 4000, 1000, 20,
			writer.WithDictPolicy(dict.LocalPolicy{MaxCardinalityRatio: 0.5}))
		got, _ := collect(t, openBytes(t, local, WithVerifyIOUnitChecksum(true)))
		require.True(t, want.Equal(got[2]))
	})

	t.Run("Dangling", func(t *testing.T) {
		h := openBytes(t, data, WithRegistry(registry))
		_, err := h.f.dictionary(ctx, 999, format.SharedDict, 2, nil)
		require.ErrorIs(t, err, errs.ErrDanglingDictionaryReference)
	})

	t.Run("ModeMismatch", func(t *testing.T) {
		h := openBytes(t, data, WithRegistry(registry))
		_, err := h.f.dictionary(ctx, 1, format.LocalDict, 2, nil)
		require.ErrorIs(t, err, errs.ErrCorruptMetadata)
	})
}

// flakySource fails the first reads starting at off with context.Canceled.
type flakySource struct {
	source.Source
	off   int64
	fails atomic.Int32
}

func (s *flakySource) ReadRange(ctx context.Context, off int64, size int) ([]byte, error) {
	if off == s.off && s.fails.Add(-1) >= 0 {
		return nil, context.Canceled
	}

	return s.Source.ReadRange(ctx, off, size)
}

func TestFailedLoadsAreRetried(t *testing.T) {
	ctx := context.Background()

	t.Run("Dictionary", func(t *testing.T) {
		data := writeFile(t, testSchema(), 4000, 1000, 20)
		d, ok := openBytes(t, data).Directory().Dict(1)
		require.True(t, ok)

		src := &flakySource{Source: source.NewBytes(data), off: int64(d.Offset)} //nolint: gosec
		src.fails.Store(1)
		h, err := Open(ctx, src, WithReadAhead(0))
		require.NoError(t, err)
		defer func() { require.NoError(t, h.Close()) }()

		p, err := h.Project("host")
		require.NoError(t, err)

		it, err := p.Batches(ctx)
		require.NoError(t, err)
		_, err = it.Next(ctx)
		require.ErrorIs(t, err, context.Canceled)

		got, _ := collect(t, p)
		require.True(t, testBatch(0, 4000, 20)[2].Equal(got[0]))

		// a handle derived after the failure shares the now loaded dictionary
		s, err := h.Select(RowRange{1500, 2500})
		require.NoError(t, err)
		got, _ = collect(t, s)
		require.True(t, testBatch(0, 4000, 20)[2].Slice(1500, 2500).Equal(got[2]))
	})

	t.Run("EmbeddedModule", func(t *testing.T) {
		schema := testSchema()
		schema[1].Codec = "passthrough"
		data := writeFile(t, schema, 600, 200, 8, writer.WithEmbeddedModule("passthrough", testutil.PassthroughWasm()))
		e, ok := openBytes(t, data).Directory().OptData(section.CodecKey("passthrough"))
		require.True(t, ok)

		src := &flakySource{Source: source.NewBytes(data), off: int64(e.Offset)} //nolint: gosec
		src.fails.Store(1)
		h, err := Open(ctx, src, WithReadAhead(0))
		require.NoError(t, err)
		defer func() { require.NoError(t, h.Close()) }()

		_, err = h.f.codecFor(ctx, "passthrough", 1)
		require.ErrorIs(t, err, context.Canceled)

		got, _ := collect(t, h)
		require.True(t, testBatch(0, 600, 8)[1].Equal(got[1]))
	})
}

func TestMetadataRangesPastEOF(t *testing.T) {
	ctx := context.Background()
	data := writeFile(t, testSchema(), 300, 100, 300)
	h := openBytes(t, data)

	// point the first unit of column ts far past the end of the file
	loc, err := h.Directory().ColMetaLocation(0, 0)
	require.NoError(t, err)
	meta, err := section.ParseColMetadata(data[loc.Offset : loc.Offset+uint64(loc.Size)])
	require.NoError(t, err)
	bad := bytes.Clone(data)
	offsetAt := loc.Offset + uint64(24+len(meta.Codec)) + 4
	copy(bad[offsetAt:offsetAt+8], bytes.Repeat([]byte{0x7f}, 8))

	for _, tc := range []struct {
		name    string
		columns []string
	}{
		{"SingleColumn", []string{"ts"}},
		{"WholeIOUnit", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := openBytes(t, bad).Project(tc.columns...)
			require.NoError(t, err)

			it, err := p.Batches(ctx)
			require.NoError(t, err)
			_, err = it.Next(ctx)
			require.ErrorIs(t, err, errs.ErrCorruptMetadata)
			require.NotErrorIs(t, err, source.ErrOutOfRange)
		})
	}

	t.Run("Extent", func(t *testing.T) {
		_, err := h.f.readExtent(ctx, uint64(len(data)), 1, "OptData")
		require.ErrorIs(t, err, errs.ErrCorruptMetadata)

		_, err = h.f.readExtent(ctx, 0, ^uint64(0), "col meta region")
		require.ErrorIs(t, err, errs.ErrCorruptMetadata)
	})
}

func TestLegacyFile(t *testing.T) {
	schema := testSchema()[:2]
	rg0 := testBatch(0, 250, 1)[:2]
	rg1 := testBatch(250, 130, 1)[:2]
	data := testutil.LegacyFile(t, schema, [][]*ude.Batch{rg0, rg1}, 100)

	h := openBytes(t, data, WithVerifyFileChecksum(true))
	require.Equal(t, format.VersionV1, h.Version())
	require.Equal(t, uint64(380), h.NumRows())
	require.Equal(t, 2, h.NumRowGroups())
	require.Empty(t, h.Properties())

	all := testBatch(0, 380, 1)

	t.Run("All", func(t *testing.T) {
		got, batches := collect(t, h)
		require.Len(t, batches, 2)
		require.True(t, all[0].Equal(got[0]))
		require.True(t, all[1].Equal(got[1]))
	})

	t.Run("AcrossRowGroups", func(t *testing.T) {
		s, err := h.Select(RowRange{90, 260})
		require.NoError(t, err)
		p, err := s.Project("value")
		require.NoError(t, err)

		got, _ := collect(t, p)
		require.True(t, all[1].Slice(90, 260).Equal(got[0]))
	})
}

func TestEmbeddedCodecs(t *testing.T) {
	ctx := context.Background()

	embedded := []ude.Column{
		{Name: "ts", Kind: format.KindInt64, Codec: "passthrough"},
		{Name: "value", Kind: format.KindFloat64, Codec: "passthrough"},
		{Name: "host", Kind: format.KindBinary, Codec: "passthrough"},
	}
	data := writeFile(t, embedded, 1500, 400, 8,
		writer.WithEmbeddedModule("passthrough", testutil.PassthroughWasm()),
		writer.WithOptDataCompression(format.CompressionS2))
	native := writeFile(t, testSchema(), 1500, 400, 8)

	t.Run("MatchesNative", func(t *testing.T) {
		got, _ := collect(t, openBytes(t, data))
		want, _ := collect(t, openBytes(t, native))
		for i := range want {
			require.True(t, want[i].Equal(got[i]), "column %d", i)
		}
	})

	t.Run("PartialUnits", func(t *testing.T) {
		h := openBytes(t, data)
		s, err := h.Select(RowRange{390, 410})
		require.NoError(t, err)

		got, _ := collect(t, s)
		require.True(t, testBatch(0, 1500, 8)[2].Slice(390, 410).Equal(got[2]))
	})

	t.Run("SharedRuntime", func(t *testing.T) {
		rt, err := sandbox.NewRuntime(ctx)
		require.NoError(t, err)
		defer func() { require.NoError(t, rt.Close(ctx)) }()

		h := openBytes(t, data, WithSandboxRuntime(rt))
		got, _ := collect(t, h)
		require.Equal(t, 1500, got[0].Len())
	})

	t.Run("NativeOverridesEmbedded", func(t *testing.T) {
		registry := codec.NewRegistry()
		counted := testutil.NewCountingCodec("passthrough", codec.NewPlain())
		require.NoError(t, registry.Register(counted))

		got, _ := collect(t, openBytes(t, data, WithRegistry(registry)))
		require.True(t, testBatch(0, 1500, 8)[1].Equal(got[1]))
		require.Positive(t, counted.Inits())
	})
}

func TestFaultIsolation(t *testing.T) {
	ctx := context.Background()

	schema := []ude.Column{
		{Name: "ts", Kind: format.KindInt64},
		{Name: "value", Kind: format.KindFloat64, Codec: "broken"},
	}

	t.Run("Trap", func(t *testing.T) {
		data := writeFile(t, schema, 300, 100, 1, writer.WithEmbeddedModule("broken", testutil.TrapWasm()))
		h := openBytes(t, data)

		it, err := h.Batches(ctx)
		require.NoError(t, err)

		n := 0
		for rb, err := range it.All(ctx) {
			require.NoError(t, err)
			require.NoError(t, rb.Errors[0])
			require.True(t, testBatch(0, 300, 1)[0].Slice(n*100, n*100+100).Equal(rb.Values[0]))

			require.Nil(t, rb.Values[1])
			require.ErrorIs(t, rb.Errors[1], errs.ErrSandboxFault)
			require.ErrorIs(t, rb.Err(), errs.ErrSandboxFault)

			_, err := rb.Column("value")
			require.ErrorIs(t, err, errs.ErrSandboxFault)
			n++
		}
		require.Equal(t, 3, n)
	})

	t.Run("Timeout", func(t *testing.T) {
		data := writeFile(t, schema, 100, 100, 1, writer.WithEmbeddedModule("broken", testutil.SpinWasm()))
		h := openBytes(t, data, WithSandboxOptions(sandbox.WithLimits(sandbox.Limits{
			MemoryLimitPages: sandbox.DefaultMemoryLimitPages,
			Timeout:          50 * time.Millisecond,
		})))

		it, err := h.Batches(ctx)
		require.NoError(t, err)
		rb, err := it.Next(ctx)
		require.NoError(t, err)
		require.NoError(t, rb.Errors[0])
		require.ErrorIs(t, rb.Errors[1], errs.ErrSandboxFault)
		require.ErrorIs(t, rb.Errors[1], errs.ErrResourceLimitExceeded)
	})

	t.Run("MissingModule", func(t *testing.T) {
		data := writeFile(t, schema[:1], 100, 100, 1)
		h := openBytes(t, data)
		_, err := h.f.codecFor(ctx, "absent", 0)
		require.ErrorIs(t, err, errs.ErrCodecMismatch)
	})
}

func TestIOUnitChecksum(t *testing.T) {
	ctx := context.Background()
	data := writeFile(t, testSchema(), 300, 100, 300)

	h := openBytes(t, data)
	u := h.Directory().IOUnits()[1]
	bad := bytes.Clone(data)
	bad[u.Offset+u.Size/2] ^= 0xff

	v := openBytes(t, bad, WithVerifyIOUnitChecksum(true))
	it, err := v.Batches(ctx)
	require.NoError(t, err)

	_, err = it.Next(ctx)
	require.NoError(t, err)
	_, err = it.Next(ctx)
	require.ErrorIs(t, err, errs.ErrChecksumMismatch)

	// the iterator is closed after a fatal error
	_, err = it.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}
