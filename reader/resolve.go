package reader

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arloliu/f3/compress"
	"github.com/arloliu/f3/dict"
	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/section"
	"github.com/arloliu/f3/ude"
)

const (
	backendNative  = "native"
	backendSandbox = "sandbox"
)

type codecKey struct {
	id     string
	column int
}

// codecEntry is a codec resolved and negotiated for one column.
type codecEntry struct {
	codec    ude.Codec
	features ude.FeatureSet
	backend  string
}

// lazy holds a value loaded on first success. Failed loads are not kept, so a
// canceled context or a transient source error is retried by the next caller.
type lazy[T any] struct {
	mu   sync.Mutex
	done bool
	val  T
}

func (l *lazy[T]) get(load func() (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return l.val, nil
	}

	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	l.val, l.done = v, true

	return v, nil
}

// entry returns the lazy slot of key in m, creating it under f.mu.
func entry[K comparable, T any](f *file, m map[K]*lazy[T], key K) *lazy[T] {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := m[key]
	if !ok {
		e = &lazy[T]{}
		m[key] = e
	}

	return e
}

// codecFor resolves codec id for column and negotiates its features once.
func (f *file) codecFor(ctx context.Context, id string, column int) (codecEntry, error) {
	return entry(f, f.codecs, codecKey{id, column}).get(func() (codecEntry, error) {
		c, backend, err := f.resolveCodec(ctx, id)
		if err != nil {
			return codecEntry{}, err
		}

		col := f.dir.Columns()[column]
		features, err := c.Check(ude.UnitMetadata{CodecID: id, Kind: col.Kind})
		if err != nil {
			return codecEntry{}, fmt.Errorf("column %q: %w", col.Name, err)
		}

		return codecEntry{codec: c, features: features, backend: backend}, nil
	})
}

// resolveCodec looks id up in the registry, then in the OptData segment.
func (f *file) resolveCodec(ctx context.Context, id string) (ude.Codec, string, error) {
	c, res := f.registry.Lookup(id)
	if res == ude.ResolveNative {
		return c, backendNative, nil
	}

	c, err := entry(f, f.modules, id).get(func() (ude.Codec, error) {
		return f.loadModule(ctx, id)
	})

	return c, backendSandbox, err
}

func (f *file) loadModule(ctx context.Context, id string) (ude.Codec, error) {
	entry, ok := f.dir.OptData(section.CodecKey(id))
	if !ok {
		return nil, fmt.Errorf("%w: codec %q is not registered and the file embeds no module for it", errs.ErrCodecMismatch, id)
	}

	data, err := f.readExtent(ctx, entry.Offset, uint64(entry.Size), "OptData "+entry.Key)
	if err != nil {
		return nil, err
	}

	dc, err := compress.GetCodec(entry.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: OptData %q: %w", errs.ErrCorruptMetadata, entry.Key, err)
	}
	wasm, err := dc.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: OptData %q: %w", errs.ErrCorruptMetadata, entry.Key, err)
	}

	rt, err := f.sandboxRuntime(ctx)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("loading embedded codec", zap.String("codec", id), zap.Int("bytes", len(wasm)))

	return rt.Load(ctx, id, wasm)
}

// dictionary returns the values of dictionary id for column.
func (f *file) dictionary(ctx context.Context, id uint32, mode format.DictMode, column int, io *ioCache) (*ude.Batch, error) {
	if !f.cfg.dictCache {
		return f.loadDictionary(ctx, id, mode, column, io)
	}

	return entry(f, f.dicts, id).get(func() (*ude.Batch, error) {
		return f.loadDictionary(ctx, id, mode, column, io)
	})
}

func (f *file) loadDictionary(ctx context.Context, id uint32, mode format.DictMode, column int, io *ioCache) (*ude.Batch, error) {
	entry, ok := f.dir.Dict(id)
	if !ok {
		return nil, fmt.Errorf("%w: dictionary %d", errs.ErrDanglingDictionaryReference, id)
	}
	if entry.Mode != mode {
		return nil, fmt.Errorf("%w: dictionary %d is %s, unit expects %s", errs.ErrCorruptMetadata, id, entry.Mode, mode)
	}

	data, err := io.slice(ctx, f, entry.IOUnit, entry.Offset, entry.Size)
	if err != nil {
		return nil, err
	}

	ce, err := f.codecFor(ctx, entry.Codec, column)
	if err != nil {
		return nil, err
	}

	col := f.dir.Columns()[column]
	dec, err := ce.codec.Init(ctx, data, nil)
	if err != nil {
		return nil, err
	}
	values, err := ude.DecodeAll(ctx, dec, col.Kind)
	if err != nil {
		return nil, err
	}
	if values.Len() != int(entry.ValueCount) {
		return nil, fmt.Errorf("%w: dictionary %d decoded %d values, table says %d",
			errs.ErrCorruptMetadata, id, values.Len(), entry.ValueCount)
	}

	return values, nil
}

// decodeUnit decodes rows [lo, hi) of one encoding unit, relative to the unit start.
func (f *file) decodeUnit(ctx context.Context, column int, meta *section.ColMetadata, ref section.EncUnitRef, lo, hi int, io *ioCache) (*ude.Batch, error) {
	ce, err := f.codecFor(ctx, meta.Codec, column)
	if err != nil {
		return nil, err
	}

	data, err := io.slice(ctx, f, ref.IOUnit, ref.Offset, ref.Size)
	if err != nil {
		return nil, err
	}

	kind := meta.Kind
	if ref.DictMode != format.NoDict {
		kind = format.KindInt64
	}

	rows := int(ref.RowCount)
	ranged := ce.features.Has(format.FeatureRangeDecode) && (lo > 0 || hi < rows)
	kwargs := ude.Kwargs{}
	if ranged {
		kwargs[ude.KwargRangeStart] = ude.Int(int64(lo))
		kwargs[ude.KwargRangeEnd] = ude.Int(int64(hi))
	}
	if f.cfg.batchSize > 0 && ce.features.Has(format.FeatureBatchSize) {
		kwargs[ude.KwargBatchSize] = ude.Int(int64(f.cfg.batchSize))
	}

	dec, err := ce.codec.Init(ctx, data, kwargs)
	if err != nil {
		return nil, err
	}
	out, err := ude.DecodeAll(ctx, dec, kind)
	if err != nil {
		return nil, err
	}

	want := rows
	if ranged {
		want = hi - lo
	}
	if out.Len() != want {
		err := fmt.Errorf("unit at offset %d decoded %d rows, want %d", ref.Offset, out.Len(), want)
		if ce.backend == backendSandbox {
			return nil, errs.NewSandboxFault(meta.Codec, "abi", err)
		}

		return nil, fmt.Errorf("%w: %w", errs.ErrCorruptMetadata, err)
	}
	if !ranged && (lo > 0 || hi < rows) {
		out = out.Slice(lo, hi)
	}
	unitDecodes(ce.backend)

	if ref.DictMode == format.NoDict {
		return out, nil
	}

	values, err := f.dictionary(ctx, ref.DictID, ref.DictMode, column, io)
	if err != nil {
		return nil, err
	}

	return dict.Apply(values, out)
}
