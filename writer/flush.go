package writer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/f3/dict"
	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/internal/hash"
	"github.com/arloliu/f3/internal/metrics"
	"github.com/arloliu/f3/internal/pool"
	"github.com/arloliu/f3/section"
	"github.com/arloliu/f3/ude"
)

type encodedColumn struct {
	dict []byte // local dictionary unit, nil unless the column uses a local dictionary
	data []byte
}

// flushIOUnit encodes the pending rows and appends them as one IOUnit, preceded by a
// dictionary-only IOUnit when shared dictionaries need to be emitted.
func (w *Writer) flushIOUnit(ctx context.Context) error {
	if w.pendingRows == 0 {
		return nil
	}
	start := time.Now()

	if w.codecs == nil {
		if err := w.selectCodecs(ctx); err != nil {
			return err
		}
	}

	firstRow := w.rows
	assigns := make([]*dict.Assignment, len(w.schema))
	var shared []int
	for i := range w.schema {
		if !w.dictOK[i] {
			assigns[i] = &dict.Assignment{Mode: format.NoDict}
			continue
		}

		a, err := w.dicts.Plan(i, w.pending[i], len(w.ioUnits))
		if err != nil {
			return fmt.Errorf("column %q: %w", w.schema[i].Name, err)
		}
		assigns[i] = a
		if a.Mode == format.SharedDict && a.Emit {
			shared = append(shared, i)
		}
	}

	if len(shared) > 0 {
		if err := w.emitSharedDicts(ctx, shared, assigns, firstRow); err != nil {
			return err
		}
	}

	encoded, err := w.encodeColumns(ctx, assigns)
	if err != nil {
		return err
	}

	ioIndex := uint32(len(w.ioUnits)) //nolint: gosec
	rows := uint32(w.pendingRows)     //nolint: gosec
	base := w.offset

	buf := pool.GetIOUnitBuffer()
	defer pool.PutIOUnitBuffer(buf)

	for i, enc := range encoded {
		a := assigns[i]
		ref := section.EncUnitRef{IOUnit: ioIndex, FirstRow: firstRow, RowCount: rows, DictMode: a.Mode}
		if a.Dict != nil {
			ref.DictID = a.Dict.ID
		}

		if enc.dict != nil {
			w.dictTable = append(w.dictTable, section.DictEntry{
				DictID:     a.Dict.ID,
				Mode:       format.LocalDict,
				IOUnit:     ioIndex,
				Offset:     base + uint64(buf.Len()),
				Size:       uint32(len(enc.dict)), //nolint: gosec
				ValueCount: uint32(a.Dict.Len()),  //nolint: gosec
				Codec:      w.codecIDs[i],
			})
			_, _ = buf.Write(enc.dict)
			w.dictUnits++
			metrics.DictUnitsEmitted.WithLabelValues(format.LocalDict.String()).Inc()
		}

		ref.Offset = base + uint64(buf.Len())
		ref.Size = uint32(len(enc.data)) //nolint: gosec
		_, _ = buf.Write(enc.data)
		w.rgRefs[i] = append(w.rgRefs[i], ref)
	}

	if err := w.writeIOUnit(buf.Bytes(), firstRow, uint64(rows)); err != nil {
		return err
	}

	for _, a := range assigns {
		if a.Mode == format.LocalDict {
			w.dicts.Release(a.Dict)
		}
	}

	w.logger.Debug("IOUnit flushed",
		zap.Int("io_unit", int(ioIndex)),
		zap.Uint64("first_row", firstRow),
		zap.Uint32("rows", rows),
		zap.Int("pending_bytes", w.pendingBytes),
		zap.Int("bytes", buf.Len()))

	for i, col := range w.schema {
		w.pending[i] = ude.EmptyBatch(col.Kind)
	}
	w.rows += uint64(rows)
	w.pendingRows = 0
	w.pendingBytes = 0
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	return nil
}

// emitSharedDicts writes newly created shared dictionaries as one dictionary-only IOUnit.
func (w *Writer) emitSharedDicts(ctx context.Context, columns []int, assigns []*dict.Assignment, firstRow uint64) error {
	ioIndex := uint32(len(w.ioUnits)) //nolint: gosec
	base := w.offset

	buf := pool.GetIOUnitBuffer()
	defer pool.PutIOUnitBuffer(buf)

	for _, i := range columns {
		d := assigns[i].Dict
		data, err := w.encode(ctx, i, d.Values())
		if err != nil {
			return err
		}

		w.dictTable = append(w.dictTable, section.DictEntry{
			DictID:     d.ID,
			Mode:       format.SharedDict,
			IOUnit:     ioIndex,
			Offset:     base + uint64(buf.Len()),
			Size:       uint32(len(data)), //nolint: gosec
			ValueCount: uint32(d.Len()),   //nolint: gosec
			Codec:      w.codecIDs[i],
		})
		_, _ = buf.Write(data)
		w.dictUnits++
		metrics.DictUnitsEmitted.WithLabelValues(format.SharedDict.String()).Inc()
		w.logger.Debug("shared dictionary emitted",
			zap.String("column", w.schema[i].Name),
			zap.Uint32("dict_id", d.ID),
			zap.Int("values", d.Len()))
	}

	return w.writeIOUnit(buf.Bytes(), firstRow, 0)
}

// encodeColumns encodes every pending column in parallel. Results keep column order.
func (w *Writer) encodeColumns(ctx context.Context, assigns []*dict.Assignment) ([]encodedColumn, error) {
	out := make([]encodedColumn, len(w.schema))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.concurrency)
	for i := range w.schema {
		g.Go(func() error {
			a := assigns[i]
			values := w.pending[i]
			if a.Mode != format.NoDict {
				values = a.Codes
			}
			if a.Mode == format.LocalDict {
				data, err := w.encode(gctx, i, a.Dict.Values())
				if err != nil {
					return err
				}
				out[i].dict = data
			}

			data, err := w.encode(gctx, i, values)
			if err != nil {
				return err
			}
			out[i].data = data

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

func (w *Writer) encode(ctx context.Context, column int, batch *ude.Batch) ([]byte, error) {
	data, err := w.codecs[column].Encode(ctx, batch, nil)
	if err != nil {
		return nil, &errs.EncodeFailedError{Column: w.schema[column].Name, Cause: err}
	}

	return data, nil
}

// writeIOUnit appends data and records it in the IOUnit table.
func (w *Writer) writeIOUnit(data []byte, firstRow, rows uint64) error {
	off := w.offset
	if err := w.write(data); err != nil {
		return err
	}

	w.ioUnits = append(w.ioUnits, section.IOUnit{
		Offset:   off,
		Size:     uint64(len(data)),
		FirstRow: firstRow,
		RowCount: rows,
		Checksum: hash.Bytes(data),
	})

	kind := "data"
	if rows == 0 {
		kind = "dict"
	}
	metrics.IOUnitsFlushed.WithLabelValues(kind).Inc()

	return nil
}

// selectCodecs fixes the codec of every column using the rows pending at the first flush.
func (w *Writer) selectCodecs(ctx context.Context) error {
	n := len(w.schema)
	codecs := make([]ude.Codec, n)
	ids := make([]string, n)
	features := make([]ude.FeatureSet, n)
	dictOK := make([]bool, n)

	for i, col := range w.schema {
		id := w.cfg.codecPolicy.SelectCodec(col, w.pending[i])
		c, err := w.resolve(ctx, id)
		if err != nil {
			return fmt.Errorf("column %q: %w", col.Name, err)
		}

		fs, err := c.Check(ude.UnitMetadata{CodecID: id, Kind: col.Kind, RowCount: uint64(w.pendingRows)})
		if err != nil {
			return fmt.Errorf("column %q: %w", col.Name, err)
		}

		// dictionary codes are int64 batches encoded with the column codec
		dictOK[i] = col.Kind.DictEligible()
		if dictOK[i] && col.Kind != format.KindInt64 {
			_, err := c.Check(ude.UnitMetadata{CodecID: id, Kind: format.KindInt64, DictMode: format.LocalDict})
			dictOK[i] = err == nil
		}

		codecs[i], ids[i], features[i] = c, id, fs
		w.logger.Debug("codec selected",
			zap.String("column", col.Name),
			zap.String("codec", id),
			zap.Bool("dictionary", dictOK[i]))
	}

	w.codecs, w.codecIDs, w.features, w.dictOK = codecs, ids, features, dictOK

	return nil
}

// resolve returns the native codec for id, or the embedded module serving it.
func (w *Writer) resolve(ctx context.Context, id string) (ude.Codec, error) {
	if id == "" || len(id) > 255 {
		return nil, fmt.Errorf("%w: invalid codec id %q", errs.ErrCodecMismatch, id)
	}

	c, res := w.registry.Lookup(id)
	if res == ude.ResolveNative {
		return c, nil
	}

	wasm, ok := w.cfg.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: codec %q is neither registered nor embedded", errs.ErrCodecMismatch, id)
	}

	rt, err := w.sandboxRuntime(ctx)
	if err != nil {
		return nil, err
	}

	return rt.Load(ctx, id, wasm)
}
