package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/internal/hash"
	"github.com/arloliu/f3/internal/metrics"
	"github.com/arloliu/f3/section"
	"github.com/arloliu/f3/ude"
)

// Column metadata fetch heuristic: read the whole region at once when most columns
// are projected or the schema is small.
const (
	wholeRegionRatio   = 0.6
	wholeRegionColumns = 100
)

// coalesceRatio is the projected column ratio above which an IOUnit is read whole.
const coalesceRatio = 0.6

// span is the part of one IOUnit that intersects one selected range.
type span struct {
	rowGroup int
	ioUnit   int
	start    uint64
	end      uint64
}

// ioCache holds an IOUnit read in one request.
type ioCache struct {
	index  int
	offset uint64
	data   []byte
}

// slice returns [off, off+size) from the cached IOUnit, or reads it from the file.
func (c *ioCache) slice(ctx context.Context, f *file, ioUnit uint32, off uint64, size uint32) ([]byte, error) {
	if c == nil || c.data == nil || int(ioUnit) != c.index {
		units := f.dir.IOUnits()
		if int(ioUnit) >= len(units) {
			return nil, fmt.Errorf("%w: IOUnit %d of %d", errs.ErrCorruptMetadata, ioUnit, len(units))
		}
		if u := units[ioUnit]; u.Size > 0 && (off < u.Offset || off-u.Offset > u.Size || uint64(size) > u.Size-(off-u.Offset)) {
			return nil, fmt.Errorf("%w: range [%d, +%d) outside IOUnit %d", errs.ErrCorruptMetadata, off, size, ioUnit)
		}

		return f.readExtent(ctx, off, uint64(size), "encoding unit")
	}

	if off < c.offset || off-c.offset > uint64(len(c.data)) || uint64(size) > uint64(len(c.data))-(off-c.offset) {
		return nil, fmt.Errorf("%w: range [%d, +%d) outside IOUnit %d", errs.ErrCorruptMetadata, off, size, ioUnit)
	}
	start := off - c.offset
	end := start + uint64(size)

	return c.data[start:end:end], nil
}

func unitDecodes(backend string) {
	metrics.UnitDecodes.WithLabelValues(backend).Inc()
}

// BatchIterator yields one RecordBatch per IOUnit span intersecting the selection.
//
// It is lazy, finite and not restartable. It is NOT safe for concurrent use.
type BatchIterator struct {
	h      *Handle
	spans  []span
	pos    int
	closed bool

	metaRG int
	metas  []*section.ColMetadata
	region []byte
	regOff uint64

	io *ioCache
}

// Batches returns an iterator over the projected columns of the selected rows.
func (h *Handle) Batches(ctx context.Context) (*BatchIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	it := &BatchIterator{h: h, metaRG: -1}
	sel := h.selection()
	ioUnits := h.f.dir.IOUnits()

	for rg, group := range h.f.dir.RowGroups() {
		rgEnd := group.FirstRow + group.RowCount
		if !intersects(sel, group.FirstRow, rgEnd) {
			continue
		}

		for i := group.FirstIOUnit; i < group.FirstIOUnit+group.IOUnitCount; i++ {
			u := ioUnits[i]
			if u.DictOnly() {
				continue
			}
			uEnd := u.FirstRow + u.RowCount
			for _, r := range sel {
				start, end := max(r.Start, u.FirstRow), min(r.End, uEnd)
				if start < end {
					it.spans = append(it.spans, span{rowGroup: rg, ioUnit: int(i), start: start, end: end})
				}
			}
		}
	}

	return it, nil
}

func intersects(sel []RowRange, start, end uint64) bool {
	for _, r := range sel {
		if r.Start < end && start < r.End {
			return true
		}
	}

	return false
}

// Next returns the next batch, or io.EOF once the selection is exhausted.
//
// A sandbox fault in one column is recorded in RecordBatch.Errors; any other error
// ends the iteration.
func (it *BatchIterator) Next(ctx context.Context) (*RecordBatch, error) {
	if it.closed || it.pos >= len(it.spans) {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sp := it.spans[it.pos]
	it.pos++

	rb, err := it.decodeSpan(ctx, sp)
	if err != nil {
		it.Close()
		return nil, err
	}

	return rb, nil
}

// All ranges over the remaining batches. Iteration stops after the first error.
func (it *BatchIterator) All(ctx context.Context) iter.Seq2[*RecordBatch, error] {
	return func(yield func(*RecordBatch, error) bool) {
		defer it.Close()
		for {
			rb, err := it.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rb, err) || err != nil {
				return
			}
		}
	}
}

// Close stops the iteration and drops cached buffers.
func (it *BatchIterator) Close() {
	it.closed = true
	it.metas = nil
	it.region = nil
	it.io = nil
}

func (it *BatchIterator) decodeSpan(ctx context.Context, sp span) (*RecordBatch, error) {
	f := it.h.f
	if err := it.loadColMeta(ctx, sp.rowGroup); err != nil {
		return nil, err
	}
	if err := it.loadIOUnit(ctx, sp.ioUnit); err != nil {
		return nil, err
	}

	rb := &RecordBatch{
		FirstRow: sp.start,
		NumRows:  int(sp.end - sp.start), //nolint: gosec
		Schema:   it.h.Schema(),
		Values:   make([]*ude.Batch, len(it.h.columns)),
		Errors:   make([]error, len(it.h.columns)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.concurrency)
	for j, column := range it.h.columns {
		g.Go(func() error {
			values, err := it.decodeColumn(gctx, column, it.metas[j], sp)
			if err != nil {
				if errors.Is(err, errs.ErrSandboxFault) {
					rb.Errors[j] = fmt.Errorf("column %q: %w", rb.Schema[j].Name, err)
					f.logger.Warn("column decode faulted",
						zap.String("column", rb.Schema[j].Name),
						zap.Uint64("first_row", sp.start),
						zap.Error(err))

					return nil
				}

				return fmt.Errorf("column %q rows [%d, %d): %w", rb.Schema[j].Name, sp.start, sp.end, err)
			}
			rb.Values[j] = values

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return rb, nil
}

// decodeColumn decodes the rows of sp from every unit of the column overlapping it.
func (it *BatchIterator) decodeColumn(ctx context.Context, column int, meta *section.ColMetadata, sp span) (*ude.Batch, error) {
	f := it.h.f
	n := meta.NumUnits()
	first := sort.Search(n, func(i int) bool { return meta.Unit(i).EndRow() > sp.start })

	var (
		out   *ude.Batch
		owned bool
	)
	for i := first; i < n; i++ {
		ref := meta.Unit(i)
		if ref.FirstRow >= sp.end {
			break
		}

		lo := max(sp.start, ref.FirstRow) - ref.FirstRow
		hi := min(sp.end, ref.EndRow()) - ref.FirstRow
		b, err := f.decodeUnit(ctx, column, meta, ref, int(lo), int(hi), it.io) //nolint: gosec
		if err != nil {
			return nil, err
		}

		if out == nil {
			out = b
			continue
		}
		if !owned {
			out, owned = out.Clone(), true
		}
		if err := out.Append(b); err != nil {
			return nil, err
		}
	}

	if out.Len() != int(sp.end-sp.start) { //nolint: gosec
		return nil, fmt.Errorf("%w: units cover %d of %d rows", errs.ErrCorruptMetadata, out.Len(), sp.end-sp.start)
	}

	return out, nil
}

// loadColMeta fetches and parses the column metadata of the projected columns of rg.
func (it *BatchIterator) loadColMeta(ctx context.Context, rg int) error {
	if it.metaRG == rg {
		return nil
	}

	f := it.h.f
	total := len(f.dir.Columns())
	ratio := float64(len(it.h.columns)) / float64(total)
	if it.region == nil && (ratio > wholeRegionRatio || total <= wholeRegionColumns) {
		off, size := f.dir.ColMetaRegion()
		region, err := f.readExtent(ctx, off, size, "col meta region")
		if err != nil {
			return err
		}
		it.region, it.regOff = region, off
	}

	group := f.dir.RowGroups()[rg]
	metas := make([]*section.ColMetadata, len(it.h.columns))
	for j, column := range it.h.columns {
		loc, err := f.dir.ColMetaLocation(rg, column)
		if err != nil {
			return err
		}

		var data []byte
		if it.region != nil {
			if loc.Offset < it.regOff || loc.Offset-it.regOff+uint64(loc.Size) > uint64(len(it.region)) {
				return fmt.Errorf("%w: col meta (%d, %d) outside its region", errs.ErrCorruptMetadata, rg, column)
			}
			start := loc.Offset - it.regOff
			data = it.region[start : start+uint64(loc.Size)]
		} else if data, err = f.readExtent(ctx, loc.Offset, uint64(loc.Size), "col meta"); err != nil {
			return err
		}

		meta, err := f.dir.ParseColMetadata(column, data)
		if err != nil {
			return fmt.Errorf("row group %d column %d: %w", rg, column, err)
		}
		if meta.RowCount != group.RowCount {
			return fmt.Errorf("%w: row group %d column %d has %d rows, want %d",
				errs.ErrCorruptMetadata, rg, column, meta.RowCount, group.RowCount)
		}
		if meta.Kind != f.dir.Columns()[column].Kind {
			return fmt.Errorf("%w: row group %d column %d is %s, schema says %s",
				errs.ErrCorruptMetadata, rg, column, meta.Kind, f.dir.Columns()[column].Kind)
		}
		metas[j] = meta
	}

	it.metaRG, it.metas = rg, metas

	return nil
}

// loadIOUnit reads an IOUnit whole when most columns are projected or checksums are
// verified. Units of unknown size are never read whole.
func (it *BatchIterator) loadIOUnit(ctx context.Context, index int) error {
	if it.io != nil && it.io.index == index {
		return nil
	}
	it.io = nil

	f := it.h.f
	u := f.dir.IOUnits()[index]
	ratio := float64(len(it.h.columns)) / float64(len(f.dir.Columns()))
	if u.Size == 0 || (ratio <= coalesceRatio && !f.cfg.verifyIOUnits) {
		return nil
	}

	data, err := f.readExtent(ctx, u.Offset, u.Size, "IOUnit")
	if err != nil {
		return err
	}
	if f.cfg.verifyIOUnits {
		if got := hash.Bytes(data); got != u.Checksum {
			return fmt.Errorf("%w: IOUnit %d checksum %016x, footer says %016x", errs.ErrChecksumMismatch, index, got, u.Checksum)
		}
	}
	it.io = &ioCache{index: index, offset: u.Offset, data: data}

	return nil
}
