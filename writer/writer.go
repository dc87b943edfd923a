// Package writer implements the incremental f3 file writer.
//
// Rows are accumulated per column until the flush policy fires, then dictionary scope
// is decided per column, columns are encoded in parallel and the resulting units are
// appended to the output as one IOUnit. Pending data stays bounded by the IOUnit size
// regardless of how large the batches passed to Write are.
package writer

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/arloliu/f3/dict"
	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/internal/hash"
	"github.com/arloliu/f3/internal/metrics"
	"github.com/arloliu/f3/internal/options"
	"github.com/arloliu/f3/sandbox"
	"github.com/arloliu/f3/section"
	"github.com/arloliu/f3/ude"
)

type state uint8

const (
	stateOpen state = iota
	stateClosed
	stateFailed
)

// FileInfo summarizes a finished file.
type FileInfo struct {
	Rows             uint64
	RowGroups        int
	IOUnits          int
	DictUnits        int
	Bytes            uint64
	PeakPendingBytes int
}

// Writer writes one f3 file.
//
// A Writer is NOT safe for concurrent use.
type Writer struct {
	cfg      *Config
	out      io.Writer
	schema   []ude.Column
	registry *ude.Registry
	flush    FlushPolicy
	dicts    *dict.Manager
	logger   *zap.Logger

	// decided at the first flush
	codecs   []ude.Codec
	codecIDs []string
	features []ude.FeatureSet
	dictOK   []bool

	runtime    *sandbox.Runtime
	ownRuntime bool

	pending      []*ude.Batch
	pendingRows  int
	pendingBytes int
	peakPending  int

	offset uint64
	digest *xxhash.Digest

	rows          uint64
	rgFirstRow    uint64
	rgFirstIOUnit int
	rgRefs        [][]section.EncUnitRef

	rowGroups []section.RowGroup
	ioUnits   []section.IOUnit
	dictTable []section.DictEntry
	colMeta   [][]byte
	dictUnits int

	state state
	err   error
}

// New creates a writer.
//
// Parameters:
//   - w: Destination; it only ever sees sequential writes
//   - schema: Columns in file order; names must be unique and non-empty
//   - opts: Writer options
//
// Returns:
//   - *Writer: Writer ready for Write
//   - error: ErrInvalidSchema, ErrCodecMismatch for a declared codec that is neither
//     registered nor embedded, or an invalid option
func New(w io.Writer, schema []ude.Column, opts ...Option) (*Writer, error) {
	cfg := newConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}
	if err := validateSchema(schema); err != nil {
		return nil, err
	}

	registry := cfg.effectiveRegistry()
	registry.Freeze()

	for _, col := range schema {
		if col.Codec == "" {
			continue
		}
		c, res := registry.Lookup(col.Codec)
		if res != ude.ResolveNative {
			if _, ok := cfg.modules[col.Codec]; !ok {
				return nil, fmt.Errorf("%w: column %q uses codec %q which is neither registered nor embedded",
					errs.ErrCodecMismatch, col.Name, col.Codec)
			}

			continue
		}
		if _, err := c.Check(ude.UnitMetadata{CodecID: col.Codec, Kind: col.Kind}); err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
	}

	wr := &Writer{
		cfg:      cfg,
		out:      w,
		schema:   append([]ude.Column(nil), schema...),
		registry: registry,
		flush:    cfg.effectiveFlushPolicy(),
		dicts:    dict.NewManager(cfg.dictPolicy),
		logger:   cfg.logger,
		runtime:  cfg.runtime,
		pending:  make([]*ude.Batch, len(schema)),
		rgRefs:   make([][]section.EncUnitRef, len(schema)),
		digest:   hash.NewDigest(),
	}
	for i, col := range schema {
		wr.pending[i] = ude.EmptyBatch(col.Kind)
	}

	return wr, nil
}

func validateSchema(schema []ude.Column) error {
	if len(schema) == 0 {
		return fmt.Errorf("%w: no columns", errs.ErrInvalidSchema)
	}

	seen := make(map[string]struct{}, len(schema))
	for i, col := range schema {
		switch {
		case col.Name == "":
			return fmt.Errorf("%w: column %d has no name", errs.ErrInvalidSchema, i)
		case len(col.Name) > math.MaxUint16:
			return fmt.Errorf("%w: column %d name is too long", errs.ErrInvalidSchema, i)
		case len(col.Codec) > math.MaxUint8:
			return fmt.Errorf("%w: column %q codec id is too long", errs.ErrInvalidSchema, col.Name)
		case !col.Kind.IsValid():
			return fmt.Errorf("%w: column %q has unknown kind %d", errs.ErrInvalidSchema, col.Name, col.Kind)
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("%w: duplicate column %q", errs.ErrInvalidSchema, col.Name)
		}
		seen[col.Name] = struct{}{}
	}

	return nil
}

// Schema returns the columns being written.
func (w *Writer) Schema() []ude.Column {
	return w.schema
}

func (w *Writer) usable() error {
	switch w.state {
	case stateClosed:
		return errs.ErrWriterClosed
	case stateFailed:
		return fmt.Errorf("%w: %w", errs.ErrWriterFailed, w.err)
	default:
		return nil
	}
}

// fail moves the writer to the failed state; no postscript will be written.
func (w *Writer) fail(err error) error {
	w.state = stateFailed
	w.err = err
	w.releaseRuntime()
	w.logger.Error("writer failed", zap.Error(err))

	return err
}

// Write appends rows.
//
// cols holds one batch per schema column, all of the same length. The values are
// copied, so callers may reuse the batches after Write returns.
//
// Returns:
//   - error: ErrSchemaMismatch for malformed input (the writer stays usable),
//     EncodeFailedError or an I/O error from a flush (the writer fails)
func (w *Writer) Write(ctx context.Context, cols []*ude.Batch) error {
	if err := w.usable(); err != nil {
		return err
	}

	rows, err := w.validateBatches(cols)
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}

	total := 0
	for _, c := range cols {
		total += c.ByteSize()
	}
	rowBytes := max(1, total/rows)

	for pos := 0; pos < rows; {
		n := w.chunkRows(rowBytes, rows-pos)
		for i, c := range cols {
			chunk := c.Slice(pos, pos+n)
			w.pendingBytes += chunk.ByteSize()
			if chunk.Kind == format.KindBinary {
				chunk = chunk.Clone()
			}
			if err := w.pending[i].Append(chunk); err != nil {
				return w.fail(err)
			}
		}
		w.pendingRows += n
		w.peakPending = max(w.peakPending, w.pendingBytes)
		pos += n

		if w.flush.ShouldFlush(PendingState{Rows: w.pendingRows, Bytes: w.pendingBytes}) {
			if err := w.flushIOUnit(ctx); err != nil {
				return w.fail(err)
			}
		}
		if w.cfg.rowGroupRows > 0 && w.rowGroupRows() >= uint64(w.cfg.rowGroupRows) {
			if err := w.endRowGroup(ctx); err != nil {
				return w.fail(err)
			}
		}
	}

	return nil
}

func (w *Writer) validateBatches(cols []*ude.Batch) (int, error) {
	if len(cols) != len(w.schema) {
		return 0, fmt.Errorf("%w: got %d columns, schema has %d", errs.ErrSchemaMismatch, len(cols), len(w.schema))
	}

	rows := -1
	for i, c := range cols {
		if err := c.Validate(); err != nil {
			return 0, fmt.Errorf("%w: column %q: %w", errs.ErrSchemaMismatch, w.schema[i].Name, err)
		}
		if c.Kind != w.schema[i].Kind {
			return 0, fmt.Errorf("%w: column %q is %s, got %s", errs.ErrSchemaMismatch, w.schema[i].Name, w.schema[i].Kind, c.Kind)
		}
		if rows >= 0 && c.Len() != rows {
			return 0, fmt.Errorf("%w: column %q has %d rows, want %d", errs.ErrSchemaMismatch, w.schema[i].Name, c.Len(), rows)
		}
		rows = c.Len()
	}

	return rows, nil
}

// chunkRows returns how many of the remaining input rows to accumulate before the
// flush policy is consulted again.
func (w *Writer) chunkRows(rowBytes, remaining int) int {
	budget := max(w.cfg.ioUnitSize-w.pendingBytes, rowBytes)
	n := budget / rowBytes

	if w.cfg.rowThreshold > 0 {
		n = min(n, max(1, w.cfg.rowThreshold-w.pendingRows))
	}
	if w.cfg.rowGroupRows > 0 {
		left := uint64(w.cfg.rowGroupRows) - min(w.rowGroupRows(), uint64(w.cfg.rowGroupRows))
		n = min(n, int(max(1, left))) //nolint: gosec
	}

	return max(1, min(n, remaining))
}

func (w *Writer) rowGroupRows() uint64 {
	return w.rows + uint64(w.pendingRows) - w.rgFirstRow
}

// EndRowGroup flushes pending rows and closes the current row group.
// It is a no-op when the row group is empty.
func (w *Writer) EndRowGroup(ctx context.Context) error {
	if err := w.usable(); err != nil {
		return err
	}
	if err := w.endRowGroup(ctx); err != nil {
		return w.fail(err)
	}

	return nil
}

// endRowGroup always flushes first: IOUnits never span a row group boundary.
func (w *Writer) endRowGroup(ctx context.Context) error {
	if err := w.flushIOUnit(ctx); err != nil {
		return err
	}

	rgRows := w.rows - w.rgFirstRow
	if rgRows == 0 {
		return nil
	}

	for i, col := range w.schema {
		meta := section.NewColMetadata(w.codecIDs[i], uint32(w.features[i]), col.Kind, rgRows, w.rgRefs[i])
		rec, err := meta.Bytes()
		if err != nil {
			return err
		}
		w.colMeta = append(w.colMeta, rec)
		w.rgRefs[i] = nil
	}

	w.rowGroups = append(w.rowGroups, section.RowGroup{
		FirstRow:    w.rgFirstRow,
		RowCount:    rgRows,
		FirstIOUnit: uint32(w.rgFirstIOUnit),                  //nolint: gosec
		IOUnitCount: uint32(len(w.ioUnits) - w.rgFirstIOUnit), //nolint: gosec
	})
	w.logger.Debug("row group closed",
		zap.Int("row_group", len(w.rowGroups)-1),
		zap.Uint64("rows", rgRows),
		zap.Int("io_units", len(w.ioUnits)-w.rgFirstIOUnit))

	w.rgFirstRow = w.rows
	w.rgFirstIOUnit = len(w.ioUnits)

	return nil
}

// Abort discards the writer. Nothing more is written; the output holds an incomplete
// file without a postscript.
func (w *Writer) Abort() {
	if w.state == stateOpen {
		w.state = stateClosed
	}
	for i := range w.pending {
		w.pending[i] = nil
	}
	w.releaseRuntime()
}

// write appends p to the output and to the data checksum.
func (w *Writer) write(p []byte) error {
	if err := w.emit(p); err != nil {
		return err
	}
	_, _ = w.digest.Write(p)

	return nil
}

// emit writes p to the sink without adding it to the data checksum.
func (w *Writer) emit(p []byte) error {
	n, err := w.out.Write(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("write at offset %d: %w", w.offset, err)
	}

	w.offset += uint64(n)
	metrics.BytesWritten.Add(float64(n))

	return nil
}

func (w *Writer) sandboxRuntime(ctx context.Context) (*sandbox.Runtime, error) {
	if w.runtime != nil {
		return w.runtime, nil
	}

	opts := append([]sandbox.Option{sandbox.WithLogger(w.logger)}, w.cfg.sandboxOpts...)
	rt, err := sandbox.NewRuntime(ctx, opts...)
	if err != nil {
		return nil, err
	}
	w.runtime = rt
	w.ownRuntime = true

	return rt, nil
}

func (w *Writer) releaseRuntime() {
	if w.ownRuntime && w.runtime != nil {
		_ = w.runtime.Close(context.Background())
		w.runtime = nil
		w.ownRuntime = false
	}
}
