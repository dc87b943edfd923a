// Package reader opens f3 files and iterates over projected, selected rows.
//
// Opening a file reads the postscript and footer only. Column metadata, dictionaries
// and encoding units are fetched lazily while iterating, and only for the projected
// columns of the row groups intersecting the selection.
package reader

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/internal/hash"
	"github.com/arloliu/f3/internal/metrics"
	"github.com/arloliu/f3/internal/options"
	"github.com/arloliu/f3/sandbox"
	"github.com/arloliu/f3/section"
	"github.com/arloliu/f3/source"
	"github.com/arloliu/f3/ude"
)

// verifyChunkSize bounds each read while verifying the file checksum.
const verifyChunkSize = 4 << 20

// file is the immutable state shared by a handle and every projection of it.
type file struct {
	cfg      *Config
	src      source.Source
	registry *ude.Registry
	ps       section.Postscript
	dir      section.Directory
	columns  map[string]int
	logger   *zap.Logger

	tail       []byte
	tailOffset int64

	runtimeOnce sync.Once
	runtime     *sandbox.Runtime
	ownRuntime  bool
	runtimeErr  error

	mu      sync.Mutex
	codecs  map[codecKey]*lazy[codecEntry]
	modules map[string]*lazy[ude.Codec]
	dicts   map[uint32]*lazy[*ude.Batch]

	closeOnce sync.Once
}

// Handle is an open file with a projection and a selection.
//
// Handles are immutable; Project and Select return new handles sharing the opened file,
// so a Handle is safe for concurrent use.
type Handle struct {
	f       *file
	columns []int
	ranges  []RowRange
}

// Open reads the postscript and footer of src.
//
// Parameters:
//   - ctx: Context for the reads
//   - src: File bytes; it stays owned by the caller and must outlive the handle
//   - opts: Reader options
//
// Returns:
//   - *Handle: Handle projecting every column and selecting every row
//   - error: ErrNotAnF3File, ErrUnsupportedVersion, ErrCorruptMetadata or
//     ErrChecksumMismatch, or a source error
func Open(ctx context.Context, src source.Source, opts ...Option) (*Handle, error) {
	cfg := newConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	size := src.Size()
	if size < section.PostscriptSize {
		return nil, fmt.Errorf("%w: file is %d bytes", errs.ErrNotAnF3File, size)
	}

	tailLen := min(size, int64(max(cfg.readAhead, section.PostscriptSize)))
	tail, err := src.ReadRange(ctx, size-tailLen, int(tailLen))
	if err != nil {
		return nil, err
	}
	metrics.BytesRead.Add(float64(len(tail)))

	ps, err := section.ParsePostscript(tail)
	if err != nil {
		return nil, err
	}
	if err := ps.Validate(size); err != nil {
		return nil, err
	}

	f := &file{
		cfg:        cfg,
		src:        src,
		registry:   cfg.effectiveRegistry(),
		ps:         ps,
		logger:     cfg.logger,
		tail:       tail,
		tailOffset: size - tailLen,
		runtime:    cfg.runtime,
		codecs:     make(map[codecKey]*lazy[codecEntry]),
		modules:    make(map[string]*lazy[ude.Codec]),
		dicts:      make(map[uint32]*lazy[*ude.Batch]),
	}
	f.registry.Freeze()

	footer, err := f.read(ctx, int64(ps.FooterOffset), int(ps.FooterSize)) //nolint: gosec
	if err != nil {
		return nil, err
	}
	if f.dir, err = section.ParseFooter(ps.Version, footer); err != nil {
		return nil, err
	}

	f.columns = make(map[string]int, len(f.dir.Columns()))
	for i, c := range f.dir.Columns() {
		f.columns[c.Name] = i
	}

	if cfg.verifyFile {
		if err := f.verifyChecksum(ctx); err != nil {
			return nil, err
		}
	}

	f.logger.Debug("file opened",
		zap.Uint8("major", format.MajorVersion(ps.Version)),
		zap.Uint8("minor", format.MinorVersion(ps.Version)),
		zap.Int("columns", len(f.dir.Columns())),
		zap.Int("row_groups", len(f.dir.RowGroups())),
		zap.Uint64("rows", f.dir.NumRows()))

	all := make([]int, len(f.dir.Columns()))
	for i := range all {
		all[i] = i
	}

	return &Handle{f: f, columns: all}, nil
}

// read returns [off, off+size), served from the tail buffer when it covers the range.
func (f *file) read(ctx context.Context, off int64, size int) ([]byte, error) {
	if off >= f.tailOffset && off+int64(size) <= f.tailOffset+int64(len(f.tail)) {
		start := off - f.tailOffset
		return f.tail[start : start+int64(size) : start+int64(size)], nil
	}

	data, err := f.src.ReadRange(ctx, off, size)
	if err != nil {
		return nil, err
	}
	metrics.BytesRead.Add(float64(len(data)))

	return data, nil
}

// readExtent reads a range taken from file metadata. Ranges past the data region
// are reported as ErrCorruptMetadata.
func (f *file) readExtent(ctx context.Context, off uint64, size uint64, what string) ([]byte, error) {
	end := uint64(f.src.Size() - section.PostscriptSize) //nolint: gosec
	if off > end || size > end-off {
		return nil, fmt.Errorf("%w: %s [%d, +%d) past end of data at %d", errs.ErrCorruptMetadata, what, off, size, end)
	}

	return f.read(ctx, int64(off), int(size)) //nolint: gosec
}

func (f *file) verifyChecksum(ctx context.Context) error {
	if f.ps.ChecksumType != format.ChecksumXxHash {
		return nil
	}

	digest := hash.NewDigest()
	end := f.src.Size() - section.PostscriptSize
	for off := int64(0); off < end; off += verifyChunkSize {
		n := int(min(verifyChunkSize, end-off))
		data, err := f.read(ctx, off, n)
		if err != nil {
			return err
		}
		_, _ = digest.Write(data)
	}

	if got := digest.Sum64(); got != f.ps.DataChecksum {
		return fmt.Errorf("%w: file checksum %016x, postscript says %016x", errs.ErrChecksumMismatch, got, f.ps.DataChecksum)
	}

	return nil
}

// sandboxRuntime returns the runtime for embedded codecs, creating it on first use.
func (f *file) sandboxRuntime(ctx context.Context) (*sandbox.Runtime, error) {
	f.runtimeOnce.Do(func() {
		if f.runtime != nil {
			return
		}
		opts := append([]sandbox.Option{sandbox.WithLogger(f.logger)}, f.cfg.sandboxOpts...)
		f.runtime, f.runtimeErr = sandbox.NewRuntime(ctx, opts...)
		f.ownRuntime = f.runtimeErr == nil
	})

	return f.runtime, f.runtimeErr
}

// Close releases the sandbox runtime created by the handle. It affects every handle
// derived from the same Open call and does not close the source.
func (h *Handle) Close() error {
	var err error
	h.f.closeOnce.Do(func() {
		// no runtime can be created after Close
		h.f.runtimeOnce.Do(func() {})
		if h.f.ownRuntime {
			err = h.f.runtime.Close(context.Background())
		}
	})

	return err
}

// Version returns the packed format version of the file.
func (h *Handle) Version() uint16 { return h.f.ps.Version }

// NumRows returns the number of rows in the file.
func (h *Handle) NumRows() uint64 { return h.f.dir.NumRows() }

// NumRowGroups returns the number of row groups in the file.
func (h *Handle) NumRowGroups() int { return len(h.f.dir.RowGroups()) }

// Properties returns the free-form footer properties.
func (h *Handle) Properties() map[string]string { return h.f.dir.Properties() }

// Directory exposes the parsed footer.
func (h *Handle) Directory() section.Directory { return h.f.dir }

// FileSchema returns every column of the file.
func (h *Handle) FileSchema() []ude.Column { return h.f.dir.Columns() }

// Schema returns the projected columns.
func (h *Handle) Schema() []ude.Column {
	all := h.f.dir.Columns()
	out := make([]ude.Column, len(h.columns))
	for i, c := range h.columns {
		out[i] = all[c]
	}

	return out
}

// Selection returns the normalized selected row ranges, nil when every row is selected.
func (h *Handle) Selection() []RowRange {
	return h.ranges
}

// Project returns a handle restricted to the named columns, in the given order.
// Calling it without names projects every column.
//
// Returns:
//   - *Handle: Projected handle with the same selection
//   - error: ErrColumnNotFound for an unknown name
func (h *Handle) Project(names ...string) (*Handle, error) {
	if len(names) == 0 {
		return h.ProjectIndexes()
	}

	idx := make([]int, len(names))
	for i, name := range names {
		c, ok := h.f.columns[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", errs.ErrColumnNotFound, name)
		}
		idx[i] = c
	}

	return &Handle{f: h.f, columns: idx, ranges: h.ranges}, nil
}

// ProjectIndexes returns a handle restricted to columns by file position.
// Calling it without indexes projects every column.
func (h *Handle) ProjectIndexes(idx ...int) (*Handle, error) {
	n := len(h.f.dir.Columns())
	if len(idx) == 0 {
		idx = make([]int, n)
		for i := range idx {
			idx[i] = i
		}
	}

	cols := make([]int, len(idx))
	for i, c := range idx {
		if c < 0 || c >= n {
			return nil, fmt.Errorf("%w: index %d of %d columns", errs.ErrColumnNotFound, c, n)
		}
		cols[i] = c
	}

	return &Handle{f: h.f, columns: cols, ranges: h.ranges}, nil
}

// Select returns a handle restricted to the given row ranges. Ranges are normalized:
// sorted, merged and stripped of empty ranges. Calling it without ranges selects every row.
//
// Returns:
//   - *Handle: Handle with the same projection
//   - error: ErrRowRangeOutOfBounds when a range is inverted or ends past NumRows
func (h *Handle) Select(ranges ...RowRange) (*Handle, error) {
	if len(ranges) == 0 {
		return &Handle{f: h.f, columns: h.columns}, nil
	}

	norm, err := normalizeRanges(ranges, h.NumRows())
	if err != nil {
		return nil, err
	}

	return &Handle{f: h.f, columns: h.columns, ranges: norm}, nil
}

// selection returns the effective ranges.
func (h *Handle) selection() []RowRange {
	if h.ranges != nil {
		return h.ranges
	}

	return []RowRange{{Start: 0, End: h.NumRows()}}
}
