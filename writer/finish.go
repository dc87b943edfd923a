package writer

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/arloliu/f3/compress"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/section"
)

// Finish flushes pending rows, closes the last row group and writes the metadata part:
// OptData, ColMetadata records, footer and postscript.
//
// The writer is closed afterwards; the destination is not closed.
//
// Returns:
//   - FileInfo: Summary of the written file
//   - error: Any flush or write error; the writer fails and no postscript is written
func (w *Writer) Finish(ctx context.Context) (FileInfo, error) {
	if err := w.usable(); err != nil {
		return FileInfo{}, err
	}
	if err := w.endRowGroup(ctx); err != nil {
		return FileInfo{}, w.fail(err)
	}
	if err := w.writeMetadata(); err != nil {
		return FileInfo{}, w.fail(err)
	}

	w.state = stateClosed
	w.releaseRuntime()

	info := FileInfo{
		Rows:             w.rows,
		RowGroups:        len(w.rowGroups),
		IOUnits:          len(w.ioUnits),
		DictUnits:        w.dictUnits,
		Bytes:            w.offset,
		PeakPendingBytes: w.peakPending,
	}
	w.logger.Info("file written",
		zap.Uint64("rows", info.Rows),
		zap.Int("row_groups", info.RowGroups),
		zap.Int("io_units", info.IOUnits),
		zap.Int("dict_units", info.DictUnits),
		zap.Uint64("bytes", info.Bytes))

	return info, nil
}

func (w *Writer) writeMetadata() error {
	metaStart := w.offset

	optData, err := w.writeOptData()
	if err != nil {
		return err
	}

	locs := make([]section.ColMetaLocation, len(w.colMeta))
	for i, rec := range w.colMeta {
		locs[i] = section.ColMetaLocation{Offset: w.offset, Size: uint32(len(rec))} //nolint: gosec
		if err := w.write(rec); err != nil {
			return err
		}
	}

	columns := slices.Clone(w.schema)
	for i := range columns {
		if w.codecIDs != nil {
			columns[i].Codec = w.codecIDs[i]
		}
	}

	footer := &section.Footer{
		Columns:    columns,
		RowGroups:  w.rowGroups,
		IOUnits:    w.ioUnits,
		Dicts:      w.dictTable,
		ColMeta:    locs,
		OptData:    optData,
		Properties: w.cfg.properties,
	}
	fb, err := footer.Bytes()
	if err != nil {
		return err
	}

	footerOffset := w.offset
	if err := w.write(fb); err != nil {
		return err
	}

	ps := section.Postscript{
		FooterOffset: footerOffset,
		FooterSize:   uint32(len(fb)),              //nolint: gosec
		MetadataSize: uint32(w.offset - metaStart), //nolint: gosec
		DataChecksum: w.digest.Sum64(),
		ChecksumType: format.ChecksumXxHash,
		Version:      format.CurrentVersion,
	}

	if err := w.emit(ps.Bytes()); err != nil {
		return fmt.Errorf("write postscript: %w", err)
	}

	return nil
}

// writeOptData writes the embedded modules of the codecs used by the file.
func (w *Writer) writeOptData() ([]section.OptDataEntry, error) {
	used := make(map[string]struct{})
	for i, col := range w.schema {
		id := col.Codec
		if w.codecIDs != nil {
			id = w.codecIDs[i]
		}
		if _, ok := w.cfg.modules[id]; ok {
			used[id] = struct{}{}
		}
	}
	if len(used) == 0 {
		return nil, nil
	}

	codec, err := compress.GetCodec(w.cfg.optCompression)
	if err != nil {
		return nil, err
	}

	ids := slices.Sorted(maps.Keys(used))
	entries := make([]section.OptDataEntry, 0, len(ids))
	for _, id := range ids {
		data, err := codec.Compress(w.cfg.modules[id])
		if err != nil {
			return nil, fmt.Errorf("compress module %q: %w", id, err)
		}

		entries = append(entries, section.OptDataEntry{
			Key:         section.CodecKey(id),
			Offset:      w.offset,
			Size:        uint32(len(data)), //nolint: gosec
			Compression: codec.Type(),
		})
		if err := w.write(data); err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// Info returns statistics about the rows written so far.
func (w *Writer) Info() FileInfo {
	return FileInfo{
		Rows:             w.rows + uint64(w.pendingRows),
		RowGroups:        len(w.rowGroups),
		IOUnits:          len(w.ioUnits),
		DictUnits:        w.dictUnits,
		Bytes:            w.offset,
		PeakPendingBytes: w.peakPending,
	}
}

