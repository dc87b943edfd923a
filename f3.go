// Package f3 provides a columnar file format whose decoders travel with the data.
//
// A file stores typed columns in IOUnits, contiguous byte ranges written in one flush.
// Every encoding unit names the codec that produced it. Readers resolve the codec from
// their registry of native codecs first and fall back to a WebAssembly module embedded
// in the file, executed in a sandbox with memory and time limits.
//
// # Core Features
//
//   - Incremental writer whose pending memory stays bounded by the IOUnit size
//   - Per-IOUnit and file-wide shared dictionaries for low-cardinality columns
//   - Projection and row range selection that only fetch the bytes they need
//   - Embedded codec modules with fault isolation per column
//   - Readers for local files, memory-mapped files, byte slices and S3 objects
//
// # Basic Usage
//
// Writing a file:
//
//	schema := []ude.Column{
//	    {Name: "ts", Kind: format.KindInt64, Codec: codec.DeltaID},
//	    {Name: "host", Kind: format.KindBinary},
//	}
//	w, _ := f3.NewWriter(out, schema)
//	_ = w.Write(ctx, []*ude.Batch{ude.NewInt64Batch(ts), ude.NewStringBatch(hosts...)})
//	info, _ := w.Finish(ctx)
//
// Reading it back:
//
//	f, _ := f3.OpenFile(ctx, "metrics.f3")
//	defer f.Close()
//
//	h, _ := f.Project("host")
//	it, _ := h.Batches(ctx)
//	for rb, err := range it.All(ctx) {
//	    ...
//	}
//
// # Package Structure
//
// This package provides convenience wrappers around the writer, reader and source
// packages. For fine-grained control use those packages directly.
package f3

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/arloliu/f3/reader"
	"github.com/arloliu/f3/source"
	"github.com/arloliu/f3/ude"
	"github.com/arloliu/f3/writer"
)

// NewWriter creates a writer emitting a file to w.
//
// Parameters:
//   - w: Destination, written sequentially
//   - schema: Columns in file order
//   - opts: Writer options
//
// Returns:
//   - *writer.Writer: Writer ready for Write
//   - error: Invalid schema or options
func NewWriter(w io.Writer, schema []ude.Column, opts ...writer.Option) (*writer.Writer, error) {
	return writer.New(w, schema, opts...)
}

// FileWriter writes a file on the local filesystem.
type FileWriter struct {
	*writer.Writer
	f *os.File
}

// CreateFile creates or truncates path and returns a writer for it.
//
// Parameters:
//   - path: Destination file
//   - schema: Columns in file order
//   - opts: Writer options
//
// Returns:
//   - *FileWriter: Writer whose Finish and Abort also close the file
//   - error: File creation failure, invalid schema or options
func CreateFile(path string, schema []ude.Column, opts ...writer.Option) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w, err := writer.New(f, schema, opts...)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return nil, err
	}

	return &FileWriter{Writer: w, f: f}, nil
}

// Finish completes the file, syncs and closes it.
func (fw *FileWriter) Finish(ctx context.Context) (writer.FileInfo, error) {
	info, err := fw.Writer.Finish(ctx)
	if err != nil {
		return info, errors.Join(err, fw.f.Close())
	}
	if err := fw.f.Sync(); err != nil {
		_ = fw.f.Close()
		return info, err
	}

	return info, fw.f.Close()
}

// Abort discards the writer and closes the incomplete file.
func (fw *FileWriter) Abort() {
	fw.Writer.Abort()
	_ = fw.f.Close()
}

// File is an open file together with the source it reads from.
type File struct {
	*reader.Handle
	src source.Source
}

// Open opens a file from any source. Closing the returned File closes src.
//
// Parameters:
//   - ctx: Context for the metadata reads
//   - src: File bytes
//   - opts: Reader options
//
// Returns:
//   - *File: Handle projecting every column and selecting every row
//   - error: Invalid file or source error
func Open(ctx context.Context, src source.Source, opts ...reader.Option) (*File, error) {
	h, err := reader.Open(ctx, src, opts...)
	if err != nil {
		return nil, err
	}

	return &File{Handle: h, src: src}, nil
}

// OpenFile memory-maps path and opens it.
func OpenFile(ctx context.Context, path string, opts ...reader.Option) (*File, error) {
	src, err := source.OpenMmap(path)
	if err != nil {
		return nil, err
	}

	f, err := Open(ctx, src, opts...)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	return f, nil
}

// OpenBytes opens a file held in memory.
func OpenBytes(ctx context.Context, data []byte, opts ...reader.Option) (*File, error) {
	return Open(ctx, source.NewBytes(data), opts...)
}

// Close releases the handle and then the source.
func (f *File) Close() error {
	return errors.Join(f.Handle.Close(), f.src.Close())
}
