// Package source provides random-access byte sources for the f3 reader.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrOutOfRange is returned when a read extends past the end of the source.
var ErrOutOfRange = errors.New("read out of range")

// Source is an immutable, random-access byte range provider.
//
// Implementations must be safe for concurrent ReadRange calls. Returned slices must not
// be modified by callers; they may alias memory owned by the source and stay valid
// until Close.
type Source interface {
	// ReadRange returns size bytes starting at off.
	ReadRange(ctx context.Context, off int64, size int) ([]byte, error)
	// Size returns the total number of bytes.
	Size() int64
	io.Closer
}

func checkRange(off int64, size int, total int64) error {
	if off < 0 || size < 0 || off+int64(size) > total {
		return fmt.Errorf("%w: [%d, +%d) of %d bytes", ErrOutOfRange, off, size, total)
	}

	return nil
}

// Bytes is an in-memory source.
type Bytes struct {
	data []byte
}

var _ Source = (*Bytes)(nil)

// NewBytes wraps data without copying it.
func NewBytes(data []byte) *Bytes {
	return &Bytes{data: data}
}

// ReadRange returns a subslice of the underlying data.
func (b *Bytes) ReadRange(ctx context.Context, off int64, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(off, size, int64(len(b.data))); err != nil {
		return nil, err
	}

	return b.data[off : off+int64(size) : off+int64(size)], nil
}

func (b *Bytes) Size() int64 { return int64(len(b.data)) }

func (b *Bytes) Close() error { return nil }
