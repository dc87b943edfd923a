package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// File reads ranges from a local file with ReadAt.
type File struct {
	f    *os.File
	size int64
}

var _ Source = (*File)(nil)

// OpenFile opens path for ranged reads.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &File{f: f, size: st.Size()}, nil
}

// ReadRange reads size bytes at off into a new slice.
func (s *File) ReadRange(ctx context.Context, off int64, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(off, size, s.size); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	n, err := s.f.ReadAt(buf, off)
	if err != nil && (!errors.Is(err, io.EOF) || n != size) {
		return nil, fmt.Errorf("read %s [%d, +%d): %w", s.f.Name(), off, size, err)
	}

	return buf, nil
}

func (s *File) Size() int64 { return s.size }

func (s *File) Close() error { return s.f.Close() }
