//go:build unix

package source

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mmap serves ranges from a read-only memory mapping of a local file.
//
// Slices returned by ReadRange alias the mapping and become invalid after Close.
type Mmap struct {
	data []byte
}

var _ Source = (*Mmap)(nil)

// OpenMmap maps path read-only.
func OpenMmap(path string) (*Mmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return &Mmap{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &Mmap{data: data}, nil
}

// ReadRange returns a subslice of the mapping.
func (m *Mmap) ReadRange(ctx context.Context, off int64, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(off, size, int64(len(m.data))); err != nil {
		return nil, err
	}

	return m.data[off : off+int64(size) : off+int64(size)], nil
}

func (m *Mmap) Size() int64 { return int64(len(m.data)) }

// Close unmaps the file. It is idempotent.
func (m *Mmap) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil

	return unix.Munmap(data)
}
