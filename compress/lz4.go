package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/f3/format"
	"github.com/pierrec/lz4/v4"
)

// lz4SizePrefix is the length of the uncompressed size stored ahead of every LZ4 block.
const lz4SizePrefix = 4

// maxLZ4BlockSize bounds the decompression buffer for corrupted size prefixes.
const maxLZ4BlockSize = 1 << 30

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// LZ4Compressor provides LZ4 block compression.
//
// Each compressed block is prefixed with the uncompressed length so the
// decompressor allocates the output buffer exactly once.
type LZ4Compressor struct{}

var _ Codec = (*LZ4Compressor)(nil)

// NewLZ4Compressor creates a new LZ4 compressor.
//
// Returns:
//   - LZ4Compressor: New LZ4 compressor instance
func NewLZ4Compressor() LZ4Compressor {
	return LZ4Compressor{}
}

// Type returns format.CompressionLZ4.
func (c LZ4Compressor) Type() format.CompressionType {
	return format.CompressionLZ4
}

// Compress compresses the input data using a pooled lz4.Compressor.
//
// Parameters:
//   - data: Input data to compress
//
// Returns:
//   - []byte: Size-prefixed compressed block (nil if input is empty)
//   - error: Compression error if any
func (c LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) > maxLZ4BlockSize {
		return nil, fmt.Errorf("lz4 input too large: %d bytes", len(data))
	}

	dst := make([]byte, lz4SizePrefix+lz4.CompressBlockBound(len(data)))
	binary.LittleEndian.PutUint32(dst, uint32(len(data))) //nolint: gosec

	lc, _ := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	n, err := lc.CompressBlock(data, dst[lz4SizePrefix:])
	if err != nil {
		return nil, err
	}

	// Incompressible input yields n == 0, store it raw behind a zero marker.
	if n == 0 {
		binary.LittleEndian.PutUint32(dst, 0)
		dst = append(dst[:lz4SizePrefix], data...)

		return dst, nil
	}

	return dst[:lz4SizePrefix+n], nil
}

// Decompress decompresses a block produced by Compress.
//
// Parameters:
//   - data: Size-prefixed compressed block
//
// Returns:
//   - []byte: Decompressed data (nil if input is empty)
//   - error: Decompression error for truncated or corrupted blocks
func (c LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < lz4SizePrefix {
		return nil, errors.New("lz4 block too short")
	}

	size := binary.LittleEndian.Uint32(data)
	if size == 0 {
		out := make([]byte, len(data)-lz4SizePrefix)
		copy(out, data[lz4SizePrefix:])

		return out, nil
	}
	if size > maxLZ4BlockSize {
		return nil, fmt.Errorf("lz4 block size %d exceeds limit", size)
	}

	buf := make([]byte, size)
	n, err := lz4.UncompressBlock(data[lz4SizePrefix:], buf)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompression failed: %w", err)
	}
	if n != int(size) {
		return nil, fmt.Errorf("lz4 size mismatch: expected %d, got %d", size, n)
	}

	return buf, nil
}
