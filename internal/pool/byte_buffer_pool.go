// Package pool provides reusable byte buffers for encoding units and assembling IOUnits.
package pool

import (
	"io"
	"sync"
)

const (
	UnitBufferDefaultSize     = 1024 * 64        // 64KiB
	UnitBufferMaxThreshold    = 1024 * 1024 * 4  // 4MiB
	IOUnitBufferDefaultSize   = 1024 * 1024      // 1MiB
	IOUnitBufferMaxThreshold  = 1024 * 1024 * 32 // 32MiB
	smallBufferGrowthCeiling  = 4 * UnitBufferDefaultSize
	largeBufferGrowthFraction = 4
)

// ByteBuffer is an append-only byte slice wrapper that can be returned to a pool.
type ByteBuffer struct {
	// B is the underlying byte slice.
	B []byte
}

// NewByteBuffer creates a new ByteBuffer with the specified default size.
func NewByteBuffer(defaultSize int) *ByteBuffer {
	return &ByteBuffer{
		B: make([]byte, 0, defaultSize),
	}
}

// Bytes returns the underlying byte slice.
func (bb *ByteBuffer) Bytes() []byte {
	return bb.B
}

// Reset empties the buffer but keeps the allocated memory.
func (bb *ByteBuffer) Reset() {
	bb.B = bb.B[:0]
}

// Len returns the length of the buffer.
func (bb *ByteBuffer) Len() int {
	return len(bb.B)
}

// Cap returns the capacity of the buffer.
func (bb *ByteBuffer) Cap() int {
	return cap(bb.B)
}

// Grow ensures the buffer can hold requiredBytes more bytes without reallocating.
//
// Small buffers grow by UnitBufferDefaultSize, larger ones by a quarter of their capacity.
func (bb *ByteBuffer) Grow(requiredBytes int) {
	if cap(bb.B)-len(bb.B) >= requiredBytes {
		return
	}

	growBy := UnitBufferDefaultSize
	if cap(bb.B) > smallBufferGrowthCeiling {
		growBy = cap(bb.B) / largeBufferGrowthFraction
	}
	if growBy < requiredBytes {
		growBy = requiredBytes
	}

	newBuf := make([]byte, len(bb.B), len(bb.B)+growBy)
	copy(newBuf, bb.B)
	bb.B = newBuf
}

// Write appends data to the buffer. It never fails.
func (bb *ByteBuffer) Write(data []byte) (int, error) {
	bb.B = append(bb.B, data...)
	return len(data), nil
}

// WriteTo writes the contents of the buffer to w.
func (bb *ByteBuffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(bb.B)
	return int64(n), err
}

// ByteBufferPool is a sync.Pool of ByteBuffers that drops buffers above a size threshold.
type ByteBufferPool struct {
	pool         sync.Pool
	maxThreshold int
}

// NewByteBufferPool creates a new ByteBufferPool.
//
// Parameters:
//   - defaultSize: Initial capacity of newly allocated buffers
//   - maxThreshold: Buffers with a larger capacity are not retained (0 disables the check)
//
// Returns:
//   - *ByteBufferPool: The new pool
func NewByteBufferPool(defaultSize int, maxThreshold int) *ByteBufferPool {
	return &ByteBufferPool{
		pool: sync.Pool{
			New: func() any {
				return NewByteBuffer(defaultSize)
			},
		},
		maxThreshold: maxThreshold,
	}
}

// Get retrieves an empty ByteBuffer from the pool.
func (bbp *ByteBufferPool) Get() *ByteBuffer {
	bb, _ := bbp.pool.Get().(*ByteBuffer)
	return bb
}

// Put returns a ByteBuffer to the pool.
func (bbp *ByteBufferPool) Put(bb *ByteBuffer) {
	if bb == nil {
		return
	}
	if bbp.maxThreshold > 0 && cap(bb.B) > bbp.maxThreshold {
		return
	}

	bb.Reset()
	bbp.pool.Put(bb)
}

var (
	unitDefaultPool   = NewByteBufferPool(UnitBufferDefaultSize, UnitBufferMaxThreshold)
	ioUnitDefaultPool = NewByteBufferPool(IOUnitBufferDefaultSize, IOUnitBufferMaxThreshold)
)

// GetUnitBuffer retrieves a buffer sized for a single encoding unit.
func GetUnitBuffer() *ByteBuffer {
	return unitDefaultPool.Get()
}

// PutUnitBuffer returns a buffer obtained from GetUnitBuffer.
func PutUnitBuffer(bb *ByteBuffer) {
	unitDefaultPool.Put(bb)
}

// GetIOUnitBuffer retrieves a buffer sized for assembling a whole IOUnit.
func GetIOUnitBuffer() *ByteBuffer {
	return ioUnitDefaultPool.Get()
}

// PutIOUnitBuffer returns a buffer obtained from GetIOUnitBuffer.
func PutIOUnitBuffer(bb *ByteBuffer) {
	ioUnitDefaultPool.Put(bb)
}
