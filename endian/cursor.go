package endian

import "errors"

// ErrShortBuffer is recorded by a Cursor when a read runs past the end of its buffer.
var ErrShortBuffer = errors.New("endian: short buffer")

// Cursor reads fixed-size fields sequentially from a byte slice without copying.
//
// The first out-of-bounds read records ErrShortBuffer; later reads return zero values
// so callers can decode a whole record and check Err once.
type Cursor struct {
	engine EndianEngine
	buf    []byte
	pos    int
	err    error
}

// NewCursor creates a cursor over buf using the given engine.
func NewCursor(engine EndianEngine, buf []byte) *Cursor {
	return &Cursor{engine: engine, buf: buf}
}

// Err returns the first error encountered.
func (c *Cursor) Err() error {
	return c.err
}

// Pos returns the current offset within the buffer.
func (c *Cursor) Pos() int {
	return c.pos
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

func (c *Cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || n > len(c.buf)-c.pos {
		c.err = ErrShortBuffer
		return nil
	}
	b := c.buf[c.pos : c.pos+n : c.pos+n]
	c.pos += n

	return b
}

// Uint8 reads one byte.
func (c *Cursor) Uint8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}

	return b[0]
}

// Uint16 reads a 16-bit value.
func (c *Cursor) Uint16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}

	return c.engine.Uint16(b)
}

// Uint32 reads a 32-bit value.
func (c *Cursor) Uint32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}

	return c.engine.Uint32(b)
}

// Uint64 reads a 64-bit value.
func (c *Cursor) Uint64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}

	return c.engine.Uint64(b)
}

// Bytes returns the next n bytes as a subslice of the underlying buffer.
func (c *Cursor) Bytes(n int) []byte {
	return c.take(n)
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) {
	c.take(n)
}
