package ude

import (
	"fmt"
	"math"

	"github.com/arloliu/f3/endian"
	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
)

// WireHeaderSize is the size of the kind and count prefix of a wire batch.
const WireHeaderSize = 5

var engine = endian.GetLittleEndianEngine()

// WireSize returns the exact number of bytes AppendWire will produce for b.
func WireSize(b *Batch) int {
	n := b.Len()
	switch b.Kind {
	case format.KindInt64, format.KindFloat64:
		return WireHeaderSize + 8*n
	case format.KindBinary:
		size := WireHeaderSize + 4*(n+1)
		for _, v := range b.Binaries {
			size += len(v)
		}

		return size
	default:
		return WireHeaderSize
	}
}

// AppendWire appends the canonical wire encoding of b to dst.
//
// Parameters:
//   - dst: Destination buffer (may be nil)
//   - b: Batch to encode
//
// Returns:
//   - []byte: dst extended with the encoded batch
//   - error: ErrInvalidBatch for unknown kinds or binary payloads above 4 GiB
func AppendWire(dst []byte, b *Batch) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return dst, err
	}

	n := b.Len()
	if uint64(n) > math.MaxUint32 {
		return dst, fmt.Errorf("%w: batch too large (%d values)", errs.ErrInvalidBatch, n)
	}

	dst = append(dst, byte(b.Kind))
	dst = engine.AppendUint32(dst, uint32(n)) //nolint: gosec

	switch b.Kind {
	case format.KindInt64:
		for _, v := range b.Int64s {
			dst = engine.AppendUint64(dst, uint64(v)) //nolint: gosec
		}
	case format.KindFloat64:
		for _, v := range b.Float64s {
			dst = engine.AppendUint64(dst, math.Float64bits(v))
		}
	case format.KindBinary:
		var off uint64
		dst = engine.AppendUint32(dst, 0)
		for _, v := range b.Binaries {
			off += uint64(len(v))
			if off > math.MaxUint32 {
				return dst, fmt.Errorf("%w: binary payload exceeds 4 GiB", errs.ErrInvalidBatch)
			}
			dst = engine.AppendUint32(dst, uint32(off))
		}
		for _, v := range b.Binaries {
			dst = append(dst, v...)
		}
	}

	return dst, nil
}

// MarshalWire returns the canonical wire encoding of b.
func MarshalWire(b *Batch) ([]byte, error) {
	return AppendWire(make([]byte, 0, WireSize(b)), b)
}

// UnmarshalWire decodes a wire batch.
//
// Binary values are subslices of data and stay valid only as long as data does.
//
// Parameters:
//   - data: Encoded batch; trailing bytes are rejected
//
// Returns:
//   - *Batch: Decoded batch
//   - error: ErrInvalidBatch if data is truncated, has an unknown kind or inconsistent offsets
func UnmarshalWire(data []byte) (*Batch, error) {
	c := endian.NewCursor(engine, data)
	kind := format.Kind(c.Uint8())
	count := int(c.Uint32())
	if c.Err() != nil {
		return nil, fmt.Errorf("%w: truncated header", errs.ErrInvalidBatch)
	}

	b := &Batch{Kind: kind}
	switch kind {
	case format.KindInt64, format.KindFloat64:
		if c.Remaining() != 8*count {
			return nil, fmt.Errorf("%w: expected %d payload bytes, got %d", errs.ErrInvalidBatch, 8*count, c.Remaining())
		}
		if kind == format.KindInt64 {
			b.Int64s = make([]int64, count)
			for i := range b.Int64s {
				b.Int64s[i] = int64(c.Uint64()) //nolint: gosec
			}
		} else {
			b.Float64s = make([]float64, count)
			for i := range b.Float64s {
				b.Float64s[i] = math.Float64frombits(c.Uint64())
			}
		}
	case format.KindBinary:
		offsets := c.Bytes(4 * (count + 1))
		if c.Err() != nil {
			return nil, fmt.Errorf("%w: truncated offsets", errs.ErrInvalidBatch)
		}
		payload := c.Bytes(c.Remaining())
		b.Binaries = make([][]byte, count)
		prev := engine.Uint32(offsets)
		if prev != 0 {
			return nil, fmt.Errorf("%w: first offset must be zero", errs.ErrInvalidBatch)
		}
		for i := range count {
			next := engine.Uint32(offsets[4*(i+1):])
			if next < prev || int(next) > len(payload) {
				return nil, fmt.Errorf("%w: offset %d out of range", errs.ErrInvalidBatch, i+1)
			}
			b.Binaries[i] = payload[prev:next:next]
			prev = next
		}
		if int(prev) != len(payload) {
			return nil, fmt.Errorf("%w: %d trailing payload bytes", errs.ErrInvalidBatch, len(payload)-int(prev))
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", errs.ErrInvalidBatch, kind)
	}

	return b, nil
}
