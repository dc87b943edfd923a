package codec

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"github.com/arloliu/f3/endian"
	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/internal/pool"
	"github.com/arloliu/f3/ude"
)

// GorillaID is the identifier of the Gorilla codec.
const GorillaID = "gorilla"

// Gorilla encodes float64 values with XOR compression against the previous value.
//
// Layout: count u32, then a big-endian bit stream. The first value takes 64 bits.
// Each later value is XORed with its predecessor:
//   - 0: value unchanged
//   - 10 + meaningful bits: XOR fits the previous leading/trailing zero window
//   - 11 + 5-bit leading zeros + 6-bit block size - 1 + meaningful bits: new window
//
// Slowly changing gauges cost a few bits per row. Gorilla reports no optional features.
type Gorilla struct{}

var _ ude.Codec = Gorilla{}

// NewGorilla creates the Gorilla codec.
func NewGorilla() Gorilla {
	return Gorilla{}
}

func (Gorilla) ID() string { return GorillaID }

// Check accepts only float64 units.
func (Gorilla) Check(meta ude.UnitMetadata) (ude.FeatureSet, error) {
	if meta.Kind != format.KindFloat64 {
		return 0, fmt.Errorf("%w: gorilla cannot decode %s units", errs.ErrCodecMismatch, meta.Kind)
	}

	return 0, nil
}

// bitWriter accumulates bits MSB first in a 64-bit word.
type bitWriter struct {
	buf   *pool.ByteBuffer
	word  uint64
	count int
}

func (w *bitWriter) writeBits(v uint64, n int) {
	if n == 0 {
		return
	}
	if n < 64 {
		v &= 1<<n - 1
	}

	free := 64 - w.count
	if n < free {
		w.word = w.word<<n | v
		w.count += n

		return
	}

	// fill the word, flush it and keep the low bits that did not fit
	rest := n - free
	if free == 64 {
		w.word = v >> rest
	} else {
		w.word = w.word<<free | v>>rest
	}
	w.buf.B = endian.GetBigEndianEngine().AppendUint64(w.buf.B, w.word)
	w.word, w.count = 0, 0
	if rest > 0 {
		w.word = v & (1<<rest - 1)
		w.count = rest
	}
}

// flush writes the pending bits, padded with zeros to a byte boundary.
func (w *bitWriter) flush() {
	if w.count == 0 {
		return
	}
	word := w.word << (64 - w.count)
	for i := 0; i < (w.count+7)/8; i++ {
		w.buf.B = append(w.buf.B, byte(word>>(56-8*i)))
	}
	w.word, w.count = 0, 0
}

// Encode encodes a float64 batch.
func (Gorilla) Encode(_ context.Context, batch *ude.Batch, _ ude.Kwargs) ([]byte, error) {
	if batch.Kind != format.KindFloat64 {
		return nil, fmt.Errorf("%w: gorilla cannot encode %s batches", errs.ErrInvalidBatch, batch.Kind)
	}

	buf := pool.GetUnitBuffer()
	defer pool.PutUnitBuffer(buf)

	values := batch.Float64s
	buf.Grow(4 + 2*len(values))
	buf.B = endian.GetLittleEndianEngine().AppendUint32(buf.B, uint32(len(values))) //nolint: gosec

	w := &bitWriter{buf: buf}
	var prev uint64
	leading, trailing := -1, 0
	for i, f := range values {
		v := math.Float64bits(f)
		if i == 0 {
			w.writeBits(v, 64)
			prev = v

			continue
		}

		xor := v ^ prev
		prev = v
		if xor == 0 {
			w.writeBits(0, 1)
			continue
		}

		lz := min(bits.LeadingZeros64(xor), 31)
		tz := bits.TrailingZeros64(xor)
		if leading >= 0 && lz >= leading && tz >= trailing {
			w.writeBits(0b10, 2)
			w.writeBits(xor>>trailing, 64-leading-trailing)

			continue
		}

		size := 64 - lz - tz
		w.writeBits(0b11, 2)
		w.writeBits(uint64(lz), 5)     //nolint: gosec
		w.writeBits(uint64(size-1), 6) //nolint: gosec
		w.writeBits(xor>>tz, size)
		leading, trailing = lz, tz
	}
	w.flush()

	out := make([]byte, buf.Len())
	copy(out, buf.B)

	return out, nil
}

// bitReader reads bits MSB first.
type bitReader struct {
	data []byte
	pos  int // bit position
}

func (r *bitReader) readBits(n int) (uint64, bool) {
	if r.pos+n > 8*len(r.data) {
		return 0, false
	}

	var v uint64
	for n > 0 {
		byteIdx, bitIdx := r.pos/8, r.pos%8
		take := min(8-bitIdx, n)
		b := uint64(r.data[byteIdx]>>(8-bitIdx-take)) & (1<<take - 1)
		v = v<<take | b
		r.pos += take
		n -= take
	}

	return v, true
}

// Init decodes the whole unit eagerly; range and batch size kwargs are ignored.
func (Gorilla) Init(_ context.Context, unit []byte, _ ude.Kwargs) (ude.Decoder, error) {
	if len(unit) < 4 {
		return nil, fmt.Errorf("%w: gorilla unit too short", errs.ErrInvalidBatch)
	}

	count := int(endian.GetLittleEndianEngine().Uint32(unit))
	r := &bitReader{data: unit[4:]}
	if count > 8*len(r.data) {
		return nil, fmt.Errorf("%w: gorilla unit claims %d values in %d bytes", errs.ErrInvalidBatch, count, len(r.data))
	}

	corrupt := func(i int) error {
		return fmt.Errorf("%w: gorilla stream truncated at value %d", errs.ErrInvalidBatch, i)
	}

	values := make([]float64, count)
	var prev uint64
	leading, size := 0, 0
	for i := range values {
		if i == 0 {
			v, ok := r.readBits(64)
			if !ok {
				return nil, corrupt(i)
			}
			prev = v
			values[i] = math.Float64frombits(v)

			continue
		}

		changed, ok := r.readBits(1)
		if !ok {
			return nil, corrupt(i)
		}
		if changed == 1 {
			newWindow, ok := r.readBits(1)
			if !ok {
				return nil, corrupt(i)
			}
			if newWindow == 1 {
				lz, ok1 := r.readBits(5)
				sz, ok2 := r.readBits(6)
				if !ok1 || !ok2 {
					return nil, corrupt(i)
				}
				leading, size = int(lz), int(sz)+1
				if leading+size > 64 {
					return nil, fmt.Errorf("%w: gorilla window %d+%d exceeds 64 bits", errs.ErrInvalidBatch, leading, size)
				}
			} else if size == 0 {
				return nil, fmt.Errorf("%w: gorilla value %d reuses an undefined window", errs.ErrInvalidBatch, i)
			}

			meaningful, ok := r.readBits(size)
			if !ok {
				return nil, corrupt(i)
			}
			prev ^= meaningful << (64 - leading - size)
		}
		values[i] = math.Float64frombits(prev)
	}

	return newSliceDecoder(ude.NewFloat64Batch(values), nil), nil
}
