package codec

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/arloliu/f3/endian"
	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/internal/pool"
	"github.com/arloliu/f3/ude"
)

// DeltaID is the identifier of the delta codec.
const DeltaID = "delta"

// Delta encodes int64 values as delta-of-delta with zigzag and varint compression.
//
// Layout: count u32, then the first value, the first delta and every subsequent
// delta-of-delta as zigzag varints. Sorted or regularly spaced columns (row ids,
// timestamps, dictionary codes of slowly changing values) shrink to about one byte per row.
//
// Delta reports no optional features: the host slices the fully decoded unit.
type Delta struct{}

var _ ude.Codec = Delta{}

// NewDelta creates the delta codec.
func NewDelta() Delta {
	return Delta{}
}

func (Delta) ID() string { return DeltaID }

// Check accepts only int64 units.
func (Delta) Check(meta ude.UnitMetadata) (ude.FeatureSet, error) {
	if meta.Kind != format.KindInt64 {
		return 0, fmt.Errorf("%w: delta cannot decode %s units", errs.ErrCodecMismatch, meta.Kind)
	}

	return 0, nil
}

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63)) //nolint: gosec
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1) //nolint: gosec
}

// Encode encodes an int64 batch.
func (Delta) Encode(_ context.Context, batch *ude.Batch, _ ude.Kwargs) ([]byte, error) {
	if batch.Kind != format.KindInt64 {
		return nil, fmt.Errorf("%w: delta cannot encode %s batches", errs.ErrInvalidBatch, batch.Kind)
	}

	buf := pool.GetUnitBuffer()
	defer pool.PutUnitBuffer(buf)

	values := batch.Int64s
	buf.Grow(4 + 2*len(values))
	buf.B = endian.GetLittleEndianEngine().AppendUint32(buf.B, uint32(len(values))) //nolint: gosec

	var prev, prevDelta int64
	for i, v := range values {
		switch i {
		case 0:
			buf.B = binary.AppendUvarint(buf.B, zigzag(v))
		case 1:
			prevDelta = v - prev
			buf.B = binary.AppendUvarint(buf.B, zigzag(prevDelta))
		default:
			delta := v - prev
			buf.B = binary.AppendUvarint(buf.B, zigzag(delta-prevDelta))
			prevDelta = delta
		}
		prev = v
	}

	out := make([]byte, buf.Len())
	copy(out, buf.B)

	return out, nil
}

// Init decodes the whole unit eagerly; range and batch size kwargs are ignored.
func (Delta) Init(_ context.Context, unit []byte, _ ude.Kwargs) (ude.Decoder, error) {
	if len(unit) < 4 {
		return nil, fmt.Errorf("%w: delta unit too short", errs.ErrInvalidBatch)
	}

	count := int(endian.GetLittleEndianEngine().Uint32(unit))
	rest := unit[4:]
	if count > len(rest) {
		return nil, fmt.Errorf("%w: delta unit claims %d values in %d bytes", errs.ErrInvalidBatch, count, len(rest))
	}

	values := make([]int64, count)
	var prev, prevDelta int64
	for i := range values {
		u, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("%w: delta varint %d malformed", errs.ErrInvalidBatch, i)
		}
		rest = rest[n:]

		d := unzigzag(u)
		switch i {
		case 0:
			prev = d
		case 1:
			prevDelta = d
			prev += d
		default:
			prevDelta += d
			prev += prevDelta
		}
		values[i] = prev
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in delta unit", errs.ErrInvalidBatch, len(rest))
	}

	return newSliceDecoder(ude.NewInt64Batch(values), nil), nil
}
