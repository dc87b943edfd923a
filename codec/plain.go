package codec

import (
	"context"
	"fmt"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/ude"
)

// PlainID is the identifier of the plain codec.
const PlainID = "plain"

const plainFeatures = ude.FeatureSet(format.FeatureRangeDecode | format.FeatureBatchSize)

// Plain stores batches in the canonical wire format.
type Plain struct{}

var _ ude.Codec = Plain{}

// NewPlain creates the plain codec.
func NewPlain() Plain {
	return Plain{}
}

// ID returns "plain".
func (Plain) ID() string { return PlainID }

// Check accepts every valid kind and reports range decode and batch size support.
func (Plain) Check(meta ude.UnitMetadata) (ude.FeatureSet, error) {
	if !meta.Kind.IsValid() {
		return 0, fmt.Errorf("%w: plain cannot decode kind %d", errs.ErrCodecMismatch, meta.Kind)
	}

	return plainFeatures, nil
}

// Init parses the unit and returns a decoder honoring range and batch size kwargs.
func (Plain) Init(_ context.Context, unit []byte, kwargs ude.Kwargs) (ude.Decoder, error) {
	batch, err := ude.UnmarshalWire(unit)
	if err != nil {
		return nil, err
	}

	return newSliceDecoder(batch, kwargs), nil
}

// Encode encodes batch in the wire format.
func (Plain) Encode(_ context.Context, batch *ude.Batch, _ ude.Kwargs) ([]byte, error) {
	return ude.MarshalWire(batch)
}

// sliceDecoder yields an already materialized batch restricted to the requested range,
// in chunks of at most batch_size rows.
type sliceDecoder struct {
	batch     *ude.Batch
	pos       int
	end       int
	batchSize int
	done      bool
}

func newSliceDecoder(batch *ude.Batch, kwargs ude.Kwargs) *sliceDecoder {
	start, end := kwargs.RowRange(batch.Len())
	size := 0
	if v, ok := kwargs.Int(ude.KwargBatchSize); ok && v > 0 {
		size = int(v)
	}

	return &sliceDecoder{batch: batch, pos: start, end: end, batchSize: size}
}

func (d *sliceDecoder) Decode(ctx context.Context) (*ude.Batch, error) {
	if d.done || d.pos >= d.end {
		d.done = true
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next := d.end
	if d.batchSize > 0 && d.pos+d.batchSize < d.end {
		next = d.pos + d.batchSize
	}
	out := d.batch.Slice(d.pos, next)
	d.pos = next
	if d.pos >= d.end {
		d.done = true
	}

	return out, nil
}

func (d *sliceDecoder) Close() error {
	d.done = true
	d.batch = nil

	return nil
}
