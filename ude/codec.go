package ude

import (
	"context"
	"fmt"
	"io"

	"github.com/arloliu/f3/endian"
	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
)

// FeatureSet is the set of optional capabilities a codec reports from Check.
type FeatureSet uint32

// Has reports whether all bits of f are present.
func (fs FeatureSet) Has(f format.Feature) bool {
	return uint32(fs)&uint32(f) == uint32(f)
}

// UnitMetadata is what Check sees about the units it will be asked to decode.
type UnitMetadata struct {
	CodecID  string
	Kind     format.Kind
	RowCount uint64
	DictMode format.DictMode
}

// MarshalBinary encodes the metadata as kind u8 | dict_mode u8 | row_count u64 | id_len u16 | id.
func (m UnitMetadata) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 12+len(m.CodecID))
	buf = append(buf, byte(m.Kind), byte(m.DictMode))
	buf = engine.AppendUint64(buf, m.RowCount)
	buf = engine.AppendUint16(buf, uint16(len(m.CodecID))) //nolint: gosec
	buf = append(buf, m.CodecID...)

	return buf, nil
}

// UnmarshalUnitMetadata decodes UnitMetadata.MarshalBinary output.
func UnmarshalUnitMetadata(data []byte) (UnitMetadata, error) {
	c := endian.NewCursor(engine, data)
	m := UnitMetadata{
		Kind:     format.Kind(c.Uint8()),
		DictMode: format.DictMode(c.Uint8()),
		RowCount: c.Uint64(),
	}
	m.CodecID = string(c.Bytes(int(c.Uint16())))
	if c.Err() != nil {
		return UnitMetadata{}, fmt.Errorf("%w: truncated unit metadata", errs.ErrInvalidBatch)
	}

	return m, nil
}

// Codec is a user-defined encoding.
//
// Implementations must be safe for concurrent use: the writer encodes columns in
// parallel and the reader shares one codec across all decoders of a column.
type Codec interface {
	// ID returns the codec identifier stored in column metadata.
	ID() string

	// Check reports the features the codec supports for units described by meta.
	// Returns an error if the codec cannot decode such units at all.
	Check(meta UnitMetadata) (FeatureSet, error)

	// Init prepares a decoder for one encoding unit.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - unit: Encoded unit bytes; the decoder may retain subslices
	//   - kwargs: Decode arguments, only those matching negotiated features are set
	//
	// Returns:
	//   - Decoder: Single-use decoder for the unit
	//   - error: Unit rejected
	Init(ctx context.Context, unit []byte, kwargs Kwargs) (Decoder, error)

	// Encode encodes a batch into unit bytes.
	Encode(ctx context.Context, batch *Batch, kwargs Kwargs) ([]byte, error)
}

// Decoder produces the batches of one encoding unit.
//
// Decoders are NOT thread-safe.
type Decoder interface {
	// Decode returns the next batch, or nil once the unit is exhausted.
	// Calls after exhaustion keep returning nil.
	Decode(ctx context.Context) (*Batch, error)
	io.Closer
}

// DecodeAll drains dec into a single batch of the given kind and closes it.
func DecodeAll(ctx context.Context, dec Decoder, kind format.Kind) (*Batch, error) {
	defer dec.Close()

	out := EmptyBatch(kind)
	for {
		b, err := dec.Decode(ctx)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return out, nil
		}
		if out.Len() == 0 && b.Kind == kind {
			out = b

			continue
		}
		if err := out.Append(b); err != nil {
			return nil, err
		}
	}
}
