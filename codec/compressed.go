package codec

import (
	"context"
	"fmt"

	"github.com/arloliu/f3/compress"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/ude"
)

// Identifiers of the compressed plain codecs.
const (
	PlainZstdID = "plain+zstd"
	PlainS2ID   = "plain+s2"
	PlainLZ4ID  = "plain+lz4"
)

// CompressedPlain is the plain wire format wrapped in a general purpose compressor.
type CompressedPlain struct {
	id    string
	codec compress.Codec
}

var _ ude.Codec = (*CompressedPlain)(nil)

// NewCompressedPlain creates a compressed plain codec.
//
// Parameters:
//   - compression: Compressor applied to the wire bytes
//
// Returns:
//   - *CompressedPlain: Codec with id "plain+<algorithm>"
//   - error: Unsupported compression type
func NewCompressedPlain(compression format.CompressionType) (*CompressedPlain, error) {
	var id string
	switch compression {
	case format.CompressionZstd:
		id = PlainZstdID
	case format.CompressionS2:
		id = PlainS2ID
	case format.CompressionLZ4:
		id = PlainLZ4ID
	default:
		return nil, fmt.Errorf("no compressed plain codec for %s", compression)
	}

	c, err := compress.CreateCodec(compression, id)
	if err != nil {
		return nil, err
	}

	return &CompressedPlain{id: id, codec: c}, nil
}

func (c *CompressedPlain) ID() string { return c.id }

// Check accepts every valid kind.
func (c *CompressedPlain) Check(meta ude.UnitMetadata) (ude.FeatureSet, error) {
	return Plain{}.Check(meta)
}

// Init decompresses the unit and decodes the wire batch.
func (c *CompressedPlain) Init(_ context.Context, unit []byte, kwargs ude.Kwargs) (ude.Decoder, error) {
	raw, err := c.codec.Decompress(unit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.id, err)
	}

	batch, err := ude.UnmarshalWire(raw)
	if err != nil {
		return nil, err
	}

	return newSliceDecoder(batch, kwargs), nil
}

// Encode produces the wire format and compresses it.
func (c *CompressedPlain) Encode(_ context.Context, batch *ude.Batch, _ ude.Kwargs) ([]byte, error) {
	raw, err := ude.MarshalWire(batch)
	if err != nil {
		return nil, err
	}

	out, err := c.codec.Compress(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.id, err)
	}

	return out, nil
}
