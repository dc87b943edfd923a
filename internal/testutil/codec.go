package testutil

import (
	"context"
	"sync/atomic"

	"github.com/arloliu/f3/ude"
)

// CountingCodec wraps a codec under a new id and counts how it is used.
type CountingCodec struct {
	inner ude.Codec
	id    string

	checks  atomic.Int64
	inits   atomic.Int64
	encodes atomic.Int64
}

var _ ude.Codec = (*CountingCodec)(nil)

// NewCountingCodec wraps inner and serves it as id.
func NewCountingCodec(id string, inner ude.Codec) *CountingCodec {
	return &CountingCodec{inner: inner, id: id}
}

func (c *CountingCodec) ID() string { return c.id }

func (c *CountingCodec) Check(meta ude.UnitMetadata) (ude.FeatureSet, error) {
	c.checks.Add(1)
	return c.inner.Check(meta)
}

func (c *CountingCodec) Init(ctx context.Context, unit []byte, kwargs ude.Kwargs) (ude.Decoder, error) {
	c.inits.Add(1)
	return c.inner.Init(ctx, unit, kwargs)
}

func (c *CountingCodec) Encode(ctx context.Context, batch *ude.Batch, kwargs ude.Kwargs) ([]byte, error) {
	c.encodes.Add(1)
	return c.inner.Encode(ctx, batch, kwargs)
}

// Checks returns the number of Check calls.
func (c *CountingCodec) Checks() int64 { return c.checks.Load() }

// Inits returns the number of decoders created.
func (c *CountingCodec) Inits() int64 { return c.inits.Load() }

// Encodes returns the number of units encoded.
func (c *CountingCodec) Encodes() int64 { return c.encodes.Load() }

// Reset zeroes the counters.
func (c *CountingCodec) Reset() {
	c.checks.Store(0)
	c.inits.Store(0)
	c.encodes.Store(0)
}

// FailingCodec is a codec whose Encode always fails.
type FailingCodec struct {
	Name string
	Err  error
}

var _ ude.Codec = FailingCodec{}

func (c FailingCodec) ID() string { return c.Name }

func (c FailingCodec) Check(ude.UnitMetadata) (ude.FeatureSet, error) { return 0, nil }

func (c FailingCodec) Init(context.Context, []byte, ude.Kwargs) (ude.Decoder, error) {
	return nil, c.Err
}

func (c FailingCodec) Encode(context.Context, *ude.Batch, ude.Kwargs) ([]byte, error) {
	return nil, c.Err
}
