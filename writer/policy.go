package writer

import (
	"github.com/arloliu/f3/codec"
	"github.com/arloliu/f3/ude"
)

// PendingState describes the rows accumulated since the last flush.
type PendingState struct {
	Rows  int
	Bytes int
}

// FlushPolicy decides when accumulated rows are encoded into an IOUnit.
type FlushPolicy interface {
	ShouldFlush(state PendingState) bool
}

// FlushPolicyFunc adapts a function to FlushPolicy.
type FlushPolicyFunc func(state PendingState) bool

func (f FlushPolicyFunc) ShouldFlush(state PendingState) bool {
	return f(state)
}

// ThresholdPolicy flushes once either threshold is reached. A zero threshold is ignored.
type ThresholdPolicy struct {
	MaxBytes int
	MaxRows  int
}

func (p ThresholdPolicy) ShouldFlush(state PendingState) bool {
	if p.MaxBytes > 0 && state.Bytes >= p.MaxBytes {
		return true
	}

	return p.MaxRows > 0 && state.Rows >= p.MaxRows
}

// CodecPolicy picks the codec of a column. It is consulted once per column, at the
// first flush, with the rows pending at that point.
type CodecPolicy interface {
	SelectCodec(column ude.Column, sample *ude.Batch) string
}

// CodecPolicyFunc adapts a function to CodecPolicy.
type CodecPolicyFunc func(column ude.Column, sample *ude.Batch) string

func (f CodecPolicyFunc) SelectCodec(column ude.Column, sample *ude.Batch) string {
	return f(column, sample)
}

// DeclaredCodecPolicy uses the codec declared in the schema, or plain when none is.
type DeclaredCodecPolicy struct{}

func (DeclaredCodecPolicy) SelectCodec(column ude.Column, _ *ude.Batch) string {
	if column.Codec != "" {
		return column.Codec
	}

	return codec.PlainID
}
