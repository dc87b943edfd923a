package ude

import (
	"bytes"
	"fmt"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
)

// Column describes one schema column: its name, physical kind and the codec id
// the writer should prefer for it (empty selects the writer's default).
type Column struct {
	Name  string
	Kind  format.Kind
	Codec string
}

// Batch is a typed, null-free sequence of values of a single kind.
//
// Exactly one of the value slices is used, selected by Kind.
type Batch struct {
	Kind     format.Kind
	Int64s   []int64
	Float64s []float64
	Binaries [][]byte
}

// NewInt64Batch wraps values in an Int64 batch without copying.
func NewInt64Batch(values []int64) *Batch {
	return &Batch{Kind: format.KindInt64, Int64s: values}
}

// NewFloat64Batch wraps values in a Float64 batch without copying.
func NewFloat64Batch(values []float64) *Batch {
	return &Batch{Kind: format.KindFloat64, Float64s: values}
}

// NewBinaryBatch wraps values in a Binary batch without copying.
func NewBinaryBatch(values [][]byte) *Batch {
	return &Batch{Kind: format.KindBinary, Binaries: values}
}

// NewStringBatch converts strings into a Binary batch.
func NewStringBatch(values ...string) *Batch {
	bins := make([][]byte, len(values))
	for i, v := range values {
		bins[i] = []byte(v)
	}

	return NewBinaryBatch(bins)
}

// EmptyBatch returns a zero-length batch of the given kind.
func EmptyBatch(kind format.Kind) *Batch {
	return &Batch{Kind: kind}
}

// Len returns the number of values in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}

	switch b.Kind {
	case format.KindInt64:
		return len(b.Int64s)
	case format.KindFloat64:
		return len(b.Float64s)
	case format.KindBinary:
		return len(b.Binaries)
	default:
		return 0
	}
}

// ByteSize estimates the in-memory footprint of the values, used for flush accounting.
func (b *Batch) ByteSize() int {
	if b == nil {
		return 0
	}

	switch b.Kind {
	case format.KindInt64:
		return 8 * len(b.Int64s)
	case format.KindFloat64:
		return 8 * len(b.Float64s)
	case format.KindBinary:
		n := 4 * len(b.Binaries)
		for _, v := range b.Binaries {
			n += len(v)
		}

		return n
	default:
		return 0
	}
}

// Validate checks that the batch has a known kind and only uses the matching slice.
func (b *Batch) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil batch", errs.ErrInvalidBatch)
	}
	if !b.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %d", errs.ErrInvalidBatch, b.Kind)
	}

	mixed := false
	switch b.Kind {
	case format.KindInt64:
		mixed = b.Float64s != nil || b.Binaries != nil
	case format.KindFloat64:
		mixed = b.Int64s != nil || b.Binaries != nil
	case format.KindBinary:
		mixed = b.Int64s != nil || b.Float64s != nil
	}
	if mixed {
		return fmt.Errorf("%w: %s batch carries values of another kind", errs.ErrInvalidBatch, b.Kind)
	}

	return nil
}

// Slice returns the half-open range [start, end) sharing memory with b.
//
// Panics if the range is out of bounds, like slicing.
func (b *Batch) Slice(start, end int) *Batch {
	out := &Batch{Kind: b.Kind}
	switch b.Kind {
	case format.KindInt64:
		out.Int64s = b.Int64s[start:end:end]
	case format.KindFloat64:
		out.Float64s = b.Float64s[start:end:end]
	case format.KindBinary:
		out.Binaries = b.Binaries[start:end:end]
	}

	return out
}

// Append appends the values of other to b.
//
// Returns ErrInvalidBatch if the kinds differ.
func (b *Batch) Append(other *Batch) error {
	if other == nil {
		return nil
	}
	if other.Kind != b.Kind {
		return fmt.Errorf("%w: cannot append %s to %s", errs.ErrInvalidBatch, other.Kind, b.Kind)
	}

	switch b.Kind {
	case format.KindInt64:
		b.Int64s = append(b.Int64s, other.Int64s...)
	case format.KindFloat64:
		b.Float64s = append(b.Float64s, other.Float64s...)
	case format.KindBinary:
		b.Binaries = append(b.Binaries, other.Binaries...)
	}

	return nil
}

// Clone returns a deep copy of b. Binary values are copied into one backing array.
func (b *Batch) Clone() *Batch {
	out := &Batch{Kind: b.Kind}
	switch b.Kind {
	case format.KindInt64:
		out.Int64s = append([]int64(nil), b.Int64s...)
	case format.KindFloat64:
		out.Float64s = append([]float64(nil), b.Float64s...)
	case format.KindBinary:
		total := 0
		for _, v := range b.Binaries {
			total += len(v)
		}
		arena := make([]byte, 0, total)
		out.Binaries = make([][]byte, len(b.Binaries))
		for i, v := range b.Binaries {
			start := len(arena)
			arena = append(arena, v...)
			out.Binaries[i] = arena[start:len(arena):len(arena)]
		}
	}

	return out
}

// Equal reports whether b and other hold the same kind and values.
//
// Float values are compared with ==, so NaN never equals NaN.
func (b *Batch) Equal(other *Batch) bool {
	if b.Len() != other.Len() {
		return false
	}
	if b.Len() == 0 {
		return b == nil || other == nil || b.Kind == other.Kind
	}
	if b.Kind != other.Kind {
		return false
	}

	switch b.Kind {
	case format.KindInt64:
		for i, v := range b.Int64s {
			if other.Int64s[i] != v {
				return false
			}
		}
	case format.KindFloat64:
		for i, v := range b.Float64s {
			if other.Float64s[i] != v {
				return false
			}
		}
	case format.KindBinary:
		for i, v := range b.Binaries {
			if !bytes.Equal(other.Binaries[i], v) {
				return false
			}
		}
	}

	return true
}
