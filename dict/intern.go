package dict

import (
	"bytes"

	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/internal/hash"
	"github.com/arloliu/f3/ude"
)

// Interner assigns dense codes to distinct values in first-seen order.
//
// Values are bucketed by xxHash64; colliding hashes are told apart by comparing the
// values themselves, so a collision costs a comparison and never merges two values.
type Interner struct {
	kind    format.Kind
	buckets map[uint64][]int32
	values  *ude.Batch
	bytes   int
}

// NewInterner creates an interner for kind, which must be dictionary eligible.
func NewInterner(kind format.Kind) *Interner {
	return &Interner{
		kind:    kind,
		buckets: make(map[uint64][]int32),
		values:  ude.EmptyBatch(kind),
	}
}

// Len returns the number of distinct values.
func (in *Interner) Len() int {
	return in.values.Len()
}

// ValueBytes returns the payload size of the distinct values.
func (in *Interner) ValueBytes() int {
	return in.bytes
}

// Values returns the distinct values in code order. The batch is owned by the interner.
func (in *Interner) Values() *ude.Batch {
	return in.values
}

func (in *Interner) hashAt(b *ude.Batch, i int) uint64 {
	if b.Kind == format.KindInt64 {
		return hash.Int64(b.Int64s[i])
	}

	return hash.Bytes(b.Binaries[i])
}

func (in *Interner) equalAt(code int32, b *ude.Batch, i int) bool {
	if b.Kind == format.KindInt64 {
		return in.values.Int64s[code] == b.Int64s[i]
	}

	return bytes.Equal(in.values.Binaries[code], b.Binaries[i])
}

// Find returns the code of b[i] if it has been interned.
func (in *Interner) Find(b *ude.Batch, i int) (int32, bool) {
	for _, code := range in.buckets[in.hashAt(b, i)] {
		if in.equalAt(code, b, i) {
			return code, true
		}
	}

	return 0, false
}

// Intern returns the code of b[i], adding the value if it is new.
func (in *Interner) Intern(b *ude.Batch, i int) (int32, bool) {
	h := in.hashAt(b, i)
	for _, code := range in.buckets[h] {
		if in.equalAt(code, b, i) {
			return code, false
		}
	}

	code := int32(in.values.Len()) //nolint: gosec
	if b.Kind == format.KindInt64 {
		in.values.Int64s = append(in.values.Int64s, b.Int64s[i])
		in.bytes += 8
	} else {
		v := append([]byte(nil), b.Binaries[i]...)
		in.values.Binaries = append(in.values.Binaries, v)
		in.bytes += len(v)
	}
	in.buckets[h] = append(in.buckets[h], code)

	return code, true
}

// Clone returns an independent copy that can keep growing without affecting in.
func (in *Interner) Clone() *Interner {
	out := &Interner{
		kind:    in.kind,
		buckets: make(map[uint64][]int32, len(in.buckets)),
		values:  ude.EmptyBatch(in.kind),
		bytes:   in.bytes,
	}
	for h, codes := range in.buckets {
		out.buckets[h] = append([]int32(nil), codes...)
	}
	_ = out.values.Append(in.values)

	return out
}
