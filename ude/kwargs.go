package ude

import (
	"fmt"
	"math"
	"slices"

	"github.com/arloliu/f3/endian"
	"github.com/arloliu/f3/errs"
)

// Well-known kwargs understood by codecs that advertise the matching feature.
const (
	KwargRangeStart = "range.start" // first row (inclusive) relative to the unit
	KwargRangeEnd   = "range.end"   // last row (exclusive) relative to the unit
	KwargBatchSize  = "batch_size"  // maximum rows per decoded batch
)

// ValueKind is the type of a kwarg value.
type ValueKind uint8

const (
	ValueInt    ValueKind = 0x1
	ValueFloat  ValueKind = 0x2
	ValueBool   ValueKind = 0x3
	ValueString ValueKind = 0x4
)

// Value is a kwarg value drawn from the closed set int, float, bool and string.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	s    string
}

// Int creates an integer kwarg value.
func Int(v int64) Value { return Value{kind: ValueInt, i: v} }

// Float creates a float kwarg value.
func Float(v float64) Value { return Value{kind: ValueFloat, f: v} }

// Bool creates a boolean kwarg value.
func Bool(v bool) Value {
	if v {
		return Value{kind: ValueBool, i: 1}
	}

	return Value{kind: ValueBool}
}

// String creates a string kwarg value.
func String(v string) Value { return Value{kind: ValueString, s: v} }

// Kind returns the value kind.
func (v Value) Kind() ValueKind { return v.kind }

// Int returns the integer value and whether v holds one.
func (v Value) Int() (int64, bool) { return v.i, v.kind == ValueInt }

// Float returns the float value and whether v holds one.
func (v Value) Float() (float64, bool) { return v.f, v.kind == ValueFloat }

// Bool returns the boolean value and whether v holds one.
func (v Value) Bool() (bool, bool) { return v.i != 0, v.kind == ValueBool }

// Str returns the string value and whether v holds one.
func (v Value) Str() (string, bool) { return v.s, v.kind == ValueString }

// Kwargs are the keyword arguments passed to Init and Encode. Unknown keys are ignored by codecs.
type Kwargs map[string]Value

// Int returns the integer stored under key, or false if absent or of another kind.
func (kw Kwargs) Int(key string) (int64, bool) {
	v, ok := kw[key]
	if !ok {
		return 0, false
	}

	return v.Int()
}

// RowRange returns the range.start/range.end pair clamped to [0, rows).
// Absent keys default to the whole unit.
func (kw Kwargs) RowRange(rows int) (int, int) {
	start, end := 0, rows
	if v, ok := kw.Int(KwargRangeStart); ok {
		start = int(min(max(v, 0), int64(rows)))
	}
	if v, ok := kw.Int(KwargRangeEnd); ok {
		end = int(min(max(v, 0), int64(rows)))
	}
	if end < start {
		end = start
	}

	return start, end
}

// MarshalBinary encodes kwargs with keys in sorted order so equal maps encode identically.
//
// Layout: count u32, then per entry key_len u16 | key | kind u8 | value, where int and float
// values are 8 bytes, bool is 1 byte and string is len u32 | bytes.
func (kw Kwargs) MarshalBinary() ([]byte, error) {
	keys := make([]string, 0, len(kw))
	for k := range kw {
		if len(k) > math.MaxUint16 {
			return nil, fmt.Errorf("kwarg key too long: %d bytes", len(k))
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	buf := engine.AppendUint32(nil, uint32(len(keys))) //nolint: gosec
	for _, k := range keys {
		v := kw[k]
		buf = engine.AppendUint16(buf, uint16(len(k))) //nolint: gosec
		buf = append(buf, k...)
		buf = append(buf, byte(v.kind))
		switch v.kind {
		case ValueInt:
			buf = engine.AppendUint64(buf, uint64(v.i)) //nolint: gosec
		case ValueFloat:
			buf = engine.AppendUint64(buf, math.Float64bits(v.f))
		case ValueBool:
			buf = append(buf, byte(v.i))
		case ValueString:
			buf = engine.AppendUint32(buf, uint32(len(v.s))) //nolint: gosec
			buf = append(buf, v.s...)
		default:
			return nil, fmt.Errorf("kwarg %q has no value", k)
		}
	}

	return buf, nil
}

// UnmarshalKwargs decodes the output of Kwargs.MarshalBinary.
func UnmarshalKwargs(data []byte) (Kwargs, error) {
	c := endian.NewCursor(engine, data)
	n := int(c.Uint32())
	if c.Err() != nil {
		return nil, fmt.Errorf("%w: truncated kwargs", errs.ErrInvalidBatch)
	}

	kw := make(Kwargs, min(n, 64))
	for range n {
		key := string(c.Bytes(int(c.Uint16())))
		kind := ValueKind(c.Uint8())
		var v Value
		switch kind {
		case ValueInt:
			v = Int(int64(c.Uint64())) //nolint: gosec
		case ValueFloat:
			v = Float(math.Float64frombits(c.Uint64()))
		case ValueBool:
			v = Bool(c.Uint8() != 0)
		case ValueString:
			v = String(string(c.Bytes(int(c.Uint32()))))
		default:
			return nil, fmt.Errorf("%w: unknown kwarg kind %d", errs.ErrInvalidBatch, kind)
		}
		if c.Err() != nil {
			return nil, fmt.Errorf("%w: truncated kwargs", errs.ErrInvalidBatch)
		}
		kw[key] = v
	}

	return kw, nil
}
