package dict

import "github.com/arloliu/f3/format"

// Scope is the dictionary decision for one pending column chunk.
type Scope struct {
	Mode format.DictMode
}

// ColumnStats summarizes the values pending for one column.
type ColumnStats struct {
	Column     int
	Kind       format.Kind
	Rows       int
	Distinct   int
	ValueBytes int
}

// CardinalityRatio returns Distinct/Rows, or 1 for an empty chunk.
func (s ColumnStats) CardinalityRatio() float64 {
	if s.Rows == 0 {
		return 1
	}

	return float64(s.Distinct) / float64(s.Rows)
}

// PendingUnitState describes the column's dictionary state at flush time.
type PendingUnitState struct {
	// SharedValues is the size of the column's active shared dictionary (0 if none).
	SharedValues int
	// UncoveredValues is the number of distinct pending values missing from that dictionary.
	UncoveredValues int
	// IOUnitsFlushed is the number of IOUnits already written.
	IOUnitsFlushed int
}

// Policy decides the dictionary scope of a pending chunk.
//
// The manager only consults the policy for dictionary eligible kinds.
type Policy interface {
	DecideScope(stats ColumnStats, state PendingUnitState) Scope
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(stats ColumnStats, state PendingUnitState) Scope

// DecideScope calls f.
func (f PolicyFunc) DecideScope(stats ColumnStats, state PendingUnitState) Scope {
	return f(stats, state)
}

// NoDictPolicy never uses dictionaries.
type NoDictPolicy struct{}

func (NoDictPolicy) DecideScope(ColumnStats, PendingUnitState) Scope {
	return Scope{Mode: format.NoDict}
}

// LocalPolicy uses a per-IOUnit dictionary when the chunk's cardinality ratio is at most
// MaxCardinalityRatio.
type LocalPolicy struct {
	MaxCardinalityRatio float64
}

func (p LocalPolicy) DecideScope(stats ColumnStats, _ PendingUnitState) Scope {
	if stats.Rows > 0 && stats.CardinalityRatio() <= p.MaxCardinalityRatio {
		return Scope{Mode: format.LocalDict}
	}

	return Scope{Mode: format.NoDict}
}

// SharedPolicy uses a file-wide shared dictionary while it stays within MaxDictSize
// values and the chunk's cardinality ratio is at most MaxCardinalityRatio. Chunks that
// would overflow the shared dictionary fall back to a local one.
type SharedPolicy struct {
	MaxDictSize         int
	MaxCardinalityRatio float64
}

func (p SharedPolicy) DecideScope(stats ColumnStats, state PendingUnitState) Scope {
	if stats.Rows == 0 || stats.CardinalityRatio() > p.MaxCardinalityRatio {
		return Scope{Mode: format.NoDict}
	}
	if state.SharedValues+state.UncoveredValues <= p.MaxDictSize {
		return Scope{Mode: format.SharedDict}
	}

	return Scope{Mode: format.LocalDict}
}

// Default thresholds of AutoPolicy.
const (
	DefaultSharedMaxValues = 4096
	DefaultSharedRatio     = 0.1
	DefaultLocalRatio      = 0.5
)

// AutoPolicy picks Shared for low cardinality, Local for moderate cardinality and
// NoDict otherwise.
type AutoPolicy struct {
	SharedMaxValues int
	SharedRatio     float64
	LocalRatio      float64
}

// DefaultPolicy returns an AutoPolicy with the default thresholds.
func DefaultPolicy() AutoPolicy {
	return AutoPolicy{
		SharedMaxValues: DefaultSharedMaxValues,
		SharedRatio:     DefaultSharedRatio,
		LocalRatio:      DefaultLocalRatio,
	}
}

func (p AutoPolicy) DecideScope(stats ColumnStats, state PendingUnitState) Scope {
	if stats.Rows == 0 {
		return Scope{Mode: format.NoDict}
	}

	ratio := stats.CardinalityRatio()
	if ratio <= p.SharedRatio && state.SharedValues+state.UncoveredValues <= p.SharedMaxValues {
		return Scope{Mode: format.SharedDict}
	}
	if ratio <= p.LocalRatio {
		return Scope{Mode: format.LocalDict}
	}

	return Scope{Mode: format.NoDict}
}
