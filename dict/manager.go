package dict

import (
	"fmt"
	"sync"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/ude"
)

// Dictionary is an immutable, id-addressed set of values.
type Dictionary struct {
	ID     uint32
	Mode   format.DictMode
	Column int

	interner *Interner
}

// Values returns the dictionary values in code order.
func (d *Dictionary) Values() *ude.Batch {
	return d.interner.Values()
}

// Len returns the number of values.
func (d *Dictionary) Len() int {
	return d.interner.Len()
}

// Assignment is the outcome of planning one pending column chunk.
type Assignment struct {
	Mode format.DictMode
	// Dict is the dictionary the codes refer to, nil for NoDict.
	Dict *Dictionary
	// Codes replaces the chunk values when Mode is not NoDict.
	Codes *ude.Batch
	// Emit is true when Dict has not been written yet and must precede the codes.
	Emit bool
}

// Manager owns every dictionary of one file being written.
//
// Plan is safe for concurrent use across different columns; the writer plans columns
// sequentially so dictionary ids are assigned in column order.
type Manager struct {
	policy Policy

	mu     sync.Mutex
	nextID uint32
	arena  map[uint32]*Dictionary
	active map[int]*Dictionary
}

// NewManager creates a manager that decides scopes with policy.
func NewManager(policy Policy) *Manager {
	if policy == nil {
		policy = NoDictPolicy{}
	}

	return &Manager{
		policy: policy,
		nextID: 1,
		arena:  make(map[uint32]*Dictionary),
		active: make(map[int]*Dictionary),
	}
}

// Lookup returns the dictionary registered under id.
func (m *Manager) Lookup(id uint32) (*Dictionary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.arena[id]

	return d, ok
}

// Plan decides the dictionary scope of batch and computes its codes.
//
// Parameters:
//   - column: Column index, keys the active shared dictionary
//   - batch: Pending values of the column
//   - ioUnitsFlushed: Number of IOUnits written so far, passed to the policy
//
// Returns:
//   - *Assignment: Scope, dictionary and codes
//   - error: Batch with an invalid kind
func (m *Manager) Plan(column int, batch *ude.Batch, ioUnitsFlushed int) (*Assignment, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if !batch.Kind.DictEligible() || batch.Len() == 0 {
		return &Assignment{Mode: format.NoDict}, nil
	}

	local := NewInterner(batch.Kind)
	for i := range batch.Len() {
		local.Intern(batch, i)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	shared := m.active[column]
	state := PendingUnitState{IOUnitsFlushed: ioUnitsFlushed}
	if shared != nil {
		state.SharedValues = shared.Len()
		vals := local.Values()
		for i := range vals.Len() {
			if _, ok := shared.interner.Find(vals, i); !ok {
				state.UncoveredValues++
			}
		}
	} else {
		state.UncoveredValues = local.Len()
	}

	stats := ColumnStats{
		Column:     column,
		Kind:       batch.Kind,
		Rows:       batch.Len(),
		Distinct:   local.Len(),
		ValueBytes: local.ValueBytes(),
	}

	switch scope := m.policy.DecideScope(stats, state); scope.Mode {
	case format.NoDict:
		return &Assignment{Mode: format.NoDict}, nil
	case format.LocalDict:
		d := m.register(column, format.LocalDict, local)

		return &Assignment{Mode: format.LocalDict, Dict: d, Codes: encodeCodes(local, batch), Emit: true}, nil
	case format.SharedDict:
		emit := false
		if shared == nil || state.UncoveredValues > 0 {
			var next *Interner
			if shared == nil {
				next = local
			} else {
				next = shared.interner.Clone()
				vals := local.Values()
				for i := range vals.Len() {
					next.Intern(vals, i)
				}
				delete(m.arena, shared.ID)
			}
			shared = m.register(column, format.SharedDict, next)
			m.active[column] = shared
			emit = true
		}

		return &Assignment{Mode: format.SharedDict, Dict: shared, Codes: encodeCodes(shared.interner, batch), Emit: emit}, nil
	default:
		return nil, fmt.Errorf("%w: policy returned dictionary mode %d", errs.ErrInvalidSchema, scope.Mode)
	}
}

// Release forgets a local dictionary once it has been written.
func (m *Manager) Release(d *Dictionary) {
	if d == nil || d.Mode != format.LocalDict {
		return
	}

	m.mu.Lock()
	delete(m.arena, d.ID)
	m.mu.Unlock()
}

func (m *Manager) register(column int, mode format.DictMode, in *Interner) *Dictionary {
	d := &Dictionary{ID: m.nextID, Mode: mode, Column: column, interner: in}
	m.nextID++
	m.arena[d.ID] = d

	return d
}

func encodeCodes(in *Interner, batch *ude.Batch) *ude.Batch {
	codes := make([]int64, batch.Len())
	for i := range codes {
		code, ok := in.Find(batch, i)
		if !ok {
			// every value was interned before encoding
			panic("dict: value missing from dictionary")
		}
		codes[i] = int64(code)
	}

	return ude.NewInt64Batch(codes)
}

// Apply expands codes into values using dictionary values.
//
// Returns ErrCorruptMetadata if a code is outside the dictionary.
func Apply(values *ude.Batch, codes *ude.Batch) (*ude.Batch, error) {
	if codes.Kind != format.KindInt64 {
		return nil, fmt.Errorf("%w: dictionary codes have kind %s", errs.ErrCorruptMetadata, codes.Kind)
	}

	n := int64(values.Len())
	out := &ude.Batch{Kind: values.Kind}
	switch values.Kind {
	case format.KindInt64:
		out.Int64s = make([]int64, len(codes.Int64s))
	case format.KindBinary:
		out.Binaries = make([][]byte, len(codes.Int64s))
	default:
		return nil, fmt.Errorf("%w: dictionary of kind %s", errs.ErrCorruptMetadata, values.Kind)
	}

	for i, code := range codes.Int64s {
		if code < 0 || code >= n {
			return nil, fmt.Errorf("%w: dictionary code %d outside [0, %d)", errs.ErrCorruptMetadata, code, n)
		}
		if values.Kind == format.KindInt64 {
			out.Int64s[i] = values.Int64s[code]
		} else {
			out.Binaries[i] = values.Binaries[code]
		}
	}

	return out, nil
}
