package ude

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/arloliu/f3/errs"
)

// Resolution tells the caller how a codec id should be executed.
type Resolution uint8

const (
	// ResolveUnknown means the id is not registered; an embedded module may still serve it.
	ResolveUnknown Resolution = iota
	// ResolveNative means a native codec is registered for the id.
	ResolveNative
	// ResolveEmbedded means the id must run from the module embedded in the file.
	ResolveEmbedded
)

func (r Resolution) String() string {
	switch r {
	case ResolveNative:
		return "native"
	case ResolveEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

type registryEntry struct {
	codec    Codec
	embedded bool
}

// Registry maps codec ids to native codecs or to the "use embedded" marker.
//
// A registry is mutable until its first use by a writer or reader, which freezes it;
// later registrations fail with ErrRegistryFrozen. Lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	frozen  atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a native codec under c.ID().
//
// Returns:
//   - error: ErrRegistryFrozen after first use, ErrDuplicateCodec if the id is taken
func (r *Registry) Register(c Codec) error {
	return r.add(c.ID(), registryEntry{codec: c})
}

// RegisterEmbedded marks id as served by the module embedded in each file.
//
// This lets a registry opt out of a native implementation it would otherwise carry.
func (r *Registry) RegisterEmbedded(id string) error {
	return r.add(id, registryEntry{embedded: true})
}

func (r *Registry) add(id string, entry registryEntry) error {
	if id == "" {
		return fmt.Errorf("%w: empty codec id", errs.ErrInvalidSchema)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return fmt.Errorf("%w: cannot register %q", errs.ErrRegistryFrozen, id)
	}
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %q", errs.ErrDuplicateCodec, id)
	}
	r.entries[id] = entry

	return nil
}

// Lookup resolves a codec id.
//
// Returns:
//   - Codec: The native codec when the resolution is ResolveNative, nil otherwise
//   - Resolution: How the id should be executed
func (r *Registry) Lookup(id string) (Codec, Resolution) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	switch {
	case !ok:
		return nil, ResolveUnknown
	case entry.embedded:
		return nil, ResolveEmbedded
	default:
		return entry.codec, ResolveNative
	}
}

// Freeze prevents further registrations. It is idempotent.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
