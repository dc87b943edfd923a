package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/internal/hash"
	"github.com/arloliu/f3/internal/metrics"
	"github.com/arloliu/f3/internal/options"
)

const (
	// DefaultMemoryLimitPages caps guest memory at 16 MiB (64 KiB pages).
	DefaultMemoryLimitPages = 256
	// DefaultTimeout bounds a single guest call.
	DefaultTimeout = 5 * time.Second
	// DefaultCacheSize is the number of compiled modules kept per runtime.
	DefaultCacheSize = 32
)

// Fault reasons, also used as the metrics label.
const (
	reasonCompile  = "compile"
	reasonABI      = "abi"
	reasonTrap     = "trap"
	reasonTimeout  = "timeout"
	reasonMemory   = "memory"
	reasonRejected = "rejected"
)

// Limits bounds what one module instance may consume.
type Limits struct {
	// MemoryLimitPages is the maximum linear memory in 64 KiB pages.
	MemoryLimitPages uint32
	// Timeout bounds each guest call; zero disables the per-call deadline.
	Timeout time.Duration
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MemoryLimitPages: DefaultMemoryLimitPages, Timeout: DefaultTimeout}
}

// Exports names the guest functions of the codec ABI.
type Exports struct {
	Memory string
	Alloc  string
	Check  string
	Init   string
	Decode string
	Encode string
}

// DefaultExports returns the standard export names.
func DefaultExports() Exports {
	return Exports{
		Memory: "memory",
		Alloc:  "alloc",
		Check:  "check",
		Init:   "init",
		Decode: "decode",
		Encode: "encode",
	}
}

// Option configures a Runtime.
type Option = options.Option[*Runtime]

// WithLimits sets the per-instance memory and time limits.
func WithLimits(limits Limits) Option {
	return options.New(func(r *Runtime) error {
		if limits.MemoryLimitPages == 0 || limits.MemoryLimitPages > 65536 {
			return fmt.Errorf("memory limit must be within [1, 65536] pages, got %d", limits.MemoryLimitPages)
		}
		if limits.Timeout < 0 {
			return fmt.Errorf("timeout must not be negative, got %s", limits.Timeout)
		}
		r.limits = limits

		return nil
	})
}

// WithExports overrides the guest export names.
func WithExports(exports Exports) Option {
	return options.New(func(r *Runtime) error {
		if exports.Memory == "" || exports.Alloc == "" || exports.Check == "" ||
			exports.Init == "" || exports.Decode == "" {
			return errors.New("only the encode export name may be empty")
		}
		r.exports = exports

		return nil
	})
}

// WithCacheSize sets how many compiled modules the runtime keeps.
func WithCacheSize(size int) Option {
	return options.New(func(r *Runtime) error {
		if size <= 0 {
			return fmt.Errorf("cache size must be positive, got %d", size)
		}
		r.cacheSize = size

		return nil
	})
}

// WithLogger sets the logger used for compilation and fault events.
func WithLogger(logger *zap.Logger) Option {
	return options.NoError(func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	})
}

// Runtime owns a wazero runtime and a cache of compiled modules.
//
// A Runtime is safe for concurrent use. Instances created from it are not shared.
type Runtime struct {
	rt        wazero.Runtime
	limits    Limits
	exports   Exports
	cacheSize int
	logger    *zap.Logger

	// mu is held for reading while a cached module is instantiated and for writing
	// while the cache is modified, so eviction never closes a module mid-instantiation.
	mu    sync.RWMutex
	cache *lru.Cache[uint64, wazero.CompiledModule]
}

// NewRuntime creates a sandbox runtime.
//
// Parameters:
//   - ctx: Context used to create the wazero runtime
//   - opts: Limits, export names, cache size and logger
//
// Returns:
//   - *Runtime: Ready runtime; release it with Close
//   - error: Invalid option
func NewRuntime(ctx context.Context, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		limits:    DefaultLimits(),
		exports:   DefaultExports(),
		cacheSize: DefaultCacheSize,
		logger:    zap.NewNop(),
	}
	if err := options.Apply(r, opts...); err != nil {
		return nil, err
	}

	cfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(r.limits.MemoryLimitPages).
		WithCloseOnContextDone(true)
	r.rt = wazero.NewRuntimeWithConfig(ctx, cfg)

	cache, err := lru.NewWithEvict(r.cacheSize, func(_ uint64, cm wazero.CompiledModule) {
		_ = cm.Close(context.Background())
	})
	if err != nil {
		_ = r.rt.Close(ctx)
		return nil, err
	}
	r.cache = cache

	return r, nil
}

// Limits returns the configured limits.
func (r *Runtime) Limits() Limits {
	return r.limits
}

// Load validates a module and returns it as a codec.
//
// The module is compiled (or fetched from the cache) and its exports are checked
// against the ABI.
//
// Parameters:
//   - ctx: Context for compilation
//   - id: Codec id the module serves
//   - wasm: Module binary; it is retained to recompile after cache eviction
//
// Returns:
//   - *Module: Codec backed by the module
//   - error: SandboxFaultError when the module does not compile or lacks required exports
func (r *Runtime) Load(ctx context.Context, id string, wasm []byte) (*Module, error) {
	m := &Module{rt: r, id: id, key: hash.Bytes(wasm), wasm: wasm}

	cm, err := r.compile(ctx, m)
	if err != nil {
		return nil, err
	}

	exported := cm.ExportedFunctions()
	for _, name := range []string{r.exports.Alloc, r.exports.Check, r.exports.Init, r.exports.Decode} {
		if _, ok := exported[name]; !ok {
			return nil, r.fault(errs.NewSandboxFault(id, reasonABI, fmt.Errorf("missing export %q", name)))
		}
	}
	if _, ok := cm.ExportedMemories()[r.exports.Memory]; !ok {
		return nil, r.fault(errs.NewSandboxFault(id, reasonABI, fmt.Errorf("missing export %q", r.exports.Memory)))
	}
	if r.exports.Encode != "" {
		_, m.canEncode = exported[r.exports.Encode]
	}

	return m, nil
}

// compile returns the compiled module for m, compiling it on a cache miss.
func (r *Runtime) compile(ctx context.Context, m *Module) (wazero.CompiledModule, error) {
	r.mu.RLock()
	cm, ok := r.cache.Get(m.key)
	r.mu.RUnlock()
	if ok {
		return cm, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cm, ok := r.cache.Get(m.key); ok {
		return cm, nil
	}

	start := time.Now()
	cm, err := r.rt.CompileModule(ctx, m.wasm)
	if err != nil {
		return nil, r.fault(errs.NewSandboxFault(m.id, reasonCompile, err))
	}
	r.cache.Add(m.key, cm)
	metrics.ModulesCompiled.Inc()
	r.logger.Debug("compiled codec module",
		zap.String("codec", m.id),
		zap.Int("bytes", len(m.wasm)),
		zap.Duration("elapsed", time.Since(start)))

	return cm, nil
}

// instantiate creates a fresh instance of m.
func (r *Runtime) instantiate(ctx context.Context, m *Module) (*instance, error) {
	for range 2 {
		r.mu.RLock()
		cm, ok := r.cache.Get(m.key)
		if ok {
			mod, err := r.rt.InstantiateModule(ctx, cm, wazero.NewModuleConfig().WithName(""))
			r.mu.RUnlock()
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				// memory requirements above the ceiling surface here
				return nil, r.fault(errs.NewResourceLimitFault(m.id, reasonMemory, err))
			}

			return newInstance(r, m.id, mod)
		}
		r.mu.RUnlock()

		if _, err := r.compile(ctx, m); err != nil {
			return nil, err
		}
	}

	return nil, r.fault(errs.NewSandboxFault(m.id, reasonCompile, errors.New("module evicted during instantiation")))
}

// fault records a sandbox fault and returns it.
func (r *Runtime) fault(err *errs.SandboxFaultError) error {
	metrics.SandboxFaults.WithLabelValues(err.Reason).Inc()
	r.logger.Warn("sandbox fault",
		zap.String("codec", err.Codec),
		zap.String("reason", err.Reason),
		zap.Bool("resource_limit", errors.Is(err, errs.ErrResourceLimitExceeded)),
		zap.Error(err.Err))

	return err
}

// Close releases every compiled module and the underlying wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	r.cache.Purge()
	r.mu.Unlock()

	return r.rt.Close(ctx)
}
