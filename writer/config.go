package writer

import (
	"errors"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/arloliu/f3/codec"
	"github.com/arloliu/f3/dict"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/internal/options"
	"github.com/arloliu/f3/sandbox"
	"github.com/arloliu/f3/ude"
)

// DefaultIOUnitSize is the pending byte threshold of the default flush policy.
const DefaultIOUnitSize = 8 << 20

// Config holds writer settings. It is populated by Option values passed to New.
type Config struct {
	ioUnitSize     int
	rowThreshold   int
	rowGroupRows   int
	concurrency    int
	flushPolicy    FlushPolicy
	dictPolicy     dict.Policy
	codecPolicy    CodecPolicy
	registry       *ude.Registry
	modules        map[string][]byte
	optCompression format.CompressionType
	properties     map[string]string
	logger         *zap.Logger
	runtime        *sandbox.Runtime
	sandboxOpts    []sandbox.Option
}

func newConfig() *Config {
	return &Config{
		ioUnitSize:     DefaultIOUnitSize,
		concurrency:    4,
		dictPolicy:     dict.DefaultPolicy(),
		codecPolicy:    DeclaredCodecPolicy{},
		optCompression: format.CompressionNone,
		modules:        make(map[string][]byte),
		properties:     make(map[string]string),
		logger:         zap.NewNop(),
	}
}

// effectiveFlushPolicy returns the configured policy or the threshold default.
func (c *Config) effectiveFlushPolicy() FlushPolicy {
	if c.flushPolicy != nil {
		return c.flushPolicy
	}

	return ThresholdPolicy{MaxBytes: c.ioUnitSize, MaxRows: c.rowThreshold}
}

func (c *Config) effectiveRegistry() *ude.Registry {
	if c.registry != nil {
		return c.registry
	}

	return codec.DefaultRegistry()
}

// Option configures a Writer.
type Option = options.Option[*Config]

// WithIOUnitSize sets the pending byte threshold that triggers a flush.
//
// Incoming batches are split so pending data stays close to this size.
func WithIOUnitSize(size int) Option {
	return options.New(func(c *Config) error {
		if size <= 0 {
			return fmt.Errorf("IOUnit size must be positive, got %d", size)
		}
		c.ioUnitSize = size

		return nil
	})
}

// WithRowThreshold additionally flushes once this many rows are pending.
func WithRowThreshold(rows int) Option {
	return options.New(func(c *Config) error {
		if rows < 0 {
			return fmt.Errorf("row threshold must not be negative, got %d", rows)
		}
		c.rowThreshold = rows

		return nil
	})
}

// WithFlushPolicy replaces the threshold flush policy.
func WithFlushPolicy(p FlushPolicy) Option {
	return options.NoError(func(c *Config) {
		c.flushPolicy = p
	})
}

// WithDictPolicy sets the dictionary scope policy.
func WithDictPolicy(p dict.Policy) Option {
	return options.New(func(c *Config) error {
		if p == nil {
			return errors.New("dictionary policy must not be nil")
		}
		c.dictPolicy = p

		return nil
	})
}

// WithCodecPolicy sets the codec selection policy.
func WithCodecPolicy(p CodecPolicy) Option {
	return options.New(func(c *Config) error {
		if p == nil {
			return errors.New("codec policy must not be nil")
		}
		c.codecPolicy = p

		return nil
	})
}

// WithRegistry sets the codec registry. The registry is frozen by New.
func WithRegistry(r *ude.Registry) Option {
	return options.NoError(func(c *Config) {
		c.registry = r
	})
}

// WithEmbeddedModule embeds a WebAssembly codec module in the file under OptData
// key "codec:<id>". Columns using id are encoded through the module unless the
// registry has a native codec for it.
func WithEmbeddedModule(id string, wasm []byte) Option {
	return options.New(func(c *Config) error {
		if id == "" || len(wasm) == 0 {
			return errors.New("embedded module needs an id and a binary")
		}
		c.modules[id] = wasm

		return nil
	})
}

// WithOptDataCompression compresses OptData entries.
func WithOptDataCompression(ct format.CompressionType) Option {
	return options.New(func(c *Config) error {
		switch ct {
		case format.CompressionNone, format.CompressionZstd, format.CompressionS2, format.CompressionLZ4:
			c.optCompression = ct
			return nil
		default:
			return fmt.Errorf("invalid OptData compression: %v", ct)
		}
	})
}

// WithProperty stores a free-form key/value pair in the footer.
func WithProperty(key, value string) Option {
	return options.NoError(func(c *Config) {
		c.properties[key] = value
	})
}

// WithProperties stores several key/value pairs in the footer.
func WithProperties(props map[string]string) Option {
	return options.NoError(func(c *Config) {
		maps.Copy(c.properties, props)
	})
}

// WithRowGroupRows closes the current row group automatically every n rows.
func WithRowGroupRows(n int) Option {
	return options.New(func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("row group rows must not be negative, got %d", n)
		}
		c.rowGroupRows = n

		return nil
	})
}

// WithEncodeConcurrency bounds how many columns are encoded in parallel.
func WithEncodeConcurrency(n int) Option {
	return options.New(func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("encode concurrency must be positive, got %d", n)
		}
		c.concurrency = n

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return options.NoError(func(c *Config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithSandboxRuntime encodes embedded modules on a caller-owned runtime.
func WithSandboxRuntime(rt *sandbox.Runtime) Option {
	return options.NoError(func(c *Config) {
		c.runtime = rt
	})
}

// WithSandboxOptions configures the runtime the writer creates for embedded modules.
func WithSandboxOptions(opts ...sandbox.Option) Option {
	return options.NoError(func(c *Config) {
		c.sandboxOpts = append(c.sandboxOpts, opts...)
	})
}
