package reader

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/arloliu/f3/codec"
	"github.com/arloliu/f3/internal/options"
	"github.com/arloliu/f3/sandbox"
	"github.com/arloliu/f3/ude"
)

// DefaultReadAhead is how many trailing bytes Open reads in its first request.
const DefaultReadAhead = 64 << 10

// Config holds reader settings. It is populated by Option values passed to Open.
type Config struct {
	registry      *ude.Registry
	readAhead     int
	verifyFile    bool
	verifyIOUnits bool
	dictCache     bool
	concurrency   int
	batchSize     int
	logger        *zap.Logger
	runtime       *sandbox.Runtime
	sandboxOpts   []sandbox.Option
}

func newConfig() *Config {
	return &Config{
		readAhead:   DefaultReadAhead,
		dictCache:   true,
		concurrency: 4,
		logger:      zap.NewNop(),
	}
}

func (c *Config) effectiveRegistry() *ude.Registry {
	if c.registry != nil {
		return c.registry
	}

	return codec.DefaultRegistry()
}

// Option configures a reader.
type Option = options.Option[*Config]

// WithRegistry sets the codec registry. The registry is frozen by Open.
func WithRegistry(r *ude.Registry) Option {
	return options.NoError(func(c *Config) {
		c.registry = r
	})
}

// WithReadAhead sets how many trailing bytes Open fetches at once. When the footer
// and column metadata fit, opening costs a single read.
func WithReadAhead(size int) Option {
	return options.New(func(c *Config) error {
		if size < 0 {
			return fmt.Errorf("read-ahead must not be negative, got %d", size)
		}
		c.readAhead = size

		return nil
	})
}

// WithVerifyFileChecksum makes Open verify the data checksum of the whole file.
func WithVerifyFileChecksum(enabled bool) Option {
	return options.NoError(func(c *Config) {
		c.verifyFile = enabled
	})
}

// WithVerifyIOUnitChecksum makes the iterator read IOUnits whole and verify their checksums.
func WithVerifyIOUnitChecksum(enabled bool) Option {
	return options.NoError(func(c *Config) {
		c.verifyIOUnits = enabled
	})
}

// WithDictionaryCache enables or disables caching decoded dictionaries per handle.
// Without the cache a dictionary is decoded again for every unit referencing it.
func WithDictionaryCache(enabled bool) Option {
	return options.NoError(func(c *Config) {
		c.dictCache = enabled
	})
}

// WithDecodeConcurrency bounds how many columns of one batch are decoded in parallel.
func WithDecodeConcurrency(n int) Option {
	return options.New(func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("decode concurrency must be positive, got %d", n)
		}
		c.concurrency = n

		return nil
	})
}

// WithBatchSize passes a batch_size hint to codecs supporting it.
func WithBatchSize(rows int) Option {
	return options.New(func(c *Config) error {
		if rows < 0 {
			return fmt.Errorf("batch size must not be negative, got %d", rows)
		}
		c.batchSize = rows

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

// WithSandboxRuntime runs embedded codecs on a caller-owned runtime instead of one
// created lazily by the handle.
func WithSandboxRuntime(rt *sandbox.Runtime) Option {
	return options.NoError(func(c *Config) {
		c.runtime = rt
	})
}

// WithSandboxOptions configures the runtime the handle creates for embedded codecs.
func WithSandboxOptions(opts ...sandbox.Option) Option {
	return options.NoError(func(c *Config) {
		c.sandboxOpts = append(c.sandboxOpts, opts...)
	})
}
