// Package config loads f3 settings from YAML files and maps them onto writer, reader
// and sandbox options.
//
// String values may reference environment variables as ${NAME}; they are substituted
// before the document is parsed.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arloliu/f3/dict"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/internal/logger"
	"github.com/arloliu/f3/sandbox"
)

// Config is the root of an f3 configuration file.
type Config struct {
	Logger  logger.Config `yaml:"logger"`
	Writer  WriterConfig  `yaml:"writer"`
	Reader  ReaderConfig  `yaml:"reader"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

// WriterConfig holds writer settings. Zero values keep the writer defaults.
type WriterConfig struct {
	IOUnitSize         int               `yaml:"io_unit_size"`
	RowThreshold       int               `yaml:"row_threshold"`
	RowGroupRows       int               `yaml:"row_group_rows"`
	Concurrency        int               `yaml:"concurrency"`
	Dictionary         DictionaryConfig  `yaml:"dictionary"`
	OptDataCompression string            `yaml:"opt_data_compression"` // none, zstd, s2 or lz4
	Modules            map[string]string `yaml:"modules"`              // codec id -> wasm file
	Properties         map[string]string `yaml:"properties"`
}

// DictionaryConfig selects the dictionary policy.
type DictionaryConfig struct {
	Policy          string  `yaml:"policy"` // auto, shared, local or none
	SharedMaxValues int     `yaml:"shared_max_values"`
	SharedRatio     float64 `yaml:"shared_ratio"`
	LocalRatio      float64 `yaml:"local_ratio"`
}

// ReaderConfig holds reader settings. Zero values keep the reader defaults.
type ReaderConfig struct {
	ReadAhead            int   `yaml:"read_ahead"`
	VerifyFileChecksum   bool  `yaml:"verify_file_checksum"`
	VerifyIOUnitChecksum bool  `yaml:"verify_io_unit_checksum"`
	DictionaryCache      *bool `yaml:"dictionary_cache"`
	Concurrency          int   `yaml:"concurrency"`
	BatchSize            int   `yaml:"batch_size"`
}

// SandboxConfig holds the limits of the embedded codec runtime.
type SandboxConfig struct {
	MemoryLimitPages uint32        `yaml:"memory_limit_pages"`
	Timeout          time.Duration `yaml:"timeout"`
	CacheSize        int           `yaml:"cache_size"`
}

// Default returns a configuration that keeps every library default.
func Default() *Config {
	return &Config{
		Logger: logger.Config{Level: "info", Encoding: "json"},
		Writer: WriterConfig{Dictionary: DictionaryConfig{Policy: "auto"}},
	}
}

// Validate checks values that cannot be checked by the option constructors alone.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Writer.Dictionary.policy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseCompression(c.Writer.OptDataCompression); err != nil {
		errs = append(errs, err)
	}
	for id, path := range c.Writer.Modules {
		if id == "" || path == "" {
			errs = append(errs, fmt.Errorf("writer module %q has no file", id))
		}
	}
	if c.Writer.IOUnitSize < 0 || c.Writer.RowThreshold < 0 || c.Writer.RowGroupRows < 0 || c.Writer.Concurrency < 0 {
		errs = append(errs, errors.New("writer sizes must not be negative"))
	}
	if c.Reader.ReadAhead < 0 || c.Reader.Concurrency < 0 || c.Reader.BatchSize < 0 {
		errs = append(errs, errors.New("reader sizes must not be negative"))
	}
	if c.Sandbox.Timeout < 0 || c.Sandbox.CacheSize < 0 {
		errs = append(errs, errors.New("sandbox limits must not be negative"))
	}

	return errors.Join(errs...)
}

// NewLogger builds the configured logger.
func (c *Config) NewLogger() (*zap.Logger, error) {
	return logger.New(c.Logger)
}

// SandboxOptions returns the runtime options for the configured limits.
func (c *Config) SandboxOptions() []sandbox.Option {
	var opts []sandbox.Option

	if c.Sandbox.MemoryLimitPages > 0 || c.Sandbox.Timeout > 0 {
		limits := sandbox.DefaultLimits()
		if c.Sandbox.MemoryLimitPages > 0 {
			limits.MemoryLimitPages = c.Sandbox.MemoryLimitPages
		}
		if c.Sandbox.Timeout > 0 {
			limits.Timeout = c.Sandbox.Timeout
		}
		opts = append(opts, sandbox.WithLimits(limits))
	}
	if c.Sandbox.CacheSize > 0 {
		opts = append(opts, sandbox.WithCacheSize(c.Sandbox.CacheSize))
	}

	return opts
}

func (d DictionaryConfig) policy() (dict.Policy, error) {
	switch strings.ToLower(d.Policy) {
	case "", "auto":
		p := dict.DefaultPolicy()
		if d.SharedMaxValues > 0 {
			p.SharedMaxValues = d.SharedMaxValues
		}
		if d.SharedRatio > 0 {
			p.SharedRatio = d.SharedRatio
		}
		if d.LocalRatio > 0 {
			p.LocalRatio = d.LocalRatio
		}

		return p, nil
	case "shared":
		return dict.SharedPolicy{
			MaxDictSize:         orDefault(d.SharedMaxValues, dict.DefaultSharedMaxValues),
			MaxCardinalityRatio: orDefault(d.SharedRatio, dict.DefaultSharedRatio),
		}, nil
	case "local":
		return dict.LocalPolicy{MaxCardinalityRatio: orDefault(d.LocalRatio, dict.DefaultLocalRatio)}, nil
	case "none":
		return dict.NoDictPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown dictionary policy %q", d.Policy)
	}
}

func orDefault[T int | float64](v, def T) T {
	if v > 0 {
		return v
	}

	return def
}

func parseCompression(name string) (format.CompressionType, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return format.CompressionNone, nil
	case "zstd":
		return format.CompressionZstd, nil
	case "s2":
		return format.CompressionS2, nil
	case "lz4":
		return format.CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}
