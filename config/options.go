package config

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/arloliu/f3/reader"
	"github.com/arloliu/f3/writer"
)

// WriterOptions maps the writer and sandbox sections onto writer options. Embedded
// module files are read here.
//
// Parameters:
//   - l: Logger passed to the writer, may be nil
//
// Returns:
//   - []writer.Option: Options for writer.New
//   - error: Invalid policy or compression, or an unreadable module file
func (c *Config) WriterOptions(l *zap.Logger) ([]writer.Option, error) {
	wc := c.Writer

	policy, err := wc.Dictionary.policy()
	if err != nil {
		return nil, err
	}
	compression, err := parseCompression(wc.OptDataCompression)
	if err != nil {
		return nil, err
	}

	opts := []writer.Option{
		writer.WithDictPolicy(policy),
		writer.WithOptDataCompression(compression),
		writer.WithSandboxOptions(c.SandboxOptions()...),
		writer.WithLogger(l),
	}
	if wc.IOUnitSize > 0 {
		opts = append(opts, writer.WithIOUnitSize(wc.IOUnitSize))
	}
	if wc.RowThreshold > 0 {
		opts = append(opts, writer.WithRowThreshold(wc.RowThreshold))
	}
	if wc.RowGroupRows > 0 {
		opts = append(opts, writer.WithRowGroupRows(wc.RowGroupRows))
	}
	if wc.Concurrency > 0 {
		opts = append(opts, writer.WithEncodeConcurrency(wc.Concurrency))
	}
	if len(wc.Properties) > 0 {
		opts = append(opts, writer.WithProperties(wc.Properties))
	}

	for _, id := range slices.Sorted(maps.Keys(wc.Modules)) {
		wasm, err := os.ReadFile(wc.Modules[id])
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", id, err)
		}
		opts = append(opts, writer.WithEmbeddedModule(id, wasm))
	}

	return opts, nil
}

// ReaderOptions maps the reader and sandbox sections onto reader options.
func (c *Config) ReaderOptions(l *zap.Logger) []reader.Option {
	rc := c.Reader

	opts := []reader.Option{
		reader.WithVerifyFileChecksum(rc.VerifyFileChecksum),
		reader.WithVerifyIOUnitChecksum(rc.VerifyIOUnitChecksum),
		reader.WithSandboxOptions(c.SandboxOptions()...),
		reader.WithLogger(l),
	}
	if rc.ReadAhead > 0 {
		opts = append(opts, reader.WithReadAhead(rc.ReadAhead))
	}
	if rc.DictionaryCache != nil {
		opts = append(opts, reader.WithDictionaryCache(*rc.DictionaryCache))
	}
	if rc.Concurrency > 0 {
		opts = append(opts, reader.WithDecodeConcurrency(rc.Concurrency))
	}
	if rc.BatchSize > 0 {
		opts = append(opts, reader.WithBatchSize(rc.BatchSize))
	}

	return opts
}
