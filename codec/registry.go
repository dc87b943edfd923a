package codec

import (
	"sync"

	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/ude"
)

// Builtins returns fresh instances of every built-in codec.
func Builtins() []ude.Codec {
	codecs := []ude.Codec{NewPlain(), NewDelta(), NewGorilla()}
	for _, ct := range []format.CompressionType{format.CompressionZstd, format.CompressionS2, format.CompressionLZ4} {
		c, err := NewCompressedPlain(ct)
		if err != nil {
			panic(err)
		}
		codecs = append(codecs, c)
	}

	return codecs
}

// NewRegistry creates a registry pre-populated with the built-in codecs.
func NewRegistry() *ude.Registry {
	r := ude.NewRegistry()
	for _, c := range Builtins() {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}

	return r
}

var defaultRegistry = sync.OnceValue(NewRegistry)

// DefaultRegistry returns the process-wide registry used when no registry option is given.
//
// Register custom native codecs before the first writer or reader is created; the
// registry freezes on first use.
func DefaultRegistry() *ude.Registry {
	return defaultRegistry()
}
