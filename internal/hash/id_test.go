package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestID(t *testing.T) {
	tests := []struct {
		name string
		data string
		id   uint64
	}{
		{"EmptyString", "", 0xef46db3751d8e999},
		{"ShortString", "test", 0x4fdcca5ddb678139},
		{"LongString", "this is a longer test string to hash", 0x69275f7f7ee59dbd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.id, ID(tt.data))
			require.Equal(t, tt.id, Bytes([]byte(tt.data)))
		})
	}
}

func TestInt64(t *testing.T) {
	require.Equal(t, Int64(42), Int64(42))
	require.NotEqual(t, Int64(42), Int64(43))
	require.Equal(t, Bytes([]byte{42, 0, 0, 0, 0, 0, 0, 0}), Int64(42))
}

func TestDigest_MatchesOneShot(t *testing.T) {
	d := NewDigest()
	_, _ = d.Write([]byte("this is a longer "))
	_, _ = d.Write([]byte("test string to hash"))
	require.Equal(t, ID("this is a longer test string to hash"), d.Sum64())
}
