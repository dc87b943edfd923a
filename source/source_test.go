package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

var payload = []byte("0123456789abcdefghijklmnopqrstuvwxyz")

func writeTemp(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data.f3")
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	return path
}

type fakeS3 struct {
	data   []byte
	etag   string
	gets   int
	ranges []string
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if aws.ToString(in.Key) != "obj" {
		return nil, errors.New("NoSuchKey")
	}

	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(f.data))), ETag: aws.String(f.etag)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	if aws.ToString(in.IfMatch) != f.etag {
		return nil, errors.New("PreconditionFailed")
	}

	rng := aws.ToString(in.Range)
	f.ranges = append(f.ranges, rng)

	var start, end int
	if _, err := fmt.Sscanf(strings.TrimPrefix(rng, "bytes="), "%d-%d", &start, &end); err != nil {
		return nil, err
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.data[start : end+1]))}, nil
}

func TestSources(t *testing.T) {
	ctx := context.Background()
	path := writeTemp(t)

	fileSrc, err := OpenFile(path)
	require.NoError(t, err)
	mmapSrc, err := OpenMmap(path)
	require.NoError(t, err)
	s3Src, err := OpenS3(ctx, &fakeS3{data: payload, etag: `"v1"`}, "bucket", "obj")
	require.NoError(t, err)

	sources := map[string]Source{
		"Bytes": NewBytes(payload),
		"File":  fileSrc,
		"Mmap":  mmapSrc,
		"S3":    s3Src,
	}

	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, int64(len(payload)), src.Size())

			got, err := src.ReadRange(ctx, 10, 6)
			require.NoError(t, err)
			require.Equal(t, []byte("abcdef"), got)

			got, err = src.ReadRange(ctx, int64(len(payload))-4, 4)
			require.NoError(t, err)
			require.Equal(t, []byte("wxyz"), got)

			got, err = src.ReadRange(ctx, 3, 0)
			require.NoError(t, err)
			require.Empty(t, got)

			_, err = src.ReadRange(ctx, int64(len(payload))-2, 4)
			require.ErrorIs(t, err, ErrOutOfRange)
			_, err = src.ReadRange(ctx, -1, 1)
			require.ErrorIs(t, err, ErrOutOfRange)

			require.NoError(t, src.Close())
		})
	}
}

func TestBytes_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBytes(payload).ReadRange(ctx, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestS3(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{data: payload, etag: `"v1"`}

	_, err := OpenS3(ctx, fake, "bucket", "missing")
	require.Error(t, err)

	src, err := OpenS3(ctx, fake, "bucket", "obj")
	require.NoError(t, err)

	_, err = src.ReadRange(ctx, 0, 4)
	require.NoError(t, err)
	require.Equal(t, []string{"bytes=0-3"}, fake.ranges)

	fake.etag = `"v2"`
	_, err = src.ReadRange(ctx, 0, 4)
	require.Error(t, err)
	require.Equal(t, 2, fake.gets)
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "nope"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = OpenMmap(filepath.Join(t.TempDir(), "nope"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
