package source

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by S3.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// S3 reads ranges of one object with ranged GetObject requests.
type S3 struct {
	client S3API
	bucket string
	key    string
	size   int64
	etag   *string
}

var _ Source = (*S3)(nil)

// OpenS3 resolves the object size with HeadObject.
//
// Ranged reads are pinned to the ETag seen here, so a concurrent overwrite of the
// object fails reads instead of mixing versions.
//
// Parameters:
//   - ctx: Context for the HeadObject request
//   - client: S3 client, typically s3.NewFromConfig(cfg)
//   - bucket: Bucket name
//   - key: Object key
//
// Returns:
//   - *S3: Source over the object
//   - error: HeadObject failure
func OpenS3(ctx context.Context, client S3API, bucket, key string) (*S3, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}

	return &S3{
		client: client,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
		etag:   head.ETag,
	}, nil
}

// ReadRange issues one ranged GetObject request.
func (s *S3) ReadRange(ctx context.Context, off int64, size int) ([]byte, error) {
	if err := checkRange(off, size, s.size); err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(s.key),
		Range:   aws.String(fmt.Sprintf("bytes=%d-%d", off, off+int64(size)-1)),
		IfMatch: s.etag,
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s [%d, +%d): %w", s.bucket, s.key, off, size, err)
	}
	defer out.Body.Close()

	buf := make([]byte, size)
	if _, err := io.ReadFull(out.Body, buf); err != nil {
		return nil, fmt.Errorf("read s3://%s/%s [%d, +%d): %w", s.bucket, s.key, off, size, err)
	}

	return buf, nil
}

func (s *S3) Size() int64 { return s.size }

func (s *S3) Close() error { return nil }
