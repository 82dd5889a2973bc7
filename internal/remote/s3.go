package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the slice of the S3 client the store uses. Narrowing the
// dependency keeps tests away from the real SDK client.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store uploads to object storage. Destinations are s3://bucket/key URLs.
type S3Store struct {
	client s3API
}

// NewS3Store builds a store from the ambient AWS configuration
// (environment, shared config files, instance metadata).
func NewS3Store(ctx context.Context) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3StoreWithClient wires an explicit client (tests).
func NewS3StoreWithClient(client s3API) *S3Store {
	return &S3Store{client: client}
}

// Put streams body to the object named by dest.
func (s *S3Store) Put(ctx context.Context, dest string, body io.Reader, size int64, _ http.Header) (*PutResult, error) {
	bucket, key, err := splitS3URL(dest)
	if err != nil {
		return nil, err
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return nil, fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return &PutResult{StatusCode: http.StatusOK}, nil
}

// Stat HEADs the object. The ETag doubles as an MD5 for single-part
// uploads; multipart ETags (containing a dash) are not content hashes and
// are dropped so validation degrades to size-only.
func (s *S3Store) Stat(ctx context.Context, dest string) (*StatResult, error) {
	bucket, key, err := splitS3URL(dest)
	if err != nil {
		return nil, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}

	res := &StatResult{Size: -1}
	if out.ContentLength != nil {
		res.Size = *out.ContentLength
	}
	if out.ETag != nil {
		etag := strings.Trim(*out.ETag, `"`)
		if !strings.Contains(etag, "-") {
			res.MD5 = etag
		}
	}
	return res, nil
}

func splitS3URL(dest string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(dest, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", dest)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", errors.New("s3 url must be s3://bucket/key")
	}
	return bucket, key, nil
}
