package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"medscribe/internal/fileutil"
)

type S3Option func(c *s3Config)

type s3Config struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func WithEndpoint(endpoint string) S3Option {
	return func(c *s3Config) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) S3Option {
	return func(c *s3Config) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) S3Option {
	return func(c *s3Config) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) S3Option {
	return func(c *s3Config) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) S3Option {
	return func(c *s3Config) {
		c.useSSL = useSSL
	}
}

// S3Store keeps artifacts in an S3-compatible bucket.
type S3Store struct {
	cfg    *s3Config
	client *minio.Client
}

// NewS3Store builds a minio client for the configured bucket. No network
// call is made until the first operation.
func NewS3Store(opts ...S3Option) (*S3Store, error) {
	cfg := &s3Config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.endpoint == "" || cfg.bucket == "" {
		return nil, errors.New("s3 artifact store requires endpoint and bucket")
	}

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Store{cfg: cfg, client: client}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, limit int64) (int64, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return 0, err
	}
	body := r
	var counter *limitCounter
	if limit > 0 {
		counter = &limitCounter{r: r, limit: limit}
		body = counter
	}
	info, err := s.client.PutObject(ctx, s.cfg.bucket, cleaned, body, -1, minio.PutObjectOptions{})
	if counter != nil && counter.exceeded {
		_ = s.client.RemoveObject(ctx, s.cfg.bucket, cleaned, minio.RemoveObjectOptions{})
		return 0, fmt.Errorf("%w (%d bytes)", fileutil.ErrTooLarge, limit)
	}
	if err != nil {
		return 0, fmt.Errorf("put object %s: %w", cleaned, err)
	}
	return info.Size, nil
}

func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	object, err := s.client.GetObject(ctx, s.cfg.bucket, cleaned, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := object.Stat(); err != nil {
		object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return object, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	return s.client.RemoveObject(ctx, s.cfg.bucket, cleaned, minio.RemoveObjectOptions{})
}

func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) error {
	objects := s.client.ListObjects(ctx, s.cfg.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	for result := range s.client.RemoveObjects(ctx, s.cfg.bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("remove %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

// Check verifies the bucket exists and credentials are accepted.
func (s *S3Store) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.cfg.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.cfg.bucket)
	}
	return nil
}

func (s *S3Store) Describe() string {
	return "s3:" + s.cfg.endpoint + "/" + s.cfg.bucket
}

// limitCounter fails the read once more than limit bytes have passed.
type limitCounter struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

func (l *limitCounter) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		l.exceeded = true
		return n, fileutil.ErrTooLarge
	}
	return n, err
}
