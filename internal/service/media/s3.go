package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/educlopez/airlume/internal/config"
)

// ObjectGetter is the part of the S3 client the fetcher uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads images from an S3 compatible bucket (AWS, R2, MinIO).
type S3Fetcher struct {
	client  ObjectGetter
	bucket  string
	maxSize int64
}

func NewS3Fetcher(client ObjectGetter, bucket string, maxSize int64) *S3Fetcher {
	return &S3Fetcher{client: client, bucket: bucket, maxSize: maxSize}
}

// NewS3Client builds a client for the configured bucket. Static keys win
// over the default credential chain; a custom endpoint selects R2 or MinIO.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Fetch accepts s3://bucket/key or a bare key in the configured bucket.
func (f *S3Fetcher) Fetch(ctx context.Context, ref string) (*Object, error) {
	bucket, key, err := f.parseRef(ref)
	if err != nil {
		return nil, err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: object %s/%s does not exist", ErrUnavailable, bucket, key)
		}
		return nil, fmt.Errorf("%w: get %s/%s: %v", ErrUnavailable, bucket, key, err)
	}
	defer out.Body.Close()

	if f.maxSize > 0 && out.ContentLength != nil && *out.ContentLength > f.maxSize {
		return nil, fmt.Errorf("%w: object is %d bytes", ErrTooLarge, *out.ContentLength)
	}

	data, err := readLimited(out.Body, f.maxSize)
	if err != nil {
		return nil, err
	}
	return Describe(data, aws.ToString(out.ContentType)), nil
}

func (f *S3Fetcher) parseRef(ref string) (string, string, error) {
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return "", "", fmt.Errorf("%w: malformed reference %q", ErrUnavailable, ref)
		}
		return bucket, key, nil
	}

	if f.bucket == "" {
		return "", "", fmt.Errorf("%w: no bucket configured for key %q", ErrUnavailable, ref)
	}
	return f.bucket, strings.TrimPrefix(ref, "/"), nil
}

// NewFetcher builds the fetcher for the configured media backend.
func NewFetcher(ctx context.Context, cfg config.MediaConfig) (Fetcher, error) {
	router := &Router{
		HTTP: NewHTTPFetcher(NewGuardedClient(timeoutOrDefault(cfg.Timeout)), cfg.MaxSize, cfg.AllowedHosts...),
	}

	if cfg.Type == "s3" {
		client, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		router.S3 = NewS3Fetcher(client, cfg.S3.Bucket, cfg.MaxSize)
	}

	return router, nil
}

func timeoutOrDefault(value string) time.Duration {
	if d := config.Duration(value); d > 0 {
		return d
	}
	return 30 * time.Second
}
