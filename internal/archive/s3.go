package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config selects the S3 endpoint. Credentials come from the default AWS
// chain (environment, shared config, instance role).
type S3Config struct {
	Region    string
	Endpoint  string // optional, for S3-compatible stores such as MinIO
	PathStyle bool
}

// S3Sink stores the archive as one S3 object.
type S3Sink struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Sink creates a sink for bucket/key.
func NewS3Sink(ctx context.Context, cfg S3Config, bucket, key string) (*S3Sink, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3SinkFromClient(client, bucket, key), nil
}

// NewS3SinkFromClient wraps an existing client.
func NewS3SinkFromClient(client *s3.Client, bucket, key string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, key: key}
}

// Put uploads data, replacing the object.
func (s *S3Sink) Put(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(s.key)),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s, err)
	}
	return nil
}

// Get downloads the object.
func (s *S3Sink) Get(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, s)
		}
		return nil, fmt.Errorf("get %s: %w", s, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s, err)
	}
	return data, nil
}

func (s *S3Sink) String() string {
	return "s3://" + s.bucket + "/" + s.key
}

func contentType(key string) string {
	if (Target{Key: key}).Compressed() {
		return "application/x-lz4"
	}
	return "application/json"
}
