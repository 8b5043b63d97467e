package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var _ Storage = (*S3)(nil)

// S3Config configures publishing to a bucket. Endpoint selects an
// S3-compatible service (MinIO, LocalStack) and switches to path-style URLs.
// Without static keys the default AWS credential chain is used.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3 keeps artifacts on disk like Disk and publishes them to a bucket.
type S3 struct {
	*Disk
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
}

// NewS3 creates the artifact directory and the S3 client.
func NewS3(dir string, cfg S3Config) (*S3, error) {
	disk, err := NewDisk(dir)
	if err != nil {
		return nil, err
	}

	client, err := newS3Client(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	return &S3{
		Disk:     disk,
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}, nil
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Publish uploads data with PutObject and returns the object URL.
func (s *S3) Publish(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   data,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("publish %s: %w", key, err)
	}
	return s.objectURL(key), nil
}

func (s *S3) objectURL(key string) string {
	if s.endpoint != "" {
		return s.endpoint + "/" + s.bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
