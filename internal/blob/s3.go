package blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store uploads to an Amazon S3 bucket.
type S3Store struct {
	uploader *manager.Uploader
	bucket   string
	logger   *slog.Logger
}

// NewS3Store loads the default AWS configuration and checks the bucket.
func NewS3Store(ctx context.Context, bucket, region string, logger *slog.Logger) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 blob store: bucket not configured")
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithRetryMode(aws.RetryModeStandard),
		config.WithRetryMaxAttempts(3),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("access bucket %s: %w", bucket, err)
	}

	// Photos are small; a single part covers almost all of them.
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.Concurrency = 1
	})

	logger.Info("s3 blob store ready", "bucket", bucket, "region", region)
	return &S3Store{uploader: uploader, bucket: bucket, logger: logger}, nil
}

// Upload puts the object and returns the location reported by S3.
func (s *S3Store) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to S3 %s/%s: %w", s.bucket, key, err)
	}
	return out.Location, nil
}

// Close implements Store.
func (s *S3Store) Close() error { return nil }
