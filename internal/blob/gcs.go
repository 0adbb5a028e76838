package blob

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
)

// GCSStore uploads to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewGCSStore connects with application default credentials and checks the
// bucket is reachable.
func NewGCSStore(ctx context.Context, bucket string, logger *slog.Logger) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs blob store: bucket not configured")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("access bucket %s: %w", bucket, err)
	}
	logger.Info("gcs blob store ready", "bucket", bucket)
	return &GCSStore{client: client, bucket: bucket, logger: logger}, nil
}

// Upload writes the object and returns its public URL.
func (s *GCSStore) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=31536000"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write GCS object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize GCS object %s: %w", key, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key), nil
}

// Close implements Store.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
