// Package blob uploads captured media (photos, signatures) and returns a
// durable URL for it.
package blob

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
)

// Store uploads binary content to a caller-chosen key.
type Store interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string // "fs", "gcs" or "s3"
	Path    string // fs base directory
	Bucket  string
	Region  string
	Retries int
}

// New creates the configured backend wrapped with retries.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", "fs":
		s, err = NewFSStore(cfg.Path, logger)
	case "gcs":
		s, err = NewGCSStore(ctx, cfg.Bucket, logger)
	case "s3":
		s, err = NewS3Store(ctx, cfg.Bucket, cfg.Region, logger)
	default:
		return nil, fmt.Errorf("unsupported blob backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Retries > 0 {
		s = NewRetryingStore(s, cfg.Retries, logger)
	}
	return s, nil
}

// MediaKey builds the deterministic key for a media attachment:
// <folder>/<client>/<site>/<unit>/<stamp>_<name>.<ext>. Empty segments are skipped.
func MediaKey(folder, client, site, unit string, at time.Time, name, ext string) string {
	file := fmt.Sprintf("%d_%s.%s", at.UnixMilli(), name, ext)
	parts := []string{}
	for _, p := range []string{folder, client, site, unit} {
		if p = sanitizeSegment(p); p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(append(parts, file)...)
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "..", "_")
	return s
}
