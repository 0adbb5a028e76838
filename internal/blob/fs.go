package blob

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FSStore writes blobs under a local directory and returns file:// URLs.
type FSStore struct {
	basePath string
	logger   *slog.Logger
}

// NewFSStore creates the base directory if needed.
func NewFSStore(basePath string, logger *slog.Logger) (*FSStore, error) {
	if basePath == "~" || strings.HasPrefix(basePath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		basePath = filepath.Join(home, strings.TrimPrefix(basePath, "~"))
	}
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve blob path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	logger.Debug("fs blob store ready", "path", absPath)
	return &FSStore{basePath: absPath, logger: logger}, nil
}

// Upload writes data atomically (temp file + rename).
func (s *FSStore) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleanKey) {
		return "", fmt.Errorf("absolute paths not allowed in key: %s", key)
	}
	fullPath := filepath.Join(s.basePath, cleanKey)
	rel, err := filepath.Rel(s.basePath, fullPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid key path: %s", key)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	tmp := fmt.Sprintf("%s.tmp.%d", fullPath, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename blob: %w", err)
	}

	s.logger.Debug("stored blob", "key", key, "bytes", len(data), "content_type", contentType)
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(fullPath)}).String(), nil
}

// Close implements Store.
func (s *FSStore) Close() error { return nil }
