package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryingStore retries failed uploads with exponential backoff.
type RetryingStore struct {
	store      Store
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewRetryingStore wraps store with up to maxRetries extra attempts.
func NewRetryingStore(store Store, maxRetries int, logger *slog.Logger) *RetryingStore {
	return &RetryingStore{
		store:      store,
		maxRetries: maxRetries,
		retryDelay: 500 * time.Millisecond,
		logger:     logger,
	}
}

// Upload implements Store.
func (r *RetryingStore) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := min(r.retryDelay*time.Duration(1<<(attempt-1)), 10*time.Second)
			r.logger.Debug("retrying blob upload", "key", key, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		url, err := r.store.Upload(ctx, key, contentType, data)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("upload failed after %d retries: %w", r.maxRetries, lastErr)
}

// Close implements Store.
func (r *RetryingStore) Close() error {
	return r.store.Close()
}

func isRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
