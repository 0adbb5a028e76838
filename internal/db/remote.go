package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/models"
)

// DefaultRedialInterval is the minimum time between connection attempts
// while the store is unreachable.
const DefaultRedialInterval = 5 * time.Second

// Remote is a Client that connects on first use. While the store is
// unreachable every call fails fast with ErrUnavailable instead of blocking,
// and a new connection attempt is made at most once per RedialInterval.
// Every call is bounded by Timeout.
type Remote struct {
	cfg    Config
	logger *slog.Logger

	Timeout        time.Duration
	RedialInterval time.Duration

	mu         sync.Mutex
	client     *Client
	lastDialAt time.Time
}

// NewRemote creates a lazily connecting remote store. No connection is made
// until the first call.
func NewRemote(cfg Config, timeout time.Duration, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		cfg:            cfg,
		logger:         logger,
		Timeout:        timeout,
		RedialInterval: DefaultRedialInterval,
	}
}

// NewRemoteFromClient wraps an already connected client.
func NewRemoteFromClient(c *Client, timeout time.Duration) *Remote {
	return &Remote{client: c, logger: slog.Default(), Timeout: timeout, RedialInterval: DefaultRedialInterval}
}

func (r *Remote) connected(ctx context.Context) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	if r.cfg.URL == "" {
		return nil, fmt.Errorf("%w: no store configured", ErrUnavailable)
	}
	if !r.lastDialAt.IsZero() && time.Since(r.lastDialAt) < r.RedialInterval {
		return nil, ErrUnavailable
	}
	r.lastDialAt = time.Now()

	c, err := NewClient(ctx, r.cfg, r.logger)
	if err != nil {
		r.logger.Debug("remote store unreachable", "url", r.cfg.URL, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := c.InitSchema(ctx); err != nil {
		_ = c.Close(context.Background())
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	r.client = c
	return c, nil
}

func (r *Remote) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

// call runs fn against a connected client within the remote timeout. A
// deadline hit is reported as ErrUnavailable so callers fall back to the
// local path.
func call[T any](ctx context.Context, r *Remote, fn func(context.Context, *Client) (T, error)) (T, error) {
	var zero T
	ctx, cancel := r.bounded(ctx)
	defer cancel()
	c, err := r.connected(ctx)
	if err != nil {
		return zero, err
	}
	v, err := fn(ctx, c)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrUnavailable) {
		return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, err
}

// Ping reports whether the store answers within the timeout.
func (r *Remote) Ping(ctx context.Context) error {
	_, err := call(ctx, r, func(ctx context.Context, c *Client) (struct{}, error) {
		return struct{}{}, c.Ping(ctx)
	})
	return err
}

// Close closes the underlying connection, if any.
func (r *Remote) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close(ctx)
	r.client = nil
	return err
}

func (r *Remote) GetRound(ctx context.Context, id string) (*models.Round, error) {
	return call(ctx, r, func(ctx context.Context, c *Client) (*models.Round, error) {
		return c.GetRound(ctx, id)
	})
}

func (r *Remote) FindInProgressRound(ctx context.Context, op models.Operator) (*models.Round, error) {
	return call(ctx, r, func(ctx context.Context, c *Client) (*models.Round, error) {
		return c.FindInProgressRound(ctx, op)
	})
}

func (r *Remote) RoundsSince(ctx context.Context, client, unit string, since time.Time) ([]models.Round, error) {
	return call(ctx, r, func(ctx context.Context, c *Client) ([]models.Round, error) {
		return c.RoundsSince(ctx, client, unit, since)
	})
}

type createResult struct {
	round   *models.Round
	created bool
}

func (r *Remote) CreateRound(ctx context.Context, round *models.Round) (*models.Round, bool, error) {
	res, err := call(ctx, r, func(ctx context.Context, c *Client) (createResult, error) {
		got, created, err := c.CreateRound(ctx, round)
		return createResult{got, created}, err
	})
	return res.round, res.created, err
}

func (r *Remote) SaveRound(ctx context.Context, round *models.Round) error {
	_, err := call(ctx, r, func(ctx context.Context, c *Client) (struct{}, error) {
		return struct{}{}, c.SaveRound(ctx, round)
	})
	return err
}

func (r *Remote) MergeRecords(ctx context.Context, roundID string, records map[int]models.CheckpointRecord) error {
	_, err := call(ctx, r, func(ctx context.Context, c *Client) (struct{}, error) {
		return struct{}{}, c.MergeRecords(ctx, roundID, records)
	})
	return err
}

func (r *Remote) TerminateRound(ctx context.Context, roundID string, state models.RoundState, endedAt time.Time) (bool, error) {
	return call(ctx, r, func(ctx context.Context, c *Client) (bool, error) {
		return c.TerminateRound(ctx, roundID, state, endedAt)
	})
}

func (r *Remote) ListTemplates(ctx context.Context, client, unit string) ([]models.Template, error) {
	return call(ctx, r, func(ctx context.Context, c *Client) ([]models.Template, error) {
		return c.ListTemplates(ctx, client, unit)
	})
}

func (r *Remote) ListCheckpointCodes(ctx context.Context, client, unit string) ([]models.CheckpointCode, error) {
	return call(ctx, r, func(ctx context.Context, c *Client) ([]models.CheckpointCode, error) {
		return c.ListCheckpointCodes(ctx, client, unit)
	})
}

func (r *Remote) CreateDocument(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := call(ctx, r, func(ctx context.Context, c *Client) (struct{}, error) {
		return struct{}{}, c.CreateDocument(ctx, collection, id, data)
	})
	return err
}

func (r *Remote) MergeDocument(ctx context.Context, path string, p Patch) error {
	_, err := call(ctx, r, func(ctx context.Context, c *Client) (struct{}, error) {
		return struct{}{}, c.MergeDocument(ctx, path, p)
	})
	return err
}
