// Package queue is the durable, ordered list of remote writes that have not
// been confirmed yet. Entries live in the local cache database and are only
// removed once their remote effect succeeded.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/patrolsync/internal/models"
)

// ErrUnavailable is returned when the queue database cannot be used.
var ErrUnavailable = errors.New("queue unavailable")

// Queue stores pending operations in insertion order.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a queue on an open database holding the pending_ops table.
// A nil db yields a queue whose writes fail with ErrUnavailable.
func New(db *sql.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger, now: time.Now}
}

// Add appends an entry, assigning an ID and creation time when absent.
func (q *Queue) Add(ctx context.Context, op models.PendingOp) (string, error) {
	if q.db == nil {
		return "", ErrUnavailable
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.now().UTC()
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return "", fmt.Errorf("encode pending op: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO pending_ops (id, kind, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, payload = excluded.payload
	`, op.ID, string(op.Kind()), string(payload), op.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert pending op: %w", err)
	}
	q.logger.Debug("queued pending op", "id", op.ID, "kind", op.Kind())
	return op.ID, nil
}

// Undecodable is a stored entry whose payload could not be decoded.
type Undecodable struct {
	ID  string
	Err error
}

// All returns a snapshot of every entry in insertion order without removing
// anything. Entries that fail to decode are reported separately and stay stored.
func (q *Queue) All(ctx context.Context) ([]models.PendingOp, []Undecodable, error) {
	if q.db == nil {
		return nil, nil, ErrUnavailable
	}
	rows, err := q.db.QueryContext(ctx, `SELECT id, payload FROM pending_ops ORDER BY seq`)
	if err != nil {
		return nil, nil, fmt.Errorf("list pending ops: %w", err)
	}
	defer rows.Close()

	var ops []models.PendingOp
	var bad []Undecodable
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, nil, fmt.Errorf("scan pending op: %w", err)
		}
		var op models.PendingOp
		if err := json.Unmarshal([]byte(payload), &op); err != nil {
			bad = append(bad, Undecodable{ID: id, Err: err})
			continue
		}
		// The row id is authoritative; legacy payloads may lack one.
		op.ID = id
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("list pending ops: %w", err)
	}
	return ops, bad, nil
}

// Remove deletes one entry. Removing a missing id is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if q.db == nil {
		return ErrUnavailable
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_ops WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove pending op: %w", err)
	}
	return nil
}

// Count returns the number of stored entries, or 0 when unavailable.
func (q *Queue) Count(ctx context.Context) int {
	if q.db == nil {
		return 0
	}
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_ops`).Scan(&n); err != nil {
		q.logger.Warn("count pending ops failed", "error", err)
		return 0
	}
	return n
}

// ImportRaw stores an already-encoded entry, used to carry entries over from
// older clients. The payload is decoded first so invalid data is rejected.
func (q *Queue) ImportRaw(ctx context.Context, payload []byte) (string, error) {
	var op models.PendingOp
	if err := json.Unmarshal(payload, &op); err != nil {
		return "", fmt.Errorf("decode legacy entry: %w", err)
	}
	return q.Add(ctx, op)
}
