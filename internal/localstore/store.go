// Package localstore is the device-local cache of round snapshots and the
// valid checkpoint-code list, kept in SQLite so it survives restarts.
//
// The store never fails its callers: when the database is unavailable every
// operation becomes a logged no-op and reads report a miss.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/raphaelgruber/patrolsync/internal/models"
)

// Well-known keys of the key/value namespace.
const (
	CodesKey     = "valid-codes"
	TemplatesKey = "templates"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS round_cache (
	id          TEXT PRIMARY KEY,
	operator_id TEXT NOT NULL,
	state       TEXT NOT NULL,
	payload     TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS round_cache_operator ON round_cache(operator_id, state);

CREATE TABLE IF NOT EXISTS code_cache (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_ops (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// Store is the SQLite-backed local cache.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (or creates) the cache database at path. On failure the returned
// store is degraded rather than nil.
func Open(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}

	db, err := open(path)
	if err != nil {
		logger.Warn("local cache unavailable, running without it", "path", path, "error", err)
		return s
	}
	s.db = db
	return s
}

func open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers from the engine and the reconciler.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// Available reports whether the database is usable.
func (s *Store) Available() bool {
	return s != nil && s.db != nil
}

// DB exposes the underlying database to the pending-operation queue, which
// shares the file. Returns nil when degraded.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	if !s.Available() {
		return nil
	}
	return s.db.Close()
}

// PutRound inserts or overwrites a round snapshot. Returns false on failure.
func (s *Store) PutRound(ctx context.Context, r *models.Round) bool {
	if !s.Available() {
		s.logger.Warn("cache put skipped, store unavailable", "round_id", r.ID)
		return false
	}
	payload, err := json.Marshal(r)
	if err != nil {
		s.logger.Warn("cache put failed", "round_id", r.ID, "error", err)
		return false
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO round_cache (id, operator_id, state, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			operator_id = excluded.operator_id,
			state = excluded.state,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, r.ID, r.Operator.ID, string(r.State), string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Warn("cache put failed", "round_id", r.ID, "error", err)
		return false
	}
	return true
}

// GetRound returns the cached snapshot for id. Corrupt snapshots count as a miss.
func (s *Store) GetRound(ctx context.Context, id string) (*models.Round, bool) {
	if !s.Available() {
		return nil, false
	}
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM round_cache WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("cache get failed", "round_id", id, "error", err)
		return nil, false
	}
	return s.decodeRound(id, payload)
}

// DeleteRound removes a snapshot. Deleting a missing id is a no-op.
func (s *Store) DeleteRound(ctx context.Context, id string) {
	if !s.Available() {
		return
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM round_cache WHERE id = ?`, id); err != nil {
		s.logger.Warn("cache delete failed", "round_id", id, "error", err)
	}
}

// AllRounds returns every valid cached snapshot.
func (s *Store) AllRounds(ctx context.Context) []models.Round {
	if !s.Available() {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM round_cache ORDER BY updated_at`)
	if err != nil {
		s.logger.Warn("cache scan failed", "error", err)
		return nil
	}
	defer rows.Close()

	var rounds []models.Round
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			s.logger.Warn("cache scan failed", "error", err)
			return rounds
		}
		if r, ok := s.decodeRound(id, payload); ok {
			rounds = append(rounds, *r)
		}
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("cache scan failed", "error", err)
	}
	return rounds
}

// InProgressFor returns the cached IN_PROGRESS round owned by operatorID.
func (s *Store) InProgressFor(ctx context.Context, operatorID string) (*models.Round, bool) {
	for _, r := range s.AllRounds(ctx) {
		if r.Operator.ID == operatorID && r.State == models.RoundInProgress {
			return &r, true
		}
	}
	return nil, false
}

func (s *Store) decodeRound(id, payload string) (*models.Round, bool) {
	var r models.Round
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		s.logger.Warn("discarding unreadable cached round", "round_id", id, "error", err)
		return nil, false
	}
	if err := models.ValidateRound(&r); err != nil {
		s.logger.Warn("discarding invalid cached round", "round_id", id, "error", err)
		return nil, false
	}
	return &r, true
}

// PutCodes overwrites the cached checkpoint-code list.
func (s *Store) PutCodes(ctx context.Context, codes []models.CheckpointCode) bool {
	return s.put(ctx, CodesKey, codes)
}

// Codes returns the cached checkpoint-code list.
func (s *Store) Codes(ctx context.Context) ([]models.CheckpointCode, bool) {
	var codes []models.CheckpointCode
	if !s.get(ctx, CodesKey, &codes) {
		return nil, false
	}
	return codes, true
}

// PutTemplates overwrites the cached template list of the post.
func (s *Store) PutTemplates(ctx context.Context, templates []models.Template) bool {
	return s.put(ctx, TemplatesKey, templates)
}

// Templates returns the cached template list.
func (s *Store) Templates(ctx context.Context) ([]models.Template, bool) {
	var templates []models.Template
	if !s.get(ctx, TemplatesKey, &templates) {
		return nil, false
	}
	return templates, true
}

func (s *Store) put(ctx context.Context, key string, v any) bool {
	if !s.Available() {
		s.logger.Warn("cache put skipped, store unavailable", "key", key)
		return false
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("cache put failed", "key", key, "error", err)
		return false
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO code_cache (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, key, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Warn("cache put failed", "key", key, "error", err)
		return false
	}
	return true
}

func (s *Store) get(ctx context.Context, key string, dst any) bool {
	if !s.Available() {
		return false
	}
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM code_cache WHERE key = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		s.logger.Warn("cache get failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		s.logger.Warn("discarding unreadable cache entry", "key", key, "error", err)
		return false
	}
	return true
}
