package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/db"
	"github.com/raphaelgruber/patrolsync/internal/localstore"
	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/raphaelgruber/patrolsync/internal/queue"
	"github.com/stretchr/testify/require"
)

// fakeRemote is an in-memory remote store.
type fakeRemote struct {
	mu sync.Mutex

	offline   bool
	delay     time.Duration
	pingBlock chan struct{}
	failWrite error

	rounds    map[string]*models.Round
	templates []models.Template
	codes     []models.CheckpointCode
	docs      map[string]map[string]any
	patches   map[string][]db.Patch

	pings          int
	terminateCalls int
	mergeCalls     int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		rounds:  map[string]*models.Round{},
		docs:    map[string]map[string]any{},
		patches: map[string][]db.Patch{},
	}
}

func (f *fakeRemote) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *fakeRemote) wait(ctx context.Context) error {
	f.mu.Lock()
	offline, delay := f.offline, f.delay
	f.mu.Unlock()
	if offline {
		return db.ErrUnavailable
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeRemote) writeErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWrite
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	f.pings++
	block := f.pingBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.wait(ctx)
}

func (f *fakeRemote) round(id string) *models.Round {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rounds[id].Clone()
}

func (f *fakeRemote) GetRound(ctx context.Context, id string) (*models.Round, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.round(id), nil
}

func (f *fakeRemote) FindInProgressRound(ctx context.Context, op models.Operator) (*models.Round, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rounds {
		if r.State == models.RoundInProgress && (r.Operator.ID == op.ID || (op.Name != "" && r.Operator.Name == op.Name)) {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (f *fakeRemote) RoundsSince(ctx context.Context, client, unit string, since time.Time) ([]models.Round, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Round
	for _, r := range f.rounds {
		if r.Client == client && r.Unit == unit && !r.StartedAt.Before(since) {
			out = append(out, *r.Clone())
		}
	}
	return out, nil
}

func (f *fakeRemote) CreateRound(ctx context.Context, r *models.Round) (*models.Round, bool, error) {
	if err := f.wait(ctx); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rounds[r.ID]; ok {
		return existing.Clone(), false, nil
	}
	f.rounds[r.ID] = r.Clone()
	return r, true, nil
}

func (f *fakeRemote) SaveRound(ctx context.Context, r *models.Round) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds[r.ID] = r.Clone()
	return nil
}

func (f *fakeRemote) MergeRecords(ctx context.Context, roundID string, records map[int]models.CheckpointRecord) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	if err := f.writeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mergeCalls++
	r, ok := f.rounds[roundID]
	if !ok {
		return db.ErrNotFound
	}
	maps.Copy(r.Records, records)
	return nil
}

func (f *fakeRemote) TerminateRound(ctx context.Context, roundID string, state models.RoundState, endedAt time.Time) (bool, error) {
	if err := f.wait(ctx); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateCalls++
	r, ok := f.rounds[roundID]
	if !ok || r.State != models.RoundInProgress {
		return false, nil
	}
	r.State = state
	r.EndedAt = &endedAt
	return true, nil
}

func (f *fakeRemote) ListTemplates(ctx context.Context, client, unit string) ([]models.Template, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Template(nil), f.templates...), nil
}

func (f *fakeRemote) ListCheckpointCodes(ctx context.Context, client, unit string) ([]models.CheckpointCode, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CheckpointCode(nil), f.codes...), nil
}

func (f *fakeRemote) CreateDocument(ctx context.Context, collection, id string, data map[string]any) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	if err := f.writeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := models.DocPath(collection, id)
	if _, ok := f.docs[path]; !ok {
		f.docs[path] = maps.Clone(data)
	}
	return nil
}

func (f *fakeRemote) MergeDocument(ctx context.Context, path string, p db.Patch) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	if err := f.writeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches[path] = append(f.patches[path], p)
	return nil
}

func (f *fakeRemote) doc(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[path]
}

func (f *fakeRemote) patchesFor(path string) []db.Patch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]db.Patch(nil), f.patches[path]...)
}

// fakeBlobs records uploads in memory.
type fakeBlobs struct {
	mu      sync.Mutex
	fail    bool
	uploads map[string][]byte
}

func (b *fakeBlobs) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return "", errors.New("bucket unreachable")
	}
	if b.uploads == nil {
		b.uploads = map[string][]byte{}
	}
	b.uploads[key] = data
	return "https://blobs.test/" + key, nil
}

func (b *fakeBlobs) Close() error { return nil }

func (b *fakeBlobs) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k := range b.uploads {
		out = append(out, k)
	}
	return out
}

// fakeConn is a switchable connectivity flag.
type fakeConn struct {
	mu sync.Mutex
	up bool
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *fakeConn) set(v bool) {
	c.mu.Lock()
	c.up = v
	c.mu.Unlock()
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	remote *fakeRemote
	blobs  *fakeBlobs
	conn   *fakeConn
	clock  *fakeClock
	cache  *localstore.Store
	queue  *queue.Queue
	deps   Deps
}

var testOperator = models.Operator{ID: "op-1", Name: "Dana"}

var testPost = Post{Client: "acme", Site: "site-a", Unit: "north-gate"}

func testTemplate() models.Template {
	return models.Template{
		ID:        "tpl-morning",
		Name:      "Morning patrol",
		Client:    "acme",
		Unit:      "north-gate",
		Frequency: models.FrequencyDaily,
		StartTime: "08:00",
		Tolerance: models.Tolerance{Amount: 30, Unit: models.UnitMinutes},
		Checkpoints: []models.Checkpoint{
			{Name: "Lobby", Code: "ABC123"},
			{Name: "Dock", Code: "DEF456", Questions: []string{"Door locked?"}},
			{Name: "Roof", Code: "GHI789"},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness wires a session environment at 08:00 on a fixed day.
func newHarness(t *testing.T) *harness {
	t.Helper()
	cache := localstore.Open(filepath.Join(t.TempDir(), "cache.db"), quietLogger())
	require.True(t, cache.Available())
	t.Cleanup(func() { _ = cache.Close() })

	h := &harness{
		remote: newFakeRemote(),
		blobs:  &fakeBlobs{},
		conn:   &fakeConn{up: true},
		clock:  &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)},
		cache:  cache,
		queue:  queue.New(cache.DB(), quietLogger()),
	}
	h.remote.templates = []models.Template{testTemplate()}
	h.deps = Deps{
		Remote:        h.remote,
		Cache:         h.cache,
		Queue:         h.queue,
		Blobs:         h.blobs,
		Conn:          h.conn,
		Metrics:       metrics.NewCollector(),
		Logger:        quietLogger(),
		Now:           h.clock.Now,
		RemoteTimeout: time.Second,
	}
	return h
}

func (h *harness) session(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(testOperator, testPost, h.deps)
	require.NoError(t, err)
	return s
}

func (h *harness) pending(t *testing.T) []models.PendingOp {
	t.Helper()
	ops, bad, err := h.queue.All(context.Background())
	require.NoError(t, err)
	require.Empty(t, bad)
	return ops
}
