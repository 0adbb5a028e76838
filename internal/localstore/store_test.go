package localstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s := Open(filepath.Join(t.TempDir(), "cache.db"), quietLogger())
	require.True(t, s.Available())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRound(id, operator string) *models.Round {
	start := time.Date(2026, 3, 7, 8, 2, 0, 0, time.UTC)
	return &models.Round{
		ID:             id,
		TemplateID:     "north",
		Client:         "acme",
		Unit:           "plant-1",
		Operator:       models.Operator{ID: operator, Name: "Ana"},
		ScheduledStart: "08:00",
		Tolerance:      models.Tolerance{Amount: 30, Unit: models.UnitMinutes},
		Checkpoints:    []models.Checkpoint{{Name: "Gate", Code: "G"}, {Name: "Dock", Code: "D"}},
		Records:        map[int]models.CheckpointRecord{0: {Name: "Gate"}, 1: {Name: "Dock"}},
		State:          models.RoundInProgress,
		StartedAt:      start,
	}
}

func TestRoundPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r := sampleRound("north_2026_03_07_0800", "g1")
	require.True(t, s.PutRound(ctx, r))

	got, ok := s.GetRound(ctx, r.ID)
	require.True(t, ok)
	assert.Equal(t, r.ID, got.ID)
	assert.Len(t, got.Records, 2)
	assert.True(t, r.StartedAt.Equal(got.StartedAt))

	code := "G"
	r.Records[0] = models.CheckpointRecord{Name: "Gate", Scanned: true, Code: &code}
	require.True(t, s.PutRound(ctx, r))
	got, ok = s.GetRound(ctx, r.ID)
	require.True(t, ok)
	assert.True(t, got.Records[0].Scanned)

	s.DeleteRound(ctx, r.ID)
	s.DeleteRound(ctx, r.ID)
	_, ok = s.GetRound(ctx, r.ID)
	assert.False(t, ok)
}

func TestAllRoundsAndInProgressFor(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	done := sampleRound("a", "g1")
	done.State = models.RoundIncomplete
	require.True(t, s.PutRound(ctx, done))
	require.True(t, s.PutRound(ctx, sampleRound("b", "g2")))
	require.True(t, s.PutRound(ctx, sampleRound("c", "g1")))

	assert.Len(t, s.AllRounds(ctx), 3)

	r, ok := s.InProgressFor(ctx, "g1")
	require.True(t, ok)
	assert.Equal(t, "c", r.ID)

	_, ok = s.InProgressFor(ctx, "nobody")
	assert.False(t, ok)
}

func TestInvalidSnapshotIsAMiss(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.DB().Exec(`INSERT INTO round_cache (id, operator_id, state, payload, updated_at) VALUES ('bad', 'g1', 'IN_PROGRESS', '{"id":"bad"}', 'x')`)
	require.NoError(t, err)

	_, ok := s.GetRound(ctx, "bad")
	assert.False(t, ok)
	assert.Empty(t, s.AllRounds(ctx))
}

func TestCodes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok := s.Codes(ctx)
	assert.False(t, ok)

	require.True(t, s.PutCodes(ctx, []models.CheckpointCode{{Code: "A1"}, {Code: "B2"}}))
	require.True(t, s.PutCodes(ctx, []models.CheckpointCode{{Code: "C3", Client: "acme"}}))

	codes, ok := s.Codes(ctx)
	require.True(t, ok)
	require.Len(t, codes, 1)
	assert.Equal(t, "C3", codes[0].Code)
}

func TestTemplatesSeparateFromCodes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.True(t, s.PutCodes(ctx, []models.CheckpointCode{{Code: "A1"}}))
	require.True(t, s.PutTemplates(ctx, []models.Template{{ID: "north", Client: "acme", Unit: "plant-1", StartTime: "08:00"}}))

	templates, ok := s.Templates(ctx)
	require.True(t, ok)
	require.Len(t, templates, 1)
	assert.Equal(t, "08:00", templates[0].StartTime)

	codes, ok := s.Codes(ctx)
	require.True(t, ok)
	assert.Len(t, codes, 1)
}

func TestDegradedStoreIsNoOp(t *testing.T) {
	ctx := context.Background()
	// A directory cannot be opened as a database file.
	s := Open(t.TempDir(), quietLogger())
	assert.False(t, s.Available())

	assert.False(t, s.PutRound(ctx, sampleRound("a", "g1")))
	_, ok := s.GetRound(ctx, "a")
	assert.False(t, ok)
	s.DeleteRound(ctx, "a")
	assert.Nil(t, s.AllRounds(ctx))
	assert.False(t, s.PutCodes(ctx, nil))
	assert.NoError(t, s.Close())
}
