package db

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestPatchMergeObject(t *testing.T) {
	p := Patch{
		Set: map[string]any{
			"records.2.photo_url": "https://example.test/a.jpg",
			"records.2.scanned":   true,
			"reconnected":         true,
		},
		Unset: []string{"records.2.photo_embedded"},
	}

	got, err := p.mergeObject()
	require.NoError(t, err)

	assert.Equal(t, true, got["reconnected"])
	records, ok := got["records"].(map[string]any)
	require.True(t, ok)
	rec, ok := records["2"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.test/a.jpg", rec["photo_url"])
	assert.Equal(t, true, rec["scanned"])
	assert.Equal(t, surrealmodels.None, rec["photo_embedded"])
}

func TestPatchMergeObjectRejectsEmptySegment(t *testing.T) {
	_, err := Patch{Set: map[string]any{"records..x": 1}}.mergeObject()
	assert.Error(t, err)
}

func TestPatchServerTimeClause(t *testing.T) {
	clause, err := Patch{ServerTime: []string{"reconnected_at", "last_sync_at"}}.serverTimeClause()
	require.NoError(t, err)
	assert.Equal(t, "reconnected_at = time::now(), last_sync_at = time::now()", clause)

	_, err = Patch{ServerTime: []string{"x; DELETE round_run"}}.serverTimeClause()
	assert.Error(t, err)
}

func TestPatchEmpty(t *testing.T) {
	assert.True(t, Patch{}.Empty())
	assert.False(t, Patch{ServerTime: []string{"at"}}.Empty())
}

func TestCoerceTimes(t *testing.T) {
	ts := "2026-03-01T08:15:00Z"
	doc := coerceDocument(map[string]any{
		"id":         "ignored",
		"started_at": ts,
		"note":       ts,
		"records": map[string]any{
			"0": map[string]any{"scanned_at": ts, "code": "ABC123"},
		},
	})

	_, hasID := doc["id"]
	assert.False(t, hasID)
	want, _ := time.Parse(time.RFC3339, ts)
	assert.Equal(t, want, doc["started_at"])
	assert.Equal(t, ts, doc["note"], "only *_at keys are converted")
	rec := doc["records"].(map[string]any)["0"].(map[string]any)
	assert.Equal(t, want, rec["scanned_at"])
	assert.Equal(t, "ABC123", rec["code"])
}

func TestWrapQueryErrorTransport(t *testing.T) {
	err := wrapQueryError(errors.New("connection reset"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, wrapQueryError(nil))
}

func TestPatchMergeObjectNestsChildIntoParent(t *testing.T) {
	p := Patch{
		Set: map[string]any{
			"records.1.photo_url": "https://example.test/b.jpg",
			"records.1":           map[string]any{"name": "Dock", "scanned": true, "scanned_at": "2026-03-01T08:15:00Z"},
		},
		Unset: []string{"records.1.photo_embedded"},
	}

	got, err := p.mergeObject()
	require.NoError(t, err)

	rec := got["records"].(map[string]any)["1"].(map[string]any)
	assert.Equal(t, "Dock", rec["name"])
	assert.Equal(t, "https://example.test/b.jpg", rec["photo_url"])
	assert.Equal(t, surrealmodels.None, rec["photo_embedded"])
	_, isTime := rec["scanned_at"].(time.Time)
	assert.True(t, isTime)
}
