package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/db"
	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const morningRoundID = "tpl-morning_2026_03_02_0800"

func startedSession(t *testing.T, h *harness) *Session {
	t.Helper()
	s := h.session(t)
	_, err := s.Start(context.Background(), "tpl-morning")
	require.NoError(t, err)
	return s
}

func TestNewSessionRequiresOperatorAndPost(t *testing.T) {
	h := newHarness(t)
	_, err := NewSession(models.Operator{}, testPost, h.deps)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewSession(testOperator, Post{Client: "acme"}, h.deps)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestStartCreatesRound(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(5 * time.Minute)

	r, err := h.session(t).Start(context.Background(), "tpl-morning")
	require.NoError(t, err)
	assert.Equal(t, morningRoundID, r.ID)
	assert.Equal(t, models.RoundInProgress, r.State)
	assert.Len(t, r.Records, 3)
	assert.Equal(t, "site-a", r.Site)

	stored := h.remote.round(morningRoundID)
	require.NotNil(t, stored)
	assert.Equal(t, testOperator.ID, stored.Operator.ID)

	cached, ok := h.cache.GetRound(context.Background(), morningRoundID)
	require.True(t, ok)
	assert.True(t, cached.StartedAt.Equal(r.StartedAt))
	assert.Empty(t, h.pending(t))
}

func TestStartIsIdempotentPerSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.session(t).Start(ctx, "tpl-morning")
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	second, err := h.session(t).Start(ctx, "tpl-morning")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.StartedAt.Equal(second.StartedAt))
	assert.Len(t, h.remote.rounds, 1)
}

func TestStartWhileActiveConflicts(t *testing.T) {
	h := newHarness(t)
	s := startedSession(t, h)

	r, err := s.Start(context.Background(), "tpl-morning")
	assert.ErrorIs(t, err, ErrConflictAlreadyActive)
	require.NotNil(t, r)
	assert.Equal(t, morningRoundID, r.ID)
}

func TestStartSlotOwnedByAnotherOperator(t *testing.T) {
	h := newHarness(t)
	other := models.NewRound(testTemplate(), models.Operator{ID: "op-2", Name: "Robin"}, "site-a", at(8, 0, 0), at(8, 0, 0))
	h.remote.rounds[other.ID] = other

	_, err := h.session(t).Start(context.Background(), "tpl-morning")
	assert.ErrorIs(t, err, ErrConflictAlreadyActive)
	assert.Contains(t, err.Error(), "Robin")
}

func TestStartSlotAlreadyClosed(t *testing.T) {
	h := newHarness(t)
	done := models.NewRound(testTemplate(), testOperator, "site-a", at(8, 0, 0), at(8, 0, 0))
	done.State = models.RoundTerminated
	h.remote.rounds[done.ID] = done

	_, err := h.session(t).Start(context.Background(), "tpl-morning")
	assert.ErrorIs(t, err, ErrRoundClosed)
}

func TestStartNotEligible(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(time.Hour)

	_, err := h.session(t).Start(context.Background(), "tpl-morning")
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Contains(t, err.Error(), "window expired")
}

func TestStartUnknownTemplate(t *testing.T) {
	h := newHarness(t)
	_, err := h.session(t).Start(context.Background(), "tpl-evening")
	assert.ErrorIs(t, err, ErrConfiguration)
}

// withSecondTemplate adds a template whose window overlaps the morning one.
func withSecondTemplate(h *harness) {
	second := testTemplate()
	second.ID = "tpl-gate"
	second.Name = "Gate check"
	second.Tolerance = models.Tolerance{Amount: 2, Unit: models.UnitHours}
	h.remote.templates = append(h.remote.templates, second)
}

func inProgressFor(h *harness, operatorID string) int {
	h.remote.mu.Lock()
	defer h.remote.mu.Unlock()
	n := 0
	for _, r := range h.remote.rounds {
		if r.State == models.RoundInProgress && r.Operator.ID == operatorID {
			n++
		}
	}
	return n
}

func TestStartFromAnotherSessionResumesRunningRound(t *testing.T) {
	h := newHarness(t)
	withSecondTemplate(h)
	ctx := context.Background()
	startedSession(t, h)

	s := h.session(t)
	r, err := s.Start(ctx, "tpl-gate")
	assert.ErrorIs(t, err, ErrConflictAlreadyActive)
	require.NotNil(t, r)
	assert.Equal(t, morningRoundID, r.ID)
	assert.Equal(t, morningRoundID, s.Active().ID)
	assert.Equal(t, 1, inProgressFor(h, testOperator.ID))
}

func TestStartFromAnotherSessionOfflineUsesCache(t *testing.T) {
	h := newHarness(t)
	withSecondTemplate(h)
	ctx := context.Background()

	s1 := h.session(t)
	_, err := s1.Templates(ctx)
	require.NoError(t, err)
	_, err = s1.Start(ctx, "tpl-morning")
	require.NoError(t, err)

	h.remote.setOffline(true)
	h.conn.set(false)

	r, err := h.session(t).Start(ctx, "tpl-gate")
	assert.ErrorIs(t, err, ErrConflictAlreadyActive)
	require.NotNil(t, r)
	assert.Equal(t, morningRoundID, r.ID)
	assert.Empty(t, h.pending(t))
}

func TestStartClosesExpiredRunningRound(t *testing.T) {
	h := newHarness(t)
	withSecondTemplate(h)
	ctx := context.Background()
	startedSession(t, h)

	h.clock.Advance(45 * time.Minute)
	r, err := h.session(t).Start(ctx, "tpl-gate")
	require.NoError(t, err)
	assert.Equal(t, "tpl-gate", r.TemplateID)

	morning := h.remote.round(morningRoundID)
	require.NotNil(t, morning)
	assert.Equal(t, models.RoundNotDone, morning.State)
	assert.Equal(t, 1, inProgressFor(h, testOperator.ID))
}

func TestStartOfflineQueuesRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.session(t)

	// Populate the template cache while online.
	_, err := s.Templates(ctx)
	require.NoError(t, err)

	h.conn.set(false)
	r, err := s.Start(ctx, "tpl-morning")
	require.NoError(t, err)
	assert.Equal(t, morningRoundID, r.ID)
	assert.Nil(t, h.remote.round(morningRoundID))

	ops := h.pending(t)
	require.Len(t, ops, 1)
	u, ok := ops[0].Op.(models.UpdateFields)
	require.True(t, ok)
	assert.Equal(t, models.DocPath(db.TableRound, morningRoundID), u.DocPath)
	assert.Equal(t, "IN_PROGRESS", u.Data["state"])
	assert.Equal(t, "acme", ops[0].Client)
	assert.Equal(t, "north-gate", ops[0].Unit)
}

func TestStartOfflineWithoutTemplateCache(t *testing.T) {
	h := newHarness(t)
	h.conn.set(false)

	_, err := h.session(t).Start(context.Background(), "tpl-morning")
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestScanFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)

	cp, err := s.OpenScanner(0)
	require.NoError(t, err)
	assert.Equal(t, "Lobby", cp.Name)

	_, err = s.Scan(ctx, "XYZ999")
	assert.ErrorIs(t, err, ErrInvalidCode)

	// The scanner stays open after a mismatch.
	res, err := s.Scan(ctx, " ABC123 ")
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.True(t, res.Synced)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 3, res.Total)

	stored := h.remote.round(morningRoundID)
	assert.True(t, stored.Records[0].Scanned)
	assert.Equal(t, "ABC123", stored.Records[0].CodeValue())

	_, err = s.OpenScanner(0)
	assert.ErrorIs(t, err, ErrAlreadyScanned)

	_, err = s.OpenScanner(1)
	require.NoError(t, err)
	res, err = s.Scan(ctx, "DEF456")
	require.NoError(t, err)
	assert.True(t, res.AwaitingAnswers)
	assert.False(t, res.Recorded)
	assert.Equal(t, []string{"Door locked?"}, res.Questions)
	assert.False(t, h.remote.round(morningRoundID).Records[1].Scanned)

	_, err = s.Scan(ctx, "DEF456")
	assert.ErrorIs(t, err, ErrNoPendingScan)

	res, err = s.SubmitAnswers(ctx, map[string]string{"Door locked?": "yes"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.Equal(t, 2, res.Scanned)

	stored = h.remote.round(morningRoundID)
	assert.Equal(t, "yes", stored.Records[1].Answers["Door locked?"])
	assert.Empty(t, h.pending(t))
}

func TestScannerGuards(t *testing.T) {
	h := newHarness(t)
	h.remote.templates[0].Checkpoints[2].Code = " "
	ctx := context.Background()

	s := h.session(t)
	_, err := s.OpenScanner(0)
	assert.ErrorIs(t, err, ErrNoActiveRound)
	_, err = s.Scan(ctx, "ABC123")
	assert.ErrorIs(t, err, ErrNoActiveRound)

	_, err = s.Start(ctx, "tpl-morning")
	require.NoError(t, err)

	_, err = s.Scan(ctx, "ABC123")
	assert.ErrorIs(t, err, ErrNoPendingScan)

	_, err = s.OpenScanner(2)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = s.OpenScanner(7)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = s.OpenScanner(0)
	require.NoError(t, err)
	_, err = s.OpenScanner(1)
	assert.ErrorIs(t, err, ErrScannerBusy)

	s.CloseScanner()
	_, err = s.OpenScanner(1)
	assert.NoError(t, err)

	_, err = s.SubmitAnswers(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrNoPendingScan)
}

func TestRecordIsAtMostOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)

	_, err := s.OpenScanner(1)
	require.NoError(t, err)
	_, err = s.Scan(ctx, "DEF456")
	require.NoError(t, err)

	s.mu.Lock()
	stale := s.scanner
	s.mu.Unlock()

	_, err = s.SubmitAnswers(ctx, map[string]string{"Door locked?": "yes"}, nil)
	require.NoError(t, err)

	_, err = s.record(ctx, morningRoundID, stale, stale.code, map[string]string{"Door locked?": "no"}, nil)
	assert.ErrorIs(t, err, ErrAlreadyScanned)
	assert.Equal(t, "yes", s.Active().Records[1].Answers["Door locked?"])
}

func TestRecordAfterScannerClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)

	_, err := s.OpenScanner(0)
	require.NoError(t, err)
	s.mu.Lock()
	stale := s.scanner
	s.mu.Unlock()
	s.CloseScanner()

	_, err = s.record(ctx, morningRoundID, stale, "ABC123", nil, nil)
	assert.ErrorIs(t, err, ErrNoPendingScan)
	assert.False(t, s.Active().Records[0].Scanned)
}

func TestConcurrentAnswersRecordOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)

	_, err := s.OpenScanner(1)
	require.NoError(t, err)
	_, err = s.Scan(ctx, "DEF456")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	recorded := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := s.SubmitAnswers(ctx, map[string]string{"Door locked?": "yes"}, nil); err == nil && res.Recorded {
				mu.Lock()
				recorded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, recorded)
	h.remote.mu.Lock()
	merges := h.remote.mergeCalls
	h.remote.mu.Unlock()
	assert.Equal(t, 1, merges)
}

func TestScanOfflineQueuesRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)

	h.conn.set(false)
	_, err := s.OpenScanner(0)
	require.NoError(t, err)
	res, err := s.Scan(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.False(t, res.Synced)

	cached, ok := h.cache.GetRound(ctx, morningRoundID)
	require.True(t, ok)
	assert.True(t, cached.Records[0].Scanned)
	assert.False(t, h.remote.round(morningRoundID).Records[0].Scanned)

	ops := h.pending(t)
	require.Len(t, ops, 1)
	u := ops[0].Op.(models.UpdateFields)
	assert.Equal(t, models.DocPath(db.TableRound, morningRoundID), u.DocPath)
	assert.Equal(t, "records.0.", u.MediaPrefix)
	rec, ok := u.Data["records.0"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, rec["scanned"])
	assert.Equal(t, "ABC123", rec["code"])
}

func TestScanTimeoutQueuesRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)

	h.remote.mu.Lock()
	h.remote.delay = 200 * time.Millisecond
	h.remote.mu.Unlock()
	s.deps.RemoteTimeout = 20 * time.Millisecond

	_, err := s.OpenScanner(0)
	require.NoError(t, err)
	res, err := s.Scan(ctx, "ABC123")
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Len(t, h.pending(t), 1)
}

func TestScanWithPhotoUploads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)

	_, err := s.OpenScanner(1)
	require.NoError(t, err)
	_, err = s.Scan(ctx, "DEF456")
	require.NoError(t, err)
	_, err = s.SubmitAnswers(ctx, map[string]string{"Door locked?": "no"},
		&Attachment{Data: []byte("raw-photo"), ContentType: "image/jpeg"})
	require.NoError(t, err)

	keys := h.blobs.keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "rounds/acme/site-a/north-gate/"))
	assert.True(t, strings.HasSuffix(keys[0], "_"+morningRoundID+"_cp2.jpg"))

	stored := h.remote.round(morningRoundID)
	assert.Equal(t, "https://blobs.test/"+keys[0], stored.Records[1].PhotoURL)
	assert.Empty(t, h.pending(t))
}

func TestScanWithPhotoEmbedsWhenUploadFails(t *testing.T) {
	h := newHarness(t)
	h.blobs.fail = true
	ctx := context.Background()
	s := startedSession(t, h)

	_, err := s.OpenScanner(1)
	require.NoError(t, err)
	_, err = s.Scan(ctx, "DEF456")
	require.NoError(t, err)
	res, err := s.SubmitAnswers(ctx, nil, &Attachment{Data: []byte("raw-photo"), ContentType: "image/jpeg"})
	require.NoError(t, err)
	assert.True(t, res.Synced)

	stored := h.remote.round(morningRoundID)
	assert.True(t, stored.Records[1].Scanned)
	assert.Empty(t, stored.Records[1].PhotoEmbedded)

	cached, ok := h.cache.GetRound(ctx, morningRoundID)
	require.True(t, ok)
	assert.False(t, cached.Records[1].PhotoEmbedded.Empty())

	ops := h.pending(t)
	require.Len(t, ops, 1)
	u := ops[0].Op.(models.UpdateFields)
	assert.Equal(t, "records.1.", u.MediaPrefix)
	assert.False(t, u.Photo.Empty())
	assert.Empty(t, u.Data)
}

func TestTickAutoTerminatesNotDone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)

	h.clock.Advance(10 * time.Minute)
	tick, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Nil(t, tick.Summary)
	assert.Equal(t, 10*time.Minute, tick.Elapsed)
	assert.Equal(t, 20*time.Minute, tick.Remaining)

	h.clock.Advance(21 * time.Minute)
	tick, err = s.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, tick.Summary)
	assert.Equal(t, models.RoundNotDone, tick.Summary.State)
	assert.True(t, tick.Summary.Auto)
	assert.True(t, tick.Summary.Synced)
	assert.True(t, at(8, 30, 0).Equal(tick.Summary.EndedAt))
	assert.Equal(t, []string{"Lobby", "Dock", "Roof"}, tick.Summary.Missing)

	assert.Nil(t, s.Active())
	_, ok := h.cache.GetRound(ctx, morningRoundID)
	assert.False(t, ok)
	assert.Equal(t, models.RoundNotDone, h.remote.round(morningRoundID).State)
	assert.Equal(t, tick.Summary, s.LastSummary())
}

func TestTerminateFinalStates(t *testing.T) {
	tests := []struct {
		name  string
		scans []string
		want  models.RoundState
	}{
		{name: "none scanned", want: models.RoundNotDone},
		{name: "some scanned", scans: []string{"ABC123"}, want: models.RoundIncomplete},
		{name: "all scanned", scans: []string{"ABC123", "DEF456", "GHI789"}, want: models.RoundTerminated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			s := startedSession(t, h)
			for i, code := range tt.scans {
				_, err := s.OpenScanner(i)
				require.NoError(t, err)
				res, err := s.Scan(ctx, code)
				require.NoError(t, err)
				if res.AwaitingAnswers {
					_, err = s.SubmitAnswers(ctx, map[string]string{"Door locked?": "yes"}, nil)
					require.NoError(t, err)
				}
			}
			h.clock.Advance(3 * time.Minute)

			sum, err := s.Terminate(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sum.State)
			assert.False(t, sum.Auto)
			assert.True(t, at(8, 3, 0).Equal(sum.EndedAt))
			assert.Equal(t, tt.want, h.remote.round(morningRoundID).State)
		})
	}
}

func TestConcurrentTerminationWritesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)
	h.clock.Advance(45 * time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var summaries int
	for range 4 {
		wg.Go(func() {
			sum, err := s.Terminate(ctx)
			if err != nil {
				assert.ErrorIs(t, err, ErrNoActiveRound)
				return
			}
			mu.Lock()
			summaries++
			mu.Unlock()
			assert.NotNil(t, sum)
		})
		wg.Go(func() {
			_, err := s.Tick(ctx)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	h.remote.mu.Lock()
	calls := h.remote.terminateCalls
	h.remote.mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.LessOrEqual(t, summaries, 1)
	assert.NotNil(t, s.LastSummary())
}

func TestTerminateWithoutRound(t *testing.T) {
	h := newHarness(t)
	_, err := h.session(t).Terminate(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveRound)
}

func TestTerminateOfflineQueuesTerminalWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)
	h.conn.set(false)

	sum, err := s.Terminate(ctx)
	require.NoError(t, err)
	assert.False(t, sum.Synced)
	assert.Equal(t, models.RoundInProgress, h.remote.round(morningRoundID).State)

	_, ok := h.cache.GetRound(ctx, morningRoundID)
	assert.False(t, ok)

	ops := h.pending(t)
	require.Len(t, ops, 1)
	u := ops[0].Op.(models.UpdateFields)
	assert.Equal(t, "NOT_DONE", u.Data["state"])
	assert.Contains(t, u.Data, "ended_at")
	assert.NotContains(t, u.Data, "records")
}

func TestResumeMergesLocalAheadRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := startedSession(t, h)

	h.conn.set(false)
	_, err := s.OpenScanner(0)
	require.NoError(t, err)
	_, err = s.Scan(ctx, "ABC123")
	require.NoError(t, err)
	s.Close()
	h.conn.set(true)

	resumed := h.session(t)
	r, sum, err := resumed.Resume(ctx)
	require.NoError(t, err)
	assert.Nil(t, sum)
	require.NotNil(t, r)
	assert.True(t, r.Records[0].Scanned)
	assert.True(t, resumed.Active().Records[0].Scanned)
}

func TestResumeOfflineUsesCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	startedSession(t, h).Close()

	h.conn.set(false)
	r, sum, err := h.session(t).Resume(ctx)
	require.NoError(t, err)
	assert.Nil(t, sum)
	require.NotNil(t, r)
	assert.Equal(t, morningRoundID, r.ID)
}

func TestResumeExpiredRoundTerminates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	startedSession(t, h).Close()

	h.clock.Advance(40 * time.Minute)
	s := h.session(t)
	r, sum, err := s.Resume(ctx)
	require.NoError(t, err)
	assert.Nil(t, r)
	require.NotNil(t, sum)
	assert.True(t, sum.Auto)
	assert.Equal(t, models.RoundNotDone, sum.State)
	assert.Nil(t, s.Active())
	assert.Equal(t, models.RoundNotDone, h.remote.round(morningRoundID).State)
}

func TestResumePurgesRoundClosedRemotely(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	startedSession(t, h).Close()

	h.remote.mu.Lock()
	h.remote.rounds[morningRoundID].State = models.RoundIncomplete
	h.remote.mu.Unlock()

	r, sum, err := h.session(t).Resume(ctx)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Nil(t, sum)
	_, ok := h.cache.GetRound(ctx, morningRoundID)
	assert.False(t, ok)
}

func TestResumeNothing(t *testing.T) {
	h := newHarness(t)
	r, sum, err := h.session(t).Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Nil(t, sum)
}

func TestTemplatesActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.session(t)

	list, err := s.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Eligible)
	assert.Equal(t, ActionStart, list[0].Action)

	_, err = s.Start(ctx, "tpl-morning")
	require.NoError(t, err)
	list, err = s.Templates(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, list[0].Action)
	require.NotNil(t, list[0].Previous)

	for i, code := range []string{"ABC123", "DEF456", "GHI789"} {
		_, err = s.OpenScanner(i)
		require.NoError(t, err)
		res, err := s.Scan(ctx, code)
		require.NoError(t, err)
		if res.AwaitingAnswers {
			_, err = s.SubmitAnswers(ctx, map[string]string{"Door locked?": "yes"}, nil)
			require.NoError(t, err)
		}
	}
	_, err = s.Terminate(ctx)
	require.NoError(t, err)

	list, err = s.Templates(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionCompleted, list[0].Action)

	h.clock.Advance(time.Hour)
	h.conn.set(false)
	list, err = s.Templates(ctx)
	require.NoError(t, err, "cached templates serve offline")
	assert.False(t, list[0].Eligible)
	assert.Equal(t, "window expired", list[0].Reason)
}

func TestRunCronometerStopsWithContext(t *testing.T) {
	h := newHarness(t)
	s := startedSession(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan Tick, 8)
	done := make(chan struct{})
	go func() {
		s.RunCronometer(ctx, 5*time.Millisecond, func(t Tick) {
			select {
			case ticks <- t:
			default:
			}
		})
		close(done)
	}()

	select {
	case tick := <-ticks:
		assert.Equal(t, morningRoundID, tick.RoundID)
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cronometer did not stop")
	}
}
