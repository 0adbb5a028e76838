// Package service implements the round lifecycle engine, the synchronization
// reconciler and the submission of field-operation records.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/blob"
	"github.com/raphaelgruber/patrolsync/internal/db"
	"github.com/raphaelgruber/patrolsync/internal/media"
	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/models"
)

// RoundMediaFolder is the blob folder for checkpoint photos.
const RoundMediaFolder = "rounds"

// Template actions shown next to each template.
const (
	ActionStart       = "start"
	ActionContinue    = "continue"
	ActionCompleted   = "completed"
	ActionUnavailable = "unavailable"
)

// TemplateStatus is one entry of the template list.
type TemplateStatus struct {
	Template models.Template
	Eligibility
	Action string
	// Previous is today's round of this template by the operator, if any.
	Previous *models.Round
}

// ScanResult is returned by Scan and SubmitAnswers.
type ScanResult struct {
	Index      int
	Checkpoint string
	// AwaitingAnswers is set when the checkpoint has questions to answer
	// before it is recorded.
	AwaitingAnswers bool
	Questions       []string
	Recorded        bool
	// Synced is false when the remote write was queued.
	Synced  bool
	Scanned int
	Total   int
}

// Tick is one cronometer reading.
type Tick struct {
	RoundID   string
	Elapsed   time.Duration
	Remaining time.Duration
	Scanned   int
	Total     int
	// Summary is set on the tick that auto-terminated the round.
	Summary *Summary
}

type scanTicket struct {
	index           int
	code            string
	awaitingAnswers bool
}

// Session is the operator's round engine for one post. All methods are safe
// for concurrent use; rounds handed out are copies.
type Session struct {
	deps     Deps
	log      *slog.Logger
	operator models.Operator
	post     Post
	photo    media.Preset

	lifecycle sync.Mutex // serializes Resume and Start

	mu      sync.Mutex
	active  *models.Round
	scanner *scanTicket
	last    *Summary
}

// NewSession creates the engine for an operator at a post.
func NewSession(op models.Operator, post Post, deps Deps) (*Session, error) {
	if err := models.Validate(op); err != nil {
		return nil, reason(ErrConfiguration, "operator: %v", err)
	}
	if post.Client == "" || post.Unit == "" {
		return nil, reason(ErrConfiguration, "client and unit are required")
	}
	deps = deps.withDefaults()
	return &Session{
		deps:     deps,
		log:      deps.Logger.With("operator", op.ID),
		operator: op,
		post:     post,
		photo:    media.Checkpoint,
	}, nil
}

// SetPhotoPreset overrides the compression applied to checkpoint photos.
func (s *Session) SetPhotoPreset(p media.Preset) {
	s.photo = p
}

// Operator returns the session's operator.
func (s *Session) Operator() models.Operator { return s.operator }

// Active returns a copy of the active round, or nil.
func (s *Session) Active() *models.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Clone()
}

// LastSummary returns the summary of the most recently terminated round.
func (s *Session) LastSummary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Close drops the in-memory state. The cached snapshot stays for the next session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.scanner = nil
}

// Resume adopts the operator's IN_PROGRESS round: the remote one when the
// store answers, the cached one otherwise. A round whose tolerance already
// elapsed is terminated right away and its summary returned instead.
func (s *Session) Resume(ctx context.Context) (*models.Round, *Summary, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if r := s.Active(); r != nil {
		return r, nil, nil
	}

	found, err := s.lookupInProgress(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("resume round: %w", err)
	}
	if found == nil {
		return nil, nil, nil
	}

	s.adopt(ctx, found)
	s.log.Info("round resumed", "round_id", found.ID, "elapsed", FormatElapsed(s.deps.Now().Sub(found.StartedAt)))
	if found.Expired(s.deps.Now()) {
		sum, err := s.terminate(ctx, true)
		return nil, sum, err
	}
	return found.Clone(), nil, nil
}

// lookupInProgress finds the operator's IN_PROGRESS round: the remote one
// merged with the cached snapshot when the store answers, the cached one when
// it is offline. It returns nil when there is none.
func (s *Session) lookupInProgress(ctx context.Context) (*models.Round, error) {
	cached, hasCached := s.deps.Cache.InProgressFor(ctx, s.operator.ID)

	var found *models.Round
	err := s.remote(ctx, metrics.OpRemoteRead, func(ctx context.Context) error {
		var err error
		found, err = s.deps.Remote.FindInProgressRound(ctx, s.operator)
		return err
	})
	switch {
	case err == nil && found != nil:
		if hasCached && cached.ID == found.ID {
			found, _ = mergeLocalWins(found, cached)
		}
		return found, nil
	case err == nil && hasCached:
		// The remote has no IN_PROGRESS round: either the cached one never
		// reached it, or it was closed elsewhere.
		return s.checkCachedAgainstRemote(ctx, cached), nil
	case err == nil:
		return nil, nil
	case offline(err):
		if hasCached {
			s.log.Info("using cached round offline", "round_id", cached.ID)
			return cached, nil
		}
		return nil, nil
	}
	return nil, err
}

func (s *Session) checkCachedAgainstRemote(ctx context.Context, cached *models.Round) *models.Round {
	var remote *models.Round
	err := s.remote(ctx, metrics.OpRemoteRead, func(ctx context.Context) error {
		var err error
		remote, err = s.deps.Remote.GetRound(ctx, cached.ID)
		return err
	})
	if err != nil || remote == nil {
		return cached
	}
	if remote.State.Terminal() {
		s.log.Info("cached round was closed remotely, purging", "round_id", cached.ID, "state", remote.State)
		s.deps.Cache.DeleteRound(ctx, cached.ID)
		return nil
	}
	merged, _ := mergeLocalWins(remote, cached)
	return merged
}

// Templates lists the post's templates with their eligibility at the
// current time and today's history. Eligibility is recomputed on every call.
func (s *Session) Templates(ctx context.Context) ([]TemplateStatus, error) {
	templates, err := s.templates(ctx)
	if err != nil {
		return nil, err
	}
	now := s.deps.Now()
	history := s.history(ctx, now)

	out := make([]TemplateStatus, 0, len(templates))
	for _, t := range templates {
		st := TemplateStatus{Template: t, Eligibility: CheckEligibility(t, now), Action: ActionUnavailable}
		if st.Eligible {
			st.Action = ActionStart
		}
		if prev, ok := history[t.ID]; ok {
			st.Previous = prev
			switch prev.State {
			case models.RoundInProgress:
				st.Action = ActionContinue
			case models.RoundTerminated, models.RoundIncomplete:
				st.Action = ActionCompleted
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Session) templates(ctx context.Context) ([]models.Template, error) {
	var templates []models.Template
	err := s.remote(ctx, metrics.OpRemoteRead, func(ctx context.Context) error {
		var err error
		templates, err = s.deps.Remote.ListTemplates(ctx, s.post.Client, s.post.Unit)
		return err
	})
	if err == nil {
		s.deps.Cache.PutTemplates(ctx, templates)
		return templates, nil
	}
	if offline(err) {
		if cached, ok := s.deps.Cache.Templates(ctx); ok {
			return cached, nil
		}
	}
	return nil, fmt.Errorf("list templates: %w", err)
}

// history maps template IDs to the operator's latest round since midnight.
func (s *Session) history(ctx context.Context, now time.Time) map[string]*models.Round {
	out := map[string]*models.Round{}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var rounds []models.Round
	err := s.remote(ctx, metrics.OpRemoteRead, func(ctx context.Context) error {
		var err error
		rounds, err = s.deps.Remote.RoundsSince(ctx, s.post.Client, s.post.Unit, midnight)
		return err
	})
	if err != nil {
		s.log.Debug("round history unavailable", "error", err)
	}
	for i := range rounds {
		r := &rounds[i]
		if r.Operator.ID != s.operator.ID {
			continue
		}
		if _, seen := out[r.TemplateID]; !seen {
			out[r.TemplateID] = r
		}
	}
	for _, r := range s.deps.Cache.AllRounds(ctx) {
		if r.Operator.ID == s.operator.ID && r.State == models.RoundInProgress && !r.StartedAt.Before(midnight) {
			out[r.TemplateID] = &r
		}
	}
	return out
}

// Start begins a round of the template for its current slot. Starting the
// same slot again adopts the existing IN_PROGRESS round instead of creating
// a duplicate.
func (s *Session) Start(ctx context.Context, templateID string) (*models.Round, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if r := s.Active(); r != nil {
		return r, reason(ErrConflictAlreadyActive, "round %q is in progress", r.TemplateName)
	}

	// Another process may have started a round for this operator.
	running, err := s.lookupInProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("start round: %w", err)
	}
	if running != nil && running.Expired(s.deps.Now()) {
		s.adopt(ctx, running)
		if _, err := s.terminate(ctx, true); err != nil {
			return nil, fmt.Errorf("close expired round: %w", err)
		}
		running = nil
	}
	if running != nil && running.TemplateID != templateID {
		return s.conflict(ctx, running)
	}

	templates, err := s.templates(ctx)
	if err != nil {
		return nil, err
	}
	var tpl *models.Template
	for i := range templates {
		if templates[i].ID == templateID {
			tpl = &templates[i]
			break
		}
	}
	if tpl == nil {
		return nil, reason(ErrConfiguration, "template %q is not assigned to this unit", templateID)
	}

	now := s.deps.Now()
	e := CheckEligibility(*tpl, now)
	if !e.Eligible {
		return nil, reason(ErrNotEligible, "%s", e.Reason)
	}
	if len(tpl.Checkpoints) == 0 {
		return nil, reason(ErrConfiguration, "template %q has no checkpoints", tpl.Name)
	}

	r := models.NewRound(*tpl, s.operator, s.post.Site, e.Slot, now)
	if running != nil && running.ID != r.ID {
		return s.conflict(ctx, running)
	}
	if cached, ok := s.deps.Cache.GetRound(ctx, r.ID); ok && cached.State == models.RoundInProgress {
		r = cached
	}

	var stored *models.Round
	var created bool
	err = s.remote(ctx, metrics.OpRemoteWrite, func(ctx context.Context) error {
		var err error
		stored, created, err = s.deps.Remote.CreateRound(ctx, r)
		return err
	})
	switch {
	case err == nil && created:
	case err == nil:
		if stored.State.Terminal() {
			return nil, reason(ErrRoundClosed, "%s finished as %s", stored.TemplateName, stored.State)
		}
		if stored.Operator.ID != s.operator.ID {
			return nil, reason(ErrConflictAlreadyActive, "this slot is being run by %s", stored.Operator.Name)
		}
		r, _ = mergeLocalWins(stored, r)
		s.log.Info("adopting existing round for slot", "round_id", r.ID)
	case offline(err):
		s.log.Warn("round start not confirmed remotely, queued", "round_id", r.ID, "error", err)
		s.enqueue(ctx, models.UpdateFields{
			DocPath: models.DocPath(db.TableRound, r.ID),
			Data:    db.RoundContent(r),
		})
	default:
		return nil, fmt.Errorf("start round: %w", err)
	}

	s.adopt(ctx, r)
	s.log.Info("round started", "round_id", r.ID, "template", r.TemplateName, "checkpoints", len(r.Checkpoints))
	return r.Clone(), nil
}

// conflict adopts the operator's running round and reports it.
func (s *Session) conflict(ctx context.Context, running *models.Round) (*models.Round, error) {
	s.adopt(ctx, running)
	s.log.Info("operator already has a round in progress", "round_id", running.ID)
	return running.Clone(), reason(ErrConflictAlreadyActive, "round %q is in progress", running.TemplateName)
}

func (s *Session) adopt(ctx context.Context, r *models.Round) {
	s.mu.Lock()
	s.active = r.Clone()
	s.scanner = nil
	s.mu.Unlock()
	s.putCache(ctx, r)
}

// OpenScanner prepares a scan of checkpoint i. Only one scanner can be open.
func (s *Session) OpenScanner(i int) (models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return models.Checkpoint{}, reason(ErrNoActiveRound, "start or resume a round first")
	}
	if s.scanner != nil {
		return models.Checkpoint{}, reason(ErrScannerBusy, "finish or close the open scan first")
	}
	cp, err := checkpointAt(s.active, i)
	if err != nil {
		return cp, err
	}
	if s.active.Records[i].Scanned {
		return cp, reason(ErrAlreadyScanned, "checkpoint %q was already scanned", cp.Name)
	}
	s.scanner = &scanTicket{index: i}
	return cp, nil
}

// CloseScanner discards the open scan, including a scan awaiting answers.
func (s *Session) CloseScanner() {
	s.mu.Lock()
	s.scanner = nil
	s.mu.Unlock()
}

// Scan checks a code against the open scanner's checkpoint. A mismatch
// returns ErrInvalidCode and leaves the scanner open for another attempt.
// A checkpoint with questions waits for SubmitAnswers; any other is recorded.
func (s *Session) Scan(ctx context.Context, code string) (ScanResult, error) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return ScanResult{}, reason(ErrNoActiveRound, "start or resume a round first")
	}
	if s.scanner == nil || s.scanner.awaitingAnswers {
		s.mu.Unlock()
		return ScanResult{}, reason(ErrNoPendingScan, "open the scanner on a checkpoint first")
	}
	i := s.scanner.index
	cp, err := ValidateScan(s.active, i, code)
	if err != nil {
		s.mu.Unlock()
		return ScanResult{Index: i, Checkpoint: cp.Name}, err
	}
	if len(cp.Questions) > 0 {
		s.scanner.code = cp.Code
		s.scanner.awaitingAnswers = true
		s.mu.Unlock()
		return ScanResult{Index: i, Checkpoint: cp.Name, AwaitingAnswers: true, Questions: cp.Questions}, nil
	}
	ticket, roundID := s.scanner, s.active.ID
	s.mu.Unlock()
	return s.record(ctx, roundID, ticket, cp.Code, nil, nil)
}

// SubmitAnswers records the checkpoint awaiting answers, with an optional photo.
func (s *Session) SubmitAnswers(ctx context.Context, answers map[string]string, photo *Attachment) (ScanResult, error) {
	s.mu.Lock()
	if s.scanner == nil || !s.scanner.awaitingAnswers {
		s.mu.Unlock()
		return ScanResult{}, reason(ErrNoPendingScan, "no checkpoint is waiting for answers")
	}
	if s.active == nil {
		s.mu.Unlock()
		return ScanResult{}, reason(ErrNoActiveRound, "start or resume a round first")
	}
	ticket, roundID := s.scanner, s.active.ID
	s.mu.Unlock()
	return s.record(ctx, roundID, ticket, ticket.code, answers, photo)
}

// record marks the ticket's checkpoint scanned, at most once. The cache is
// written first; the remote write is awaited and queued when it fails.
func (s *Session) record(ctx context.Context, roundID string, ticket *scanTicket, code string, answers map[string]string, photo *Attachment) (ScanResult, error) {
	now := s.deps.Now()
	i := ticket.index

	s.mu.Lock()
	if s.active == nil || s.active.ID != roundID {
		s.mu.Unlock()
		return ScanResult{}, reason(ErrNoActiveRound, "the round was closed before the scan was saved")
	}
	r := s.active
	if r.Records[i].Scanned {
		s.mu.Unlock()
		return ScanResult{}, reason(ErrAlreadyScanned, "checkpoint %q was already scanned", r.Records[i].Name)
	}
	if s.scanner != ticket {
		s.mu.Unlock()
		return ScanResult{}, reason(ErrNoPendingScan, "the scan was closed before it was saved")
	}
	rec := r.Records[i]
	rec.Scanned = true
	rec.Code = &code
	rec.ScannedAt = &now
	rec.Answers = answers
	r.Records[i] = rec
	s.scanner = nil
	snapshot := r.Clone()
	s.mu.Unlock()

	s.putCache(ctx, snapshot)

	if p := photo.compressed(s.photo); p != nil {
		key := blob.MediaKey(RoundMediaFolder, s.post.Client, s.post.Site, s.post.Unit, now,
			fmt.Sprintf("%s_cp%d", snapshot.ID, i+1), p.extension())
		rec.PhotoURL, rec.PhotoEmbedded = s.deps.storeMedia(ctx, key, p)
		if updated := s.updateRecord(ctx, snapshot.ID, i, rec); updated != nil {
			snapshot = updated
		}
	}

	remoteRec := rec
	remoteRec.PhotoEmbedded = ""
	err := s.remote(ctx, metrics.OpRemoteWrite, func(ctx context.Context) error {
		return s.deps.Remote.MergeRecords(ctx, snapshot.ID, map[int]models.CheckpointRecord{i: remoteRec})
	})
	synced := err == nil
	if err != nil {
		s.log.Warn("checkpoint write failed, queued", "round_id", snapshot.ID, "checkpoint", i, "error", err)
	}
	if err != nil || !rec.PhotoEmbedded.Empty() {
		prefix := "records." + strconv.Itoa(i)
		u := models.UpdateFields{
			DocPath:     models.DocPath(db.TableRound, snapshot.ID),
			Photo:       rec.PhotoEmbedded,
			MediaPrefix: prefix + ".",
		}
		if err != nil {
			u.Data = map[string]any{prefix: db.RecordContent(remoteRec)}
		}
		s.enqueue(ctx, u)
	}

	scanned, total := snapshot.Counts()
	s.log.Info("checkpoint recorded", "round_id", snapshot.ID, "checkpoint", rec.Name, "scanned", scanned, "total", total)
	return ScanResult{
		Index:      i,
		Checkpoint: rec.Name,
		Recorded:   true,
		Synced:     synced,
		Scanned:    scanned,
		Total:      total,
	}, nil
}

// updateRecord replaces record i of the active round when it is still roundID.
func (s *Session) updateRecord(ctx context.Context, roundID string, i int, rec models.CheckpointRecord) *models.Round {
	s.mu.Lock()
	if s.active == nil || s.active.ID != roundID {
		s.mu.Unlock()
		return nil
	}
	s.active.Records[i] = rec
	snapshot := s.active.Clone()
	s.mu.Unlock()
	s.putCache(ctx, snapshot)
	return snapshot
}

// Terminate ends the active round at now.
func (s *Session) Terminate(ctx context.Context) (*Summary, error) {
	return s.terminate(ctx, false)
}

// Tick reads the cronometer and auto-terminates the round once its tolerance
// window has elapsed.
func (s *Session) Tick(ctx context.Context) (Tick, error) {
	now := s.deps.Now()
	s.mu.Lock()
	r := s.active
	if r == nil {
		s.mu.Unlock()
		return Tick{}, nil
	}
	scanned, total := r.Counts()
	t := Tick{
		RoundID:   r.ID,
		Elapsed:   now.Sub(r.StartedAt),
		Remaining: r.Deadline().Sub(now),
		Scanned:   scanned,
		Total:     total,
	}
	expired := r.Expired(now)
	s.mu.Unlock()

	if !expired {
		return t, nil
	}
	sum, err := s.terminate(ctx, true)
	if errors.Is(err, ErrNoActiveRound) {
		// Terminated concurrently.
		return t, nil
	}
	t.Summary = sum
	return t, err
}

// RunCronometer calls Tick every interval until ctx is done.
func (s *Session) RunCronometer(ctx context.Context, interval time.Duration, onTick func(Tick)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t, err := s.Tick(ctx)
			if err != nil {
				s.log.Warn("cronometer tick failed", "error", err)
			}
			if onTick != nil && t.RoundID != "" {
				onTick(t)
			}
		}
	}
}

// terminate closes the active round. The in-memory state flips under the
// lock before any I/O, so concurrent callers see ErrNoActiveRound and the
// terminal write happens once.
func (s *Session) terminate(ctx context.Context, auto bool) (*Summary, error) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil, reason(ErrNoActiveRound, "there is no round to terminate")
	}
	r := s.active
	closeRound(r, s.deps.Now(), auto)
	s.active = nil
	s.scanner = nil
	s.mu.Unlock()

	sum := summarize(r, auto)
	var applied bool
	err := s.remote(ctx, metrics.OpRemoteWrite, func(ctx context.Context) error {
		var err error
		applied, err = s.deps.Remote.TerminateRound(ctx, r.ID, r.State, *r.EndedAt)
		return err
	})
	switch {
	case err == nil:
		sum.Synced = true
		if !applied {
			s.log.Info("round was already terminal remotely", "round_id", r.ID)
		}
	default:
		s.log.Warn("terminal write failed, queued", "round_id", r.ID, "error", err)
		s.enqueue(ctx, models.UpdateFields{
			DocPath: models.DocPath(db.TableRound, r.ID),
			Data: map[string]any{
				"state":    string(r.State),
				"ended_at": *r.EndedAt,
			},
		})
	}

	s.deps.Cache.DeleteRound(ctx, r.ID)

	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()

	s.log.Info("round terminated", "round_id", r.ID, "state", r.State, "auto", auto,
		"scanned", sum.Scanned, "total", sum.Total)
	return sum, nil
}

// remote runs fn against the remote store, or fails fast when the device is
// known to be offline.
func (s *Session) remote(ctx context.Context, op string, fn func(context.Context) error) error {
	if !s.deps.online() {
		return reason(ErrNetworkUnavailable, "device is offline")
	}
	return s.deps.remoteCall(ctx, op, fn)
}

func (s *Session) putCache(ctx context.Context, r *models.Round) {
	if r == nil {
		return
	}
	start := time.Now()
	ok := s.deps.Cache.PutRound(ctx, r)
	var err error
	if !ok {
		err = errors.New("cache write failed")
	}
	s.deps.Metrics.Observe(metrics.OpCacheWrite, start, err)
}

func (s *Session) enqueue(ctx context.Context, op models.Operation) {
	id, err := s.deps.Queue.Add(ctx, models.PendingOp{
		Client: s.post.Client,
		Site:   s.post.Site,
		Unit:   s.post.Unit,
		Op:     op,
	})
	if err != nil {
		s.log.Error("enqueue failed, write lost until next repair", "kind", op.Kind(), "error", err)
		return
	}
	s.log.Debug("write queued", "id", id, "kind", op.Kind())
}
