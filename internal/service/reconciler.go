package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/blob"
	"github.com/raphaelgruber/patrolsync/internal/db"
	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/models"
)

// Reconciler triggers.
const (
	ReasonInitialLoad          = "initial-load"
	ReasonConnectivityRestored = "connectivity-restored"
	ReasonVisibilityRestored   = "visibility-restored"
	ReasonPeriodic             = "periodic"
	ReasonManual               = "manual"
)

// Default reconciler timing.
const (
	DefaultSyncInterval = 60 * time.Second
	DefaultSyncMinGap   = 45 * time.Second
)

// Markers stamped on documents written by a replayed update.
const (
	markerReconnected   = "reconnected"
	markerReconnectedAt = "reconnected_at"
	markerLocalAt       = "reconnected_local_at"
	markerDeviceTZ      = "reconnected_device_tz"
)

var errNoBlobStore = errors.New("no blob store configured")

type mediaField struct {
	payload models.Embedded
	name    string // photo or signature
}

func (m mediaField) urlField() string    { return m.name + "_url" }
func (m mediaField) inlineField() string { return m.name + "_embedded" }

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Reason     string    `json:"reason"`
	Skipped    bool      `json:"skipped"`
	SkipReason string    `json:"skip_reason,omitempty"`
	Total      int       `json:"total"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Discarded  int       `json:"discarded"`
	Repaired   int       `json:"repaired"`
	At         time.Time `json:"at"`
}

// ActiveSource supplies the active round of a running session.
type ActiveSource interface {
	Active() *models.Round
}

// Reconciler replays the pending-operation queue against the remote store and
// pushes local-ahead checkpoint records of the active round. At most one
// pass runs at a time; triggers arriving during a pass are dropped.
type Reconciler struct {
	deps       Deps
	log        *slog.Logger
	operatorID string

	// Interval is the period of Run; MinGap skips a periodic pass that
	// would follow the previous one too closely.
	Interval time.Duration
	MinGap   time.Duration

	running atomic.Bool

	mu      sync.Mutex
	session ActiveSource
	last    PassResult
	lastRun time.Time
}

// NewReconciler creates a reconciler for the operator's device.
func NewReconciler(deps Deps, operatorID string) *Reconciler {
	deps = deps.withDefaults()
	return &Reconciler{
		deps:       deps,
		log:        deps.Logger.With("component", "reconciler"),
		operatorID: operatorID,
		Interval:   DefaultSyncInterval,
		MinGap:     DefaultSyncMinGap,
	}
}

// AttachSession makes step 4 use the session's in-memory round instead of
// the cached one.
func (r *Reconciler) AttachSession(s ActiveSource) {
	r.mu.Lock()
	r.session = s
	r.mu.Unlock()
}

// LastPass returns the result of the most recent non-skipped pass.
func (r *Reconciler) LastPass() (PassResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, !r.lastRun.IsZero()
}

// Trigger runs a pass now, bypassing the debounce but not the in-flight guard.
func (r *Reconciler) Trigger(ctx context.Context, reason string) PassResult {
	return r.pass(ctx, reason)
}

// Run runs periodic passes until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			recent := !r.lastRun.IsZero() && r.deps.Now().Sub(r.lastRun) < r.MinGap
			r.mu.Unlock()
			if recent {
				r.log.Debug("periodic pass skipped, ran recently")
				continue
			}
			r.pass(ctx, ReasonPeriodic)
		}
	}
}

func (r *Reconciler) pass(ctx context.Context, reason string) (res PassResult) {
	res = PassResult{Reason: reason, At: r.deps.Now()}
	if !r.running.CompareAndSwap(false, true) {
		return skipped(res, "pass already running")
	}
	defer r.running.Store(false)

	if !r.deps.online() {
		return skipped(res, "offline")
	}
	pingCtx, cancel := context.WithTimeout(ctx, r.deps.RemoteTimeout)
	err := r.deps.Remote.Ping(pingCtx)
	cancel()
	if err != nil {
		r.log.Debug("remote store unreachable, pass skipped", "error", err)
		return skipped(res, "remote store unreachable")
	}

	start := time.Now()
	defer func() {
		r.deps.Metrics.Observe(metrics.OpReconcilePass, start, nil)
		r.mu.Lock()
		r.last = res
		r.lastRun = r.deps.Now()
		r.mu.Unlock()
	}()

	ops, undecodable, err := r.deps.Queue.All(ctx)
	if err != nil {
		r.log.Warn("queue unreadable", "error", err)
	}
	for _, u := range undecodable {
		r.log.Error("queue entry cannot be decoded, kept", "id", u.ID, "error", u.Err)
		res.Failed++
	}
	res.Total = len(ops) + len(undecodable)

	for _, p := range ops {
		err := r.replay(ctx, p)
		switch {
		case err == nil:
			if err := r.deps.Queue.Remove(ctx, p.ID); err != nil {
				r.log.Warn("synced entry could not be removed", "id", p.ID, "error", err)
			}
			res.Synced++
		case errors.Is(err, ErrInvalidQueueEntry):
			r.log.Warn("discarding queue entry", "id", p.ID, "kind", p.Kind(), "error", err)
			if err := r.deps.Queue.Remove(ctx, p.ID); err != nil {
				r.log.Warn("invalid entry could not be removed", "id", p.ID, "error", err)
			}
			res.Discarded++
		default:
			r.log.Warn("queue entry failed, kept for next pass", "id", p.ID, "kind", p.Kind(), "error", err)
			res.Failed++
		}
	}

	res.Repaired = r.repairActive(ctx)

	r.log.Info(fmt.Sprintf("synced %d/%d", res.Synced, res.Total),
		"reason", reason, "failed", res.Failed, "discarded", res.Discarded, "repaired", res.Repaired)
	return res
}

func skipped(res PassResult, why string) PassResult {
	res.Skipped = true
	res.SkipReason = why
	return res
}

// replay applies one queued operation.
func (r *Reconciler) replay(ctx context.Context, p models.PendingOp) error {
	switch op := p.Op.(type) {
	case models.CreateRecord:
		return r.replayCreate(ctx, p, op)
	case models.UpdateFields:
		return r.replayUpdate(ctx, p, op)
	default:
		return fmt.Errorf("%w: %T", models.ErrUnknownKind, p.Op)
	}
}

func (r *Reconciler) replayCreate(ctx context.Context, p models.PendingOp, op models.CreateRecord) error {
	collection := op.Record.Collection()
	if collection == "" {
		return fmt.Errorf("%w: record kind %q", models.ErrUnknownKind, op.Record)
	}
	data := maps.Clone(op.Data)
	if data == nil {
		data = map[string]any{}
	}
	folder := op.Record.Folder()
	for _, m := range []mediaField{{op.Photo, "photo"}, {op.Signature, "signature"}} {
		if m.payload.Empty() {
			continue
		}
		url, err := r.upload(ctx, p, folder, m)
		switch {
		case errors.Is(err, errNoBlobStore):
			data[m.inlineField()] = string(m.payload)
		case err != nil:
			return err
		case url != "":
			data[m.urlField()] = url
		}
	}
	return r.deps.remoteCall(ctx, metrics.OpRemoteWrite, func(ctx context.Context) error {
		return r.deps.Remote.CreateDocument(ctx, collection, p.ID, data)
	})
}

func (r *Reconciler) replayUpdate(ctx context.Context, p models.PendingOp, op models.UpdateFields) error {
	if err := models.ValidateRouting(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQueueEntry, err)
	}
	table, _, err := models.ParseDocPath(op.DocPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQueueEntry, err)
	}

	now := r.deps.Now()
	patch := db.Patch{Set: maps.Clone(op.Data)}
	if patch.Set == nil {
		patch.Set = map[string]any{}
	}
	folder := mediaFolder(table)
	for _, m := range []mediaField{{op.Photo, "photo"}, {op.Signature, "signature"}} {
		if m.payload.Empty() {
			continue
		}
		url, err := r.upload(ctx, p, folder, m)
		switch {
		case errors.Is(err, errNoBlobStore):
			patch.Set[op.MediaPrefix+m.inlineField()] = string(m.payload)
		case err != nil:
			return err
		case url != "":
			patch.Set[op.MediaPrefix+m.urlField()] = url
			patch.Unset = append(patch.Unset, op.MediaPrefix+m.inlineField())
		}
	}
	patch.Set[markerReconnected] = true
	patch.Set[markerLocalAt] = now
	patch.Set[markerDeviceTZ] = now.Location().String()
	patch.ServerTime = []string{markerReconnectedAt}

	return r.deps.remoteCall(ctx, metrics.OpRemoteWrite, func(ctx context.Context) error {
		return r.deps.Remote.MergeDocument(ctx, op.DocPath, patch)
	})
}

// upload stores an embedded payload at a path derived from the entry, so a
// retried entry overwrites its own earlier upload. A payload that is not a
// data URL is dropped with a warning and yields an empty URL.
func (r *Reconciler) upload(ctx context.Context, p models.PendingOp, folder string, m mediaField) (string, error) {
	if r.deps.Blobs == nil {
		return "", errNoBlobStore
	}
	contentType, data, err := m.payload.Decode()
	if err != nil {
		r.log.Warn("dropping undecodable media", "id", p.ID, "field", m.name, "error", err)
		return "", nil
	}
	name := m.name
	key := blob.MediaKey(folder, p.Client, p.Site, p.Unit, p.CreatedAt, name, m.payload.Extension())
	ctx, cancel := context.WithTimeout(ctx, r.deps.RemoteTimeout)
	defer cancel()
	start := time.Now()
	url, err := r.deps.Blobs.Upload(ctx, key, contentType, data)
	r.deps.Metrics.Observe(metrics.OpBlobUpload, start, err)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return url, nil
}

// mediaFolder maps a collection to its blob folder.
func mediaFolder(table string) string {
	if table == db.TableRound {
		return RoundMediaFolder
	}
	for _, k := range []models.RecordKind{models.RecordManualRound, models.RecordPedestrian, models.RecordVehicle, models.RecordIncident} {
		if k.Collection() == table {
			return k.Folder()
		}
	}
	return table
}

// repairActive pushes local-ahead checkpoint records of the active round and
// re-creates its remote document when missing. Returns the number of records
// (or documents) written.
func (r *Reconciler) repairActive(ctx context.Context) int {
	local := r.activeRound(ctx)
	if local == nil {
		return 0
	}

	var remote *models.Round
	err := r.deps.remoteCall(ctx, metrics.OpRemoteRead, func(ctx context.Context) error {
		var err error
		remote, err = r.deps.Remote.GetRound(ctx, local.ID)
		return err
	})
	if err != nil {
		r.log.Warn("active round unreadable, repair skipped", "round_id", local.ID, "error", err)
		return 0
	}
	if remote == nil {
		err := r.deps.remoteCall(ctx, metrics.OpRemoteWrite, func(ctx context.Context) error {
			return r.deps.Remote.SaveRound(ctx, withoutEmbedded(local))
		})
		if err != nil {
			r.log.Warn("missing round could not be re-created", "round_id", local.ID, "error", err)
			return 0
		}
		r.log.Info("re-created missing round", "round_id", local.ID)
		return 1
	}

	_, diverged := mergeLocalWins(remote, local)
	if len(diverged) == 0 {
		return 0
	}
	for i, rec := range diverged {
		rec.PhotoEmbedded = ""
		diverged[i] = rec
	}
	err = r.deps.remoteCall(ctx, metrics.OpRemoteWrite, func(ctx context.Context) error {
		return r.deps.Remote.MergeRecords(ctx, local.ID, diverged)
	})
	if err != nil {
		r.log.Warn("divergent records not pushed", "round_id", local.ID, "error", err)
		return 0
	}
	r.log.Info("pushed local-ahead records", "round_id", local.ID, "records", len(diverged))
	return len(diverged)
}

func (r *Reconciler) activeRound(ctx context.Context) *models.Round {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session != nil {
		return session.Active()
	}
	cached, ok := r.deps.Cache.InProgressFor(ctx, r.operatorID)
	if !ok {
		return nil
	}
	return cached
}

func withoutEmbedded(r *models.Round) *models.Round {
	c := r.Clone()
	for i, rec := range c.Records {
		rec.PhotoEmbedded = ""
		c.Records[i] = rec
	}
	return c
}
