// Package app wires the patrol components from configuration.
// It serves as dependency injection for the CLI and the agent server.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/blob"
	"github.com/raphaelgruber/patrolsync/internal/config"
	"github.com/raphaelgruber/patrolsync/internal/db"
	"github.com/raphaelgruber/patrolsync/internal/graph"
	"github.com/raphaelgruber/patrolsync/internal/localstore"
	"github.com/raphaelgruber/patrolsync/internal/media"
	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/raphaelgruber/patrolsync/internal/queue"
	"github.com/raphaelgruber/patrolsync/internal/service"
)

// CronometerInterval is the tick period of the background cronometer.
const CronometerInterval = 500 * time.Millisecond

// App holds every component of an operator device.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Collector

	Cache  *localstore.Store
	Queue  *queue.Queue
	Remote *db.Remote
	Blobs  blob.Store

	Monitor    *service.Monitor
	Session    *service.Session
	Submitter  *service.Submitter
	Manual     *service.ManualRounds
	Reconciler *service.Reconciler
}

// New creates all components. The remote store is connected lazily, so New
// succeeds offline. A blob backend that cannot be created leaves media
// embedded until a later replay.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	mc := metrics.NewCollector()

	cache := localstore.Open(cfg.CachePath, logger)
	q := queue.New(cache.DB(), logger)

	remote := db.NewRemote(db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, cfg.RemoteTimeout, logger)

	blobs, err := blob.New(ctx, blob.Config{
		Backend: cfg.BlobBackend,
		Path:    cfg.BlobPath,
		Bucket:  cfg.BlobBucket,
		Region:  cfg.BlobRegion,
		Retries: cfg.BlobRetries,
	}, logger)
	if err != nil {
		logger.Warn("blob store unavailable, media will be embedded", "backend", cfg.BlobBackend, "error", err)
		blobs = nil
	}

	monitor := service.NewMonitor(remote, cfg.ProbeInterval, logger)

	deps := service.Deps{
		Remote:        remote,
		Cache:         cache,
		Queue:         q,
		Blobs:         blobs,
		Conn:          monitor,
		Metrics:       mc,
		Logger:        logger,
		RemoteTimeout: cfg.RemoteTimeout,
	}

	op := models.Operator{ID: cfg.OperatorID, Name: cfg.OperatorName, Email: cfg.OperatorEmail}
	post := service.Post{Client: cfg.Client, Site: cfg.Site, Unit: cfg.Unit}

	session, err := service.NewSession(op, post, deps)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	session.SetPhotoPreset(media.Preset{MaxSide: cfg.PhotoMaxSide, Quality: cfg.PhotoQuality})

	submitter := service.NewSubmitter(op, post, deps)
	reconciler := service.NewReconciler(deps, op.ID)
	if cfg.SyncInterval > 0 {
		reconciler.Interval = cfg.SyncInterval
	}
	if cfg.SyncMinGap > 0 {
		reconciler.MinGap = cfg.SyncMinGap
	}
	reconciler.AttachSession(session)

	monitor.OnOnline(func(ctx context.Context, reason string) {
		reconciler.Trigger(ctx, reason)
	})

	return &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    mc,
		Cache:      cache,
		Queue:      q,
		Remote:     remote,
		Blobs:      blobs,
		Monitor:    monitor,
		Session:    session,
		Submitter:  submitter,
		Manual:     service.NewManualRounds(post, submitter, deps),
		Reconciler: reconciler,
	}, nil
}

// Components returns the GraphQL API's view of the app.
func (a *App) Components() graph.Components {
	return graph.Components{
		Session:    a.Session,
		Submitter:  a.Submitter,
		Manual:     a.Manual,
		Reconciler: a.Reconciler,
		Status:     a.Status(),
		Metrics:    a.Metrics,
	}
}

// Status returns the status reporter over the live components.
func (a *App) Status() service.StatusReporter {
	return service.StatusReporter{
		Conn:       a.Monitor,
		Deps:       service.Deps{Queue: a.Queue},
		Session:    a.Session,
		Reconciler: a.Reconciler,
	}
}

// Probe runs one connectivity check. Commands that run once call it so the
// session sees the real network state instead of the monitor's initial
// offline view.
func (a *App) Probe(ctx context.Context) bool {
	return a.Monitor.Check(ctx)
}

// Run starts the background loops: connectivity probing, periodic
// reconciliation and the cronometer. It blocks until ctx is done.
func (a *App) Run(ctx context.Context, onTick func(service.Tick)) {
	done := make(chan struct{}, 3)
	go func() { a.Monitor.Run(ctx); done <- struct{}{} }()
	go func() { a.Reconciler.Run(ctx); done <- struct{}{} }()
	go func() { a.Session.RunCronometer(ctx, CronometerInterval, onTick); done <- struct{}{} }()
	for range 3 {
		<-done
	}
}

// Close releases the session, the remote connection, the blob store and
// the cache database.
func (a *App) Close(ctx context.Context) error {
	a.Session.Close()
	var errs []error
	if err := a.Remote.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.Blobs != nil {
		if err := a.Blobs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Cache.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
