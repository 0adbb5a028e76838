package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/blob"
	"github.com/raphaelgruber/patrolsync/internal/db"
	"github.com/raphaelgruber/patrolsync/internal/localstore"
	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/raphaelgruber/patrolsync/internal/queue"
)

// RoundStore is the remote persistence of rounds and templates.
type RoundStore interface {
	GetRound(ctx context.Context, id string) (*models.Round, error)
	FindInProgressRound(ctx context.Context, op models.Operator) (*models.Round, error)
	RoundsSince(ctx context.Context, client, unit string, since time.Time) ([]models.Round, error)
	CreateRound(ctx context.Context, r *models.Round) (*models.Round, bool, error)
	SaveRound(ctx context.Context, r *models.Round) error
	MergeRecords(ctx context.Context, roundID string, records map[int]models.CheckpointRecord) error
	TerminateRound(ctx context.Context, roundID string, state models.RoundState, endedAt time.Time) (bool, error)
	ListTemplates(ctx context.Context, client, unit string) ([]models.Template, error)
}

// DocumentStore writes field-operation records.
type DocumentStore interface {
	CreateDocument(ctx context.Context, collection, id string, data map[string]any) error
	MergeDocument(ctx context.Context, path string, p db.Patch) error
}

// CodeSource lists the valid physical checkpoint codes of a unit.
type CodeSource interface {
	ListCheckpointCodes(ctx context.Context, client, unit string) ([]models.CheckpointCode, error)
}

// Pinger reports whether the remote store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Remote is everything the core needs from the remote document store.
// *db.Remote implements it.
type Remote interface {
	RoundStore
	DocumentStore
	CodeSource
	Pinger
}

// Connectivity is the device's view of the network.
type Connectivity interface {
	Online() bool
}

// Post is the client/site/unit a session is assigned to.
type Post struct {
	Client string
	Site   string
	Unit   string
}

// Deps bundles the collaborators shared by the session, the reconciler and
// the record submitter.
type Deps struct {
	Remote  Remote
	Cache   *localstore.Store
	Queue   *queue.Queue
	Blobs   blob.Store // nil: media is embedded and uploaded later
	Conn    Connectivity
	Metrics *metrics.Collector
	Logger  *slog.Logger
	Now     func() time.Time

	RemoteTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.RemoteTimeout <= 0 {
		d.RemoteTimeout = DefaultRemoteTimeout
	}
	return d
}

// DefaultRemoteTimeout bounds every awaited remote write.
const DefaultRemoteTimeout = 4 * time.Second

func (d Deps) online() bool {
	return d.Conn == nil || d.Conn.Online()
}

// remoteCall runs fn under the remote timeout and records its duration.
func (d Deps) remoteCall(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.RemoteTimeout)
	defer cancel()
	start := time.Now()
	err := classifyRemote(fn(ctx))
	d.Metrics.Observe(op, start, err)
	return err
}
