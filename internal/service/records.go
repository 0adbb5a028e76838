package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
	"github.com/raphaelgruber/patrolsync/internal/blob"
	"github.com/raphaelgruber/patrolsync/internal/media"
	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/models"
)

// Receipt acknowledges a submitted record.
type Receipt struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	// SavedOffline is set when the record was queued instead of written.
	SavedOffline bool `json:"saved_offline"`
	// MediaPending is set when the record was written but a photo or
	// signature is queued for upload.
	MediaPending bool `json:"media_pending"`
}

// Submitter writes field-operation records (pedestrian and vehicle access,
// incidents, manual rounds), falling back to the queue when the remote store
// is offline or slow.
type Submitter struct {
	deps     Deps
	log      *slog.Logger
	operator models.Operator
	post     Post
}

// NewSubmitter creates a record submitter for an operator at a post.
func NewSubmitter(op models.Operator, post Post, deps Deps) *Submitter {
	deps = deps.withDefaults()
	return &Submitter{
		deps:     deps,
		log:      deps.Logger.With("component", "submitter"),
		operator: op,
		post:     post,
	}
}

// Submit writes a record of the given kind. The document id is chosen
// up front so a queued replay cannot create a duplicate.
func (s *Submitter) Submit(ctx context.Context, kind models.RecordKind, data map[string]any, photo, signature *Attachment) (Receipt, error) {
	collection := kind.Collection()
	if collection == "" {
		return Receipt{}, fmt.Errorf("%w: %q", models.ErrUnknownKind, kind)
	}
	now := s.deps.Now()
	id := uuid.New().String()
	rc := Receipt{ID: id, Collection: collection}

	doc := maps.Clone(data)
	if doc == nil {
		doc = map[string]any{}
	}
	doc["client"] = s.post.Client
	doc["unit"] = s.post.Unit
	if s.post.Site != "" {
		doc["site"] = s.post.Site
	}
	doc["operator"] = map[string]any{"id": s.operator.ID, "name": s.operator.Name}
	doc["registered_at"] = now

	preset := media.Incident
	if kind == models.RecordManualRound {
		preset = media.Checkpoint
	}
	photo = photo.compressed(preset)

	if !s.deps.online() {
		rc.SavedOffline = true
		return rc, s.enqueueCreate(ctx, id, kind, doc, embed(photo), embed(signature))
	}

	var pendingPhoto, pendingSig models.Embedded
	if photo != nil {
		key := blob.MediaKey(kind.Folder(), s.post.Client, s.post.Site, s.post.Unit, now, "photo", photo.extension())
		var url string
		url, pendingPhoto = s.deps.storeMedia(ctx, key, photo)
		if url != "" {
			doc["photo_url"] = url
		}
	}
	if signature != nil && len(signature.Data) > 0 {
		key := blob.MediaKey(kind.Folder(), s.post.Client, s.post.Site, s.post.Unit, now, "signature", signature.extension())
		var url string
		url, pendingSig = s.deps.storeMedia(ctx, key, signature)
		if url != "" {
			doc["signature_url"] = url
		}
	}

	err := s.deps.remoteCall(ctx, metrics.OpRemoteWrite, func(ctx context.Context) error {
		return s.deps.Remote.CreateDocument(ctx, collection, id, doc)
	})
	if err != nil {
		s.log.Warn("record write failed, queued", "kind", kind, "id", id, "error", err)
		rc.SavedOffline = true
		return rc, s.enqueueCreate(ctx, id, kind, doc, pendingPhoto, pendingSig)
	}

	if !pendingPhoto.Empty() || !pendingSig.Empty() {
		rc.MediaPending = true
		_, qerr := s.deps.Queue.Add(ctx, models.PendingOp{
			Client: s.post.Client,
			Site:   s.post.Site,
			Unit:   s.post.Unit,
			Op: models.UpdateFields{
				DocPath:   models.DocPath(collection, id),
				Photo:     pendingPhoto,
				Signature: pendingSig,
			},
		})
		if qerr != nil {
			s.log.Error("media follow-up could not be queued", "id", id, "error", qerr)
		}
	}
	s.log.Info("record saved", "kind", kind, "id", id)
	return rc, nil
}

func (s *Submitter) enqueueCreate(ctx context.Context, id string, kind models.RecordKind, doc map[string]any, photo, signature models.Embedded) error {
	_, err := s.deps.Queue.Add(ctx, models.PendingOp{
		ID:     id,
		Client: s.post.Client,
		Site:   s.post.Site,
		Unit:   s.post.Unit,
		Op: models.CreateRecord{
			Record:    kind,
			Data:      doc,
			Photo:     photo,
			Signature: signature,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: record could not be saved offline: %v", ErrNetworkUnavailable, err)
	}
	return nil
}

func embed(a *Attachment) models.Embedded {
	if a == nil || len(a.Data) == 0 {
		return ""
	}
	return media.EmbedBounded(a.ContentType, a.Data)
}
