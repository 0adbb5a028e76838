package service

import (
	"context"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/media"
	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/models"
)

// Attachment is a captured photo or signature.
type Attachment struct {
	Data        []byte
	ContentType string
}

// compressed returns the attachment re-encoded with the preset when it is a
// decodable image, unchanged otherwise.
func (a *Attachment) compressed(p media.Preset) *Attachment {
	if a == nil || len(a.Data) == 0 {
		return nil
	}
	data, ct := media.CompressOrKeep(a.Data, a.ContentType, p)
	return &Attachment{Data: data, ContentType: ct}
}

func (a *Attachment) extension() string {
	return models.Embed(a.ContentType, nil).Extension()
}

// storeMedia uploads a to the blob store under key. When the store is
// missing, offline or failing, the payload is embedded instead so a queued
// entry can upload it later. Payloads too large to embed are dropped.
func (d Deps) storeMedia(ctx context.Context, key string, a *Attachment) (string, models.Embedded) {
	if a == nil {
		return "", ""
	}
	if d.Blobs != nil && d.online() {
		ctx, cancel := context.WithTimeout(ctx, d.RemoteTimeout)
		start := time.Now()
		url, err := d.Blobs.Upload(ctx, key, a.ContentType, a.Data)
		cancel()
		d.Metrics.Observe(metrics.OpBlobUpload, start, err)
		if err == nil {
			return url, ""
		}
		d.Logger.Warn("media upload failed, embedding", "key", key, "error", err)
	}
	embedded := media.EmbedBounded(a.ContentType, a.Data)
	if embedded.Empty() {
		d.Logger.Warn("media too large to embed, dropped", "key", key, "bytes", len(a.Data))
	}
	return "", embedded
}
