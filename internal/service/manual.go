package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/patrolsync/internal/localstore"
	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/models"
)

// ManualRounds registers ad-hoc checkpoint visits outside a scheduled round.
// Codes are checked against the cached code list so registration works offline.
type ManualRounds struct {
	deps   Deps
	log    *slog.Logger
	post   Post
	submit *Submitter
}

// NewManualRounds creates the manual-round registrar.
func NewManualRounds(post Post, submit *Submitter, deps Deps) *ManualRounds {
	deps = deps.withDefaults()
	return &ManualRounds{
		deps:   deps,
		log:    deps.Logger.With("component", "manual-rounds"),
		post:   post,
		submit: submit,
	}
}

// Register records a visit to the checkpoint identified by code.
func (m *ManualRounds) Register(ctx context.Context, code, notes string, photo *Attachment) (Receipt, error) {
	normalized := models.NormalizeCode(code)
	if normalized == "" {
		return Receipt{}, reason(ErrInvalidCode, "empty code")
	}
	cp, ok := m.lookup(ctx, normalized)
	if !ok {
		return Receipt{}, reason(ErrInvalidCode, "code %q is not registered for this unit", normalized)
	}
	data := map[string]any{
		"code":       normalized,
		"checkpoint": cp.Name,
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		data["notes"] = notes
	}
	return m.submit.Submit(ctx, models.RecordManualRound, data, photo, nil)
}

func (m *ManualRounds) lookup(ctx context.Context, code string) (models.CheckpointCode, bool) {
	if codes, ok := m.deps.Cache.Codes(ctx); ok {
		if cp, found := m.find(codes, code); found {
			return cp, true
		}
	}
	if !m.deps.online() {
		return models.CheckpointCode{}, false
	}
	codes, err := m.fetch(ctx)
	if err != nil {
		m.log.Warn("code list unavailable", "error", err)
		return models.CheckpointCode{}, false
	}
	return m.find(codes, code)
}

func (m *ManualRounds) find(codes []models.CheckpointCode, code string) (models.CheckpointCode, bool) {
	for _, c := range codes {
		if models.NormalizeCode(c.Code) != code {
			continue
		}
		if c.Client != "" && !strings.EqualFold(c.Client, m.post.Client) {
			continue
		}
		if c.Unit != "" && !strings.EqualFold(c.Unit, m.post.Unit) {
			continue
		}
		return c, true
	}
	return models.CheckpointCode{}, false
}

// RefreshCodes fetches the unit's code list and overwrites the cache entry
// when the list is non-empty. Returns the number of codes fetched.
func (m *ManualRounds) RefreshCodes(ctx context.Context) (int, error) {
	if !m.deps.online() {
		return 0, reason(ErrNetworkUnavailable, "device is offline")
	}
	codes, err := m.fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("refresh codes: %w", err)
	}
	return len(codes), nil
}

func (m *ManualRounds) fetch(ctx context.Context) ([]models.CheckpointCode, error) {
	var codes []models.CheckpointCode
	err := m.deps.remoteCall(ctx, metrics.OpRemoteRead, func(ctx context.Context) error {
		var err error
		codes, err = m.deps.Remote.ListCheckpointCodes(ctx, m.post.Client, m.post.Unit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(codes) > 0 {
		m.deps.Cache.PutCodes(ctx, codes)
		m.log.Debug("code cache refreshed", "key", localstore.CodesKey, "codes", len(codes))
	}
	return codes, nil
}
