package db

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// roundDoc is the stored shape of a round. Checkpoint records are keyed by
// their index as a string because document keys must be strings.
type roundDoc struct {
	ID             surrealmodels.RecordID             `json:"id,omitempty"`
	TemplateID     string                             `json:"template_id"`
	TemplateName   string                             `json:"template_name"`
	Client         string                             `json:"client"`
	Site           string                             `json:"site,omitempty"`
	Unit           string                             `json:"unit"`
	Operator       models.Operator                    `json:"operator"`
	ScheduledStart string                             `json:"scheduled_start"`
	Tolerance      models.Tolerance                   `json:"tolerance"`
	Checkpoints    []models.Checkpoint                `json:"checkpoints"`
	Records        map[string]models.CheckpointRecord `json:"records"`
	State          models.RoundState                  `json:"state"`
	StartedAt      time.Time                          `json:"started_at"`
	EndedAt        *time.Time                         `json:"ended_at"`
	LastSyncAt     *time.Time                         `json:"last_sync_at,omitempty"`
}

func (d roundDoc) toModel() (*models.Round, error) {
	id, err := models.RecordIDString(d.ID)
	if err != nil {
		return nil, err
	}
	records := make(map[int]models.CheckpointRecord, len(d.Records))
	for k, rec := range d.Records {
		i, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: round %s has record key %q", models.ErrInvalid, id, k)
		}
		records[i] = rec
	}
	r := &models.Round{
		ID:             id,
		TemplateID:     d.TemplateID,
		TemplateName:   d.TemplateName,
		Client:         d.Client,
		Site:           d.Site,
		Unit:           d.Unit,
		Operator:       d.Operator,
		ScheduledStart: d.ScheduledStart,
		Tolerance:      d.Tolerance,
		Checkpoints:    d.Checkpoints,
		Records:        records,
		State:          d.State,
		StartedAt:      d.StartedAt,
		EndedAt:        d.EndedAt,
		LastSyncAt:     d.LastSyncAt,
	}
	if err := models.ValidateRound(r); err != nil {
		return nil, err
	}
	return r, nil
}

// RoundContent returns the stored fields of a round, without its id.
func RoundContent(r *models.Round) map[string]any {
	content := map[string]any{
		"template_id":     r.TemplateID,
		"template_name":   r.TemplateName,
		"client":          r.Client,
		"unit":            r.Unit,
		"operator":        map[string]any{"id": r.Operator.ID, "name": r.Operator.Name, "email": r.Operator.Email},
		"scheduled_start": r.ScheduledStart,
		"tolerance":       map[string]any{"amount": r.Tolerance.Amount, "unit": string(r.Tolerance.Unit)},
		"checkpoints":     checkpointsContent(r.Checkpoints),
		"records":         RecordsContent(r.Records),
		"state":           string(r.State),
		"started_at":      r.StartedAt,
		"ended_at":        nil,
	}
	if r.Site != "" {
		content["site"] = r.Site
	}
	if r.EndedAt != nil {
		content["ended_at"] = *r.EndedAt
	}
	return content
}

func checkpointsContent(cps []models.Checkpoint) []any {
	out := make([]any, len(cps))
	for i, cp := range cps {
		m := map[string]any{"name": cp.Name, "code": cp.Code}
		if len(cp.Questions) > 0 {
			qs := make([]any, len(cp.Questions))
			for j, q := range cp.Questions {
				qs[j] = q
			}
			m["questions"] = qs
		}
		out[i] = m
	}
	return out
}

// RecordsContent converts checkpoint records into the stored, string-keyed form.
func RecordsContent(records map[int]models.CheckpointRecord) map[string]any {
	out := make(map[string]any, len(records))
	for i, rec := range records {
		out[strconv.Itoa(i)] = RecordContent(rec)
	}
	return out
}

// RecordContent converts one checkpoint record into its stored form.
func RecordContent(rec models.CheckpointRecord) map[string]any {
	m := map[string]any{
		"name":       rec.Name,
		"scanned":    rec.Scanned,
		"code":       nil,
		"scanned_at": nil,
	}
	if rec.Code != nil {
		m["code"] = *rec.Code
	}
	if rec.ScannedAt != nil {
		m["scanned_at"] = *rec.ScannedAt
	}
	if len(rec.Answers) > 0 {
		answers := make(map[string]any, len(rec.Answers))
		for k, v := range maps.All(rec.Answers) {
			answers[k] = v
		}
		m["answers"] = answers
	}
	if !rec.PhotoEmbedded.Empty() {
		m["photo_embedded"] = string(rec.PhotoEmbedded)
	}
	if rec.PhotoURL != "" {
		m["photo_url"] = rec.PhotoURL
	}
	return m
}

// GetRound retrieves a round by ID. Returns nil if not found.
func (c *Client) GetRound(ctx context.Context, id string) (*models.Round, error) {
	results, err := surrealdb.Query[[]roundDoc](ctx, c.db, `
		SELECT * FROM type::record("round_run", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get round: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return (*results)[0].Result[0].toModel()
}

// FindInProgressRound returns the operator's IN_PROGRESS round, matching by
// operator id first and by display name second. Returns nil if none.
func (c *Client) FindInProgressRound(ctx context.Context, op models.Operator) (*models.Round, error) {
	queries := []struct {
		field, value string
	}{
		{"operator.id", op.ID},
		{"operator.name", op.Name},
	}
	for _, q := range queries {
		if q.value == "" {
			continue
		}
		sql := fmt.Sprintf(`
			SELECT * FROM round_run
			WHERE %s = $value AND state = "IN_PROGRESS"
			ORDER BY started_at DESC LIMIT 1
		`, q.field)
		results, err := surrealdb.Query[[]roundDoc](ctx, c.db, sql, map[string]any{"value": q.value})
		if err != nil {
			return nil, fmt.Errorf("find in-progress round: %w", wrapQueryError(err))
		}
		if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
			return (*results)[0].Result[0].toModel()
		}
	}
	return nil, nil
}

// RoundsSince returns rounds of a unit started at or after since, newest first.
func (c *Client) RoundsSince(ctx context.Context, client, unit string, since time.Time) ([]models.Round, error) {
	results, err := surrealdb.Query[[]roundDoc](ctx, c.db, `
		SELECT * FROM round_run
		WHERE client = $client AND unit = $unit AND started_at >= $since
		ORDER BY started_at DESC
	`, map[string]any{"client": client, "unit": unit, "since": since})
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.Round{}, nil
	}
	rounds := make([]models.Round, 0, len((*results)[0].Result))
	for _, d := range (*results)[0].Result {
		r, err := d.toModel()
		if err != nil {
			continue
		}
		rounds = append(rounds, *r)
	}
	return rounds, nil
}

// CreateRound stores a new round at its derived identity. When a round with
// that identity already exists it is returned unchanged with created=false.
func (c *Client) CreateRound(ctx context.Context, r *models.Round) (*models.Round, bool, error) {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("round_run", $id) CONTENT $content RETURN NONE
	`, map[string]any{"id": r.ID, "content": RoundContent(r)})
	if err == nil {
		return r, true, nil
	}
	err = wrapQueryError(err)
	if !errors.Is(err, ErrAlreadyExists) {
		return nil, false, fmt.Errorf("create round: %w", err)
	}
	existing, getErr := c.GetRound(ctx, r.ID)
	if getErr != nil {
		return nil, false, getErr
	}
	if existing == nil {
		return nil, false, fmt.Errorf("create round: %w", err)
	}
	return existing, false, nil
}

// SaveRound upserts the full round, used to recreate a document that went missing.
func (c *Client) SaveRound(ctx context.Context, r *models.Round) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("round_run", $id) CONTENT $content RETURN NONE
	`, map[string]any{"id": r.ID, "content": RoundContent(r)})
	if err != nil {
		return fmt.Errorf("save round: %w", wrapQueryError(err))
	}
	return nil
}

// MergeRecords merges checkpoint records by index and stamps last_sync_at.
func (c *Client) MergeRecords(ctx context.Context, roundID string, records map[int]models.CheckpointRecord) error {
	set := make(map[string]any, len(records))
	for i, rec := range records {
		set["records."+strconv.Itoa(i)] = RecordContent(rec)
	}
	return c.MergeDocument(ctx, models.DocPath(TableRound, roundID), Patch{
		Set:        set,
		ServerTime: []string{"last_sync_at"},
	})
}

// TerminateRound writes the terminal state only while the round is still
// IN_PROGRESS. Returns false when another writer terminated it first.
func (c *Client) TerminateRound(ctx context.Context, roundID string, state models.RoundState, endedAt time.Time) (bool, error) {
	results, err := surrealdb.Query[[]roundDoc](ctx, c.db, `
		UPDATE type::record("round_run", $id)
		SET state = $state, ended_at = $ended_at, terminated_at = time::now()
		WHERE state = "IN_PROGRESS"
		RETURN AFTER
	`, map[string]any{"id": roundID, "state": string(state), "ended_at": endedAt})
	if err != nil {
		return false, fmt.Errorf("terminate round: %w", wrapQueryError(err))
	}
	return results != nil && len(*results) > 0 && len((*results)[0].Result) > 0, nil
}
