package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type templateDoc struct {
	ID          surrealmodels.RecordID `json:"id,omitempty"`
	Name        string                 `json:"name"`
	Client      string                 `json:"client"`
	Unit        string                 `json:"unit"`
	Frequency   string                 `json:"frequency"`
	StartTime   string                 `json:"start_time"`
	Tolerance   models.Tolerance       `json:"tolerance"`
	Checkpoints []models.Checkpoint    `json:"checkpoints"`
}

func (d templateDoc) toModel() (models.Template, error) {
	id, err := models.RecordIDString(d.ID)
	if err != nil {
		return models.Template{}, err
	}
	return models.Template{
		ID:          id,
		Name:        d.Name,
		Client:      d.Client,
		Unit:        d.Unit,
		Frequency:   d.Frequency,
		StartTime:   d.StartTime,
		Tolerance:   d.Tolerance,
		Checkpoints: d.Checkpoints,
	}, nil
}

// ListTemplates returns the round templates configured for a unit, by start time.
func (c *Client) ListTemplates(ctx context.Context, client, unit string) ([]models.Template, error) {
	results, err := surrealdb.Query[[]templateDoc](ctx, c.db, `
		SELECT * FROM round_template
		WHERE client = $client AND unit = $unit
		ORDER BY start_time ASC
	`, map[string]any{"client": client, "unit": unit})
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.Template{}, nil
	}
	out := make([]models.Template, 0, len((*results)[0].Result))
	for _, d := range (*results)[0].Result {
		t, err := d.toModel()
		if err != nil {
			c.logger.Warn("skipping template with non-string id", "error", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// GetTemplate retrieves a template by ID. Returns nil if not found.
func (c *Client) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	results, err := surrealdb.Query[[]templateDoc](ctx, c.db, `
		SELECT * FROM type::record("round_template", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get template: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	t, err := (*results)[0].Result[0].toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTemplate upserts a template. Used by seeding and tests.
func (c *Client) SaveTemplate(ctx context.Context, t models.Template) error {
	if err := models.Validate(t); err != nil {
		return err
	}
	cps := checkpointsContent(t.Checkpoints)
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("round_template", $id) CONTENT {
			name: $name,
			client: $client,
			unit: $unit,
			frequency: $frequency,
			start_time: $start_time,
			tolerance: $tolerance,
			checkpoints: $checkpoints
		} RETURN NONE
	`, map[string]any{
		"id":          t.ID,
		"name":        t.Name,
		"client":      t.Client,
		"unit":        t.Unit,
		"frequency":   t.Frequency,
		"start_time":  t.StartTime,
		"tolerance":   map[string]any{"amount": t.Tolerance.Amount, "unit": string(t.Tolerance.Unit)},
		"checkpoints": cps,
	})
	if err != nil {
		return fmt.Errorf("save template: %w", wrapQueryError(err))
	}
	return nil
}

// ListCheckpointCodes returns every valid physical code of a unit.
func (c *Client) ListCheckpointCodes(ctx context.Context, client, unit string) ([]models.CheckpointCode, error) {
	results, err := surrealdb.Query[[]models.CheckpointCode](ctx, c.db, `
		SELECT code, name, client, unit FROM checkpoint_code
		WHERE client = $client AND unit = $unit
		ORDER BY code ASC
	`, map[string]any{"client": client, "unit": unit})
	if err != nil {
		return nil, fmt.Errorf("list checkpoint codes: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.CheckpointCode{}, nil
	}
	return (*results)[0].Result, nil
}

// SaveCheckpointCode upserts a valid code, keyed by unit and normalized code.
func (c *Client) SaveCheckpointCode(ctx context.Context, code models.CheckpointCode) error {
	if err := models.Validate(code); err != nil {
		return err
	}
	normalized := models.NormalizeCode(code.Code)
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("checkpoint_code", [$client, $unit, $code]) CONTENT {
			code: $code, name: $name, client: $client, unit: $unit
		} RETURN NONE
	`, map[string]any{"code": normalized, "name": code.Name, "client": code.Client, "unit": code.Unit})
	if err != nil {
		return fmt.Errorf("save checkpoint code: %w", wrapQueryError(err))
	}
	return nil
}
