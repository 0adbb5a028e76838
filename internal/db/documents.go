package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateDocument stores a new document at a caller-chosen id and stamps
// created_at with the server clock. A document that already exists at that
// id counts as success, so replaying a queued creation does not duplicate it.
func (c *Client) CreateDocument(ctx context.Context, collection, id string, data map[string]any) error {
	if !fieldPattern.MatchString(collection) {
		return fmt.Errorf("invalid collection %q", collection)
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		CREATE type::record($tb, $id) CONTENT $data RETURN NONE;
		UPDATE type::record($tb, $id) SET created_at = time::now() RETURN NONE;
		COMMIT TRANSACTION;
	`, map[string]any{"tb": collection, "id": id, "data": coerceDocument(data)})
	if err != nil {
		err = wrapQueryError(err)
		if errors.Is(err, ErrAlreadyExists) {
			c.logger.Debug("document already exists", "collection", collection, "id", id)
			return nil
		}
		return fmt.Errorf("create %s: %w", collection, err)
	}
	return nil
}

// MergeDocument applies a partial update to the document at path
// ("table/id"). Nested objects are merged field by field; unset paths are
// removed; server-time fields take the store's clock.
func (c *Client) MergeDocument(ctx context.Context, path string, p Patch) error {
	table, id, err := models.ParseDocPath(path)
	if err != nil {
		return err
	}
	if !fieldPattern.MatchString(table) {
		return fmt.Errorf("invalid collection %q", table)
	}
	if p.Empty() {
		return nil
	}
	merge, err := p.mergeObject()
	if err != nil {
		return err
	}
	clock, err := p.serverTimeClause()
	if err != nil {
		return err
	}

	sql := "BEGIN TRANSACTION;\n"
	if len(merge) > 0 {
		sql += "UPSERT type::record($tb, $id) MERGE $data RETURN NONE;\n"
	}
	if clock != "" {
		sql += "UPSERT type::record($tb, $id) SET " + clock + " RETURN NONE;\n"
	}
	sql += "COMMIT TRANSACTION;"

	_, err = surrealdb.Query[any](ctx, c.db, sql, map[string]any{"tb": table, "id": id, "data": merge})
	if err != nil {
		return fmt.Errorf("merge %s: %w", path, wrapQueryError(err))
	}
	return nil
}

// GetDocument returns the raw document at path, or nil if it does not exist.
func (c *Client) GetDocument(ctx context.Context, path string) (map[string]any, error) {
	table, id, err := models.ParseDocPath(path)
	if err != nil {
		return nil, err
	}
	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, `
		SELECT * FROM type::record($tb, $id)
	`, map[string]any{"tb": table, "id": id})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return (*results)[0].Result[0], nil
}
