package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("store: not found")

// UpsertContentItem inserts item or, when (source, external_id) already
// exists, refreshes fetched_at on the existing row. All other columns are
// immutable after the first insert. Reports whether a new row was created.
func (s *Store) UpsertContentItem(ctx context.Context, item *ContentItem) (inserted bool, err error) {
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO content_items
			(id, source, external_id, parent_id, title, body, author, url,
			 created_at, fetched_at, content_hash, processed)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,0)
		ON CONFLICT(source, external_id) DO UPDATE SET fetched_at = excluded.fetched_at`,
		item.ID, item.Source, item.ExternalID, item.ParentID,
		item.Title, item.Body, item.Author, item.URL,
		ms(item.CreatedAt), ms(item.FetchedAt), item.ContentHash,
	)
	if err != nil {
		return false, fmt.Errorf("store: upsert content item: %w", err)
	}

	// The ON CONFLICT path keeps the original row ID; read it back so the
	// caller always holds the canonical identity.
	var id string
	var processed int
	err = s.DB.QueryRowContext(ctx,
		`SELECT id, processed FROM content_items WHERE source = ? AND external_id = ?`,
		item.Source, item.ExternalID,
	).Scan(&id, &processed)
	if err != nil {
		return false, fmt.Errorf("store: read back content item: %w", err)
	}
	inserted = id == item.ID
	item.ID = id
	item.Processed = processed != 0
	return inserted, nil
}

// ContentItem fetches one item by ID.
func (s *Store) ContentItem(ctx context.Context, id string) (*ContentItem, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, source, external_id, parent_id, title, body, author, url,
		       created_at, fetched_at, content_hash, processed
		FROM content_items WHERE id = ?`, id)
	return scanContentItem(row)
}

// UnprocessedItems returns up to limit items not yet run through extraction,
// oldest fetch first; limit <= 0 means no cap. The result is a run-scoped
// snapshot: concurrent fetches never mutate rows already returned.
func (s *Store) UnprocessedItems(ctx context.Context, limit int) ([]*ContentItem, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, source, external_id, parent_id, title, body, author, url,
		       created_at, fetched_at, content_hash, processed
		FROM content_items
		WHERE processed = 0
		ORDER BY fetched_at ASC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: unprocessed items: %w", err)
	}
	defer rows.Close()

	var items []*ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkProcessed flags an item as having been through extraction this run.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE content_items SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: mark processed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContentItem(row rowScanner) (*ContentItem, error) {
	var c ContentItem
	var createdAt, fetchedAt int64
	var processed int
	err := row.Scan(&c.ID, &c.Source, &c.ExternalID, &c.ParentID,
		&c.Title, &c.Body, &c.Author, &c.URL,
		&createdAt, &fetchedAt, &c.ContentHash, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan content item: %w", err)
	}
	c.CreatedAt = fromMS(createdAt)
	c.FetchedAt = fromMS(fetchedAt)
	c.Processed = processed != 0
	return &c, nil
}
