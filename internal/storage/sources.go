package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var sourceSlugDisallowed = regexp.MustCompile(`[^a-z0-9]+`)

// Source is a configured document-publishing origin (an agency site, a
// public-records portal) that scrapers crawl against. Source.ID is a slug
// derived from Name, not a random identifier, so that renaming a source
// means rewriting its id rather than just a display field.
type Source struct {
	ID          string
	SourceType  string
	Name        string
	BaseURL     string
	Metadata    json.RawMessage
	CreatedAt   time.Time
	LastScraped *time.Time
}

// SourceSlug computes the deterministic id for a given source name.
func SourceSlug(name string) string {
	slug := sourceSlugDisallowed.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(slug, "-")
}

// UpsertSource creates a Source if one with this name doesn't yet exist,
// otherwise it is a no-op: sources are created once by configuration
// import, not reconciled on every load.
func (db *DB) UpsertSource(ctx context.Context, sourceType, name, baseURL string, metadata json.RawMessage) (*Source, error) {
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	const q = `
		INSERT INTO sources (id, source_type, name, base_url, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	id := SourceSlug(name)

	if _, err := db.Pool.Exec(ctx, q, id, sourceType, name, baseURL, metadata); err != nil {
		return nil, fmt.Errorf("upsert source: %w", err)
	}

	return db.GetSource(ctx, id)
}

// GetSource looks up a Source by id.
func (db *DB) GetSource(ctx context.Context, id string) (*Source, error) {
	const q = `
		SELECT id, source_type, name, base_url, metadata, created_at, last_scraped
		FROM sources WHERE id = $1
	`

	var s Source

	row := db.Pool.QueryRow(ctx, q, id)
	if err := row.Scan(&s.ID, &s.SourceType, &s.Name, &s.BaseURL, &s.Metadata, &s.CreatedAt, &s.LastScraped); err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}

	return &s, nil
}

// TouchSourceLastScraped records that a crawl pass over this source just completed.
func (db *DB) TouchSourceLastScraped(ctx context.Context, sourceID string) error {
	const q = `UPDATE sources SET last_scraped = now() WHERE id = $1`

	if _, err := db.Pool.Exec(ctx, q, sourceID); err != nil {
		return fmt.Errorf("touch source last scraped: %w", err)
	}

	return nil
}

// RenameSource renames a source and rewrites its id (a slug of the name)
// across every referring table inside one transaction, so a partially
// cascaded rename is never observable.
func (db *DB) RenameSource(ctx context.Context, oldID, newName string) error {
	newID := SourceSlug(newName)
	if newID == oldID {
		const q = `UPDATE sources SET name = $2 WHERE id = $1`
		if _, err := db.Pool.Exec(ctx, q, oldID, newName); err != nil {
			return fmt.Errorf("rename source: %w", err)
		}

		return nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("rename source: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	statements := []string{
		`UPDATE crawl_urls SET source_id = $2 WHERE source_id = $1`,
		`UPDATE crawl_requests SET source_id = $2 WHERE source_id = $1`,
		`UPDATE documents SET source_id = $2 WHERE source_id = $1`,
		`UPDATE sources SET id = $2, name = $3 WHERE id = $1`,
	}

	for i, stmt := range statements {
		args := []any{oldID, newID}
		if i == len(statements)-1 {
			args = append(args, newName)
		}

		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("rename source: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("rename source: commit: %w", err)
	}

	return nil
}
