package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CrawlRequest is an audit row recorded for every HTTP attempt the Fetcher
// makes, successful or not, mirroring the insert-then-return convention the
// rest of this package uses for append-only history tables.
type CrawlRequest struct {
	ID              string
	SourceID        string
	URL             string
	Method          string
	RequestHeaders  json.RawMessage
	ResponseHeaders json.RawMessage
	StatusCode      *int
	ResponseSize    *int64
	DurationMS      *int64
	WasConditional  bool
	WasNotModified  bool
	Error           *string
	CreatedAt       time.Time
}

// RecordCrawlRequest inserts one audit row for a completed fetch attempt.
func (db *DB) RecordCrawlRequest(ctx context.Context, r CrawlRequest) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	if r.RequestHeaders == nil {
		r.RequestHeaders = json.RawMessage(`{}`)
	}

	if r.ResponseHeaders == nil {
		r.ResponseHeaders = json.RawMessage(`{}`)
	}

	const q = `
		INSERT INTO crawl_requests (
			id, source_id, url, method, request_headers, response_headers,
			status_code, response_size, duration_ms, was_conditional, was_not_modified, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := db.Pool.Exec(ctx, q,
		r.ID, r.SourceID, r.URL, r.Method, r.RequestHeaders, r.ResponseHeaders,
		r.StatusCode, r.ResponseSize, r.DurationMS, r.WasConditional, r.WasNotModified, r.Error,
	)
	if err != nil {
		return fmt.Errorf("record crawl request: %w", err)
	}

	return nil
}

// RecentCrawlRequests returns the most recent audit rows for a URL, newest
// first, bounded by limit — used by operator-facing diagnostics.
func (db *DB) RecentCrawlRequests(ctx context.Context, sourceID, url string, limit int) ([]CrawlRequest, error) {
	const q = `
		SELECT id, source_id, url, method, request_headers, response_headers,
		       status_code, response_size, duration_ms, was_conditional, was_not_modified, error, created_at
		FROM crawl_requests
		WHERE source_id = $1 AND url = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := db.Pool.Query(ctx, q, sourceID, url, limit)
	if err != nil {
		return nil, fmt.Errorf("recent crawl requests: %w", err)
	}
	defer rows.Close()

	var out []CrawlRequest

	for rows.Next() {
		var r CrawlRequest
		if err := rows.Scan(
			&r.ID, &r.SourceID, &r.URL, &r.Method, &r.RequestHeaders, &r.ResponseHeaders,
			&r.StatusCode, &r.ResponseSize, &r.DurationMS, &r.WasConditional, &r.WasNotModified,
			&r.Error, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("recent crawl requests: scan: %w", err)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}
