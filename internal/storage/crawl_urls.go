package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Crawl states, in the order the Crawl Engine's state machine transitions
// through them (spec.md §4.4).
const (
	CrawlStatusDiscovered  = "discovered"
	CrawlStatusFetching    = "fetching"
	CrawlStatusFetched     = "fetched"
	CrawlStatusFailed      = "failed"
	CrawlStatusNotModified = "not_modified"
	CrawlStatusSkipped     = "skipped"
)

// ErrClaimConflict indicates another worker claimed the row first, or the
// row no longer matches the expected status.
var ErrClaimConflict = errors.New("storage: crawl url claim conflict")

// CrawlURL is one URL the engine knows about for a Source, tracked through
// the discovered -> fetching -> fetched/failed/not_modified/skipped cycle.
type CrawlURL struct {
	ID              string
	SourceID        string
	URL             string
	Status          string
	DiscoveryMethod string
	ParentURL       *string
	Depth           int
	RetryCount      int
	ETag            *string
	LastModified    *string
	ContentHash     *string
	DocumentID      *string
	DiscoveredAt    time.Time
	FetchedAt       *time.Time
	LastError       *string
	NextRetryAt     *time.Time
}

// CrawlURLID derives the deterministic id for a (sourceID, url) pair, so
// enqueuing the same URL twice for the same source is naturally idempotent.
func CrawlURLID(sourceID, url string) string {
	sum := sha256.Sum256([]byte(sourceID + "|" + url))
	return hex.EncodeToString(sum[:])[:32]
}

// EnqueueURL inserts a crawl_urls row in the discovered state if one for
// this (source, url) doesn't already exist. Returns the existing or newly
// created row either way, and ok=false when the row already existed.
func (db *DB) EnqueueURL(ctx context.Context, sourceID, rawURL, discoveryMethod, parentURL string, depth int) (ok bool, err error) {
	id := CrawlURLID(sourceID, rawURL)

	var parent *string
	if parentURL != "" {
		parent = &parentURL
	}

	const q = `
		INSERT INTO crawl_urls (id, source_id, url, status, discovery_method, parent_url, depth)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id, url) DO NOTHING
	`

	tag, err := db.Pool.Exec(ctx, q, id, sourceID, rawURL, CrawlStatusDiscovered, discoveryMethod, parent, depth)
	if err != nil {
		return false, fmt.Errorf("enqueue url: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ClaimURLs claims up to limit rows in state discovered, or in state
// failed with an elapsed next_retry_at, transitioning each to fetching
// via a conditional UPDATE. This mirrors an optimistic-concurrency claim:
// the WHERE clause re-checks status at write time, so two workers racing
// on the same row only ever let one of them through (spec.md §4.4).
func (db *DB) ClaimURLs(ctx context.Context, sourceID string, limit int) ([]CrawlURL, error) {
	const selectQ = `
		SELECT id, status
		FROM crawl_urls
		WHERE source_id = $1
		  AND (
		    status = $2
		    OR (status = $3 AND next_retry_at IS NOT NULL AND next_retry_at <= now())
		  )
		ORDER BY depth ASC, discovered_at ASC
		LIMIT $4
	`

	rows, err := db.Pool.Query(ctx, selectQ, sourceID, CrawlStatusDiscovered, CrawlStatusFailed, limit*2)
	if err != nil {
		return nil, fmt.Errorf("claim urls: select candidates: %w", err)
	}

	type candidate struct {
		id     string
		status string
	}

	var candidates []candidate

	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim urls: scan candidate: %w", err)
		}

		candidates = append(candidates, c)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim urls: %w", err)
	}

	claimed := make([]CrawlURL, 0, limit)

	const claimQ = `
		UPDATE crawl_urls
		SET status = $3, fetched_at = now()
		WHERE id = $1 AND status = $2
	`

	for _, c := range candidates {
		if len(claimed) >= limit {
			break
		}

		tag, err := db.Pool.Exec(ctx, claimQ, c.id, c.status, CrawlStatusFetching)
		if err != nil {
			return nil, fmt.Errorf("claim urls: claim %s: %w", c.id, err)
		}

		if tag.RowsAffected() == 0 {
			continue
		}

		u, err := db.GetCrawlURL(ctx, c.id)
		if err != nil {
			return nil, fmt.Errorf("claim urls: reload %s: %w", c.id, err)
		}

		claimed = append(claimed, *u)
	}

	return claimed, nil
}

// GetCrawlURL fetches a single crawl_urls row by id.
func (db *DB) GetCrawlURL(ctx context.Context, id string) (*CrawlURL, error) {
	const q = `
		SELECT id, source_id, url, status, discovery_method, parent_url, depth,
		       retry_count, etag, last_modified, content_hash, document_id,
		       discovered_at, fetched_at, last_error, next_retry_at
		FROM crawl_urls WHERE id = $1
	`

	var u CrawlURL

	row := db.Pool.QueryRow(ctx, q, id)
	if err := row.Scan(
		&u.ID, &u.SourceID, &u.URL, &u.Status, &u.DiscoveryMethod, &u.ParentURL, &u.Depth,
		&u.RetryCount, &u.ETag, &u.LastModified, &u.ContentHash, &u.DocumentID,
		&u.DiscoveredAt, &u.FetchedAt, &u.LastError, &u.NextRetryAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get crawl url %s: %w", id, ErrClaimConflict)
		}

		return nil, fmt.Errorf("get crawl url: %w", err)
	}

	return &u, nil
}

// MarkFetched records a successful fetch: transitions to fetched (or
// not_modified, when newStatus is passed as such), stamps cache validators
// and the resulting Document linkage.
func (db *DB) MarkFetched(ctx context.Context, id, newStatus, etag, lastModified, contentHash, documentID string) error {
	const q = `
		UPDATE crawl_urls
		SET status = $2, etag = NULLIF($3, ''), last_modified = NULLIF($4, ''),
		    content_hash = NULLIF($5, ''), document_id = NULLIF($6, ''),
		    fetched_at = now(), last_error = NULL
		WHERE id = $1
	`

	if _, err := db.Pool.Exec(ctx, q, id, newStatus, etag, lastModified, contentHash, documentID); err != nil {
		return fmt.Errorf("mark fetched: %w", err)
	}

	return nil
}

// MarkFailed records a fetch failure: status becomes failed either way,
// retry_count increments, and next_retry_at is scheduled with capped
// exponential backoff (30s * 2^retry_count, capped at 1h) as long as
// maxRetries hasn't been exhausted yet — once it has, next_retry_at is
// left NULL, which permanently excludes the row from ClaimURLs (spec.md
// §4.4's "Configured max retries (default 5) → permanent failed").
func (db *DB) MarkFailed(ctx context.Context, id, errMsg string, maxRetries int) error {
	const q = `
		UPDATE crawl_urls
		SET status = $4,
		    retry_count = retry_count + 1,
		    last_error = $2,
		    next_retry_at = CASE WHEN retry_count + 1 <= $3
		        THEN now() + (LEAST(30 * POWER(2, retry_count + 1), 3600) * interval '1 second')
		        ELSE NULL END
		WHERE id = $1
	`

	tag, err := db.Pool.Exec(ctx, q, id, errMsg, maxRetries, CrawlStatusFailed)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark failed %s: %w", id, ErrClaimConflict)
	}

	return nil
}

// MarkSkipped transitions a row directly to skipped (robots.txt disallow,
// unsupported scheme, URL filter match) without consuming a retry.
func (db *DB) MarkSkipped(ctx context.Context, id, reason string) error {
	const q = `UPDATE crawl_urls SET status = $2, last_error = $3 WHERE id = $1`

	if _, err := db.Pool.Exec(ctx, q, id, CrawlStatusSkipped, reason); err != nil {
		return fmt.Errorf("mark skipped: %w", err)
	}

	return nil
}

// DueForRetry returns crawl_urls rows whose next_retry_at has elapsed, so
// the Crawl Engine can requeue them as claimable.
func (db *DB) DueForRetry(ctx context.Context, sourceID string, limit int) ([]string, error) {
	const q = `
		SELECT id FROM crawl_urls
		WHERE source_id = $1 AND status = $2 AND next_retry_at IS NOT NULL AND next_retry_at <= now()
		LIMIT $3
	`

	rows, err := db.Pool.Query(ctx, q, sourceID, CrawlStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("due for retry: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("due for retry: scan: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ReclaimStaleClaims reverts crawl_urls rows stuck in fetching past
// staleAfter back to discovered, recovering from a worker that crashed
// mid-fetch without ever reporting an outcome (spec.md §4.4's stale-claim
// sweep). Returns the number of rows reclaimed.
func (db *DB) ReclaimStaleClaims(ctx context.Context, staleAfter time.Duration) (int, error) {
	const q = `
		UPDATE crawl_urls
		SET status = $1
		WHERE status = $2 AND fetched_at < $3
	`

	staleThreshold := time.Now().UTC().Add(-staleAfter)

	tag, err := db.Pool.Exec(ctx, q, CrawlStatusDiscovered, CrawlStatusFetching, staleThreshold)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// QueueStats summarizes crawl_urls counts by status for a Source.
func (db *DB) QueueStats(ctx context.Context, sourceID string) (map[string]int, error) {
	const q = `SELECT status, count(*) FROM crawl_urls WHERE source_id = $1 GROUP BY status`

	rows, err := db.Pool.Query(ctx, q, sourceID)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{}

	for rows.Next() {
		var status string

		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("queue stats: scan: %w", err)
		}

		stats[status] = n
	}

	return stats, rows.Err()
}
