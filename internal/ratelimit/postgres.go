package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists Governor state in the rate_limit_state table,
// using a transactional read-modify-write so concurrent workers observe a
// consistent current_delay_ms even though Postgres has no native
// compare-and-swap primitive the way Redis's SETNX does.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend wraps an existing connection pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (b *PostgresBackend) Load(ctx context.Context, domain string) (State, error) {
	const q = `
		SELECT domain, current_delay_ms, in_backoff, total_requests, rate_limit_hits, updated_at
		FROM rate_limit_state WHERE domain = $1
	`

	var s State

	var delayMS int64

	row := b.pool.QueryRow(ctx, q, domain)

	err := row.Scan(&s.Domain, &delayMS, &s.InBackoff, &s.TotalRequests, &s.RateLimitHits, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return State{Domain: domain, CurrentDelay: DefaultDelay}, nil
		}

		return State{}, fmt.Errorf("load rate limit state: %w", err)
	}

	s.CurrentDelay = time.Duration(delayMS) * time.Millisecond

	return s, nil
}

func (b *PostgresBackend) Store(ctx context.Context, domain string, s State) error {
	const q = `
		INSERT INTO rate_limit_state (domain, current_delay_ms, in_backoff, total_requests, rate_limit_hits, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (domain) DO UPDATE SET
			current_delay_ms = EXCLUDED.current_delay_ms,
			in_backoff = EXCLUDED.in_backoff,
			total_requests = EXCLUDED.total_requests,
			rate_limit_hits = EXCLUDED.rate_limit_hits,
			updated_at = now()
	`

	if _, err := b.pool.Exec(ctx, q, domain, s.CurrentDelay.Milliseconds(), s.InBackoff, s.TotalRequests, s.RateLimitHits); err != nil {
		return fmt.Errorf("store rate limit state: %w", err)
	}

	return nil
}

// TryAcquireSlot implements the spacing guarantee with a transaction that
// conditionally advances the row's updated_at column, the embedded
// analogue of Redis's SETNX ... EX: the UPDATE only succeeds if at least
// delay has passed since updated_at.
func (b *PostgresBackend) TryAcquireSlot(ctx context.Context, domain string, delay time.Duration) (bool, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("try acquire slot: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO rate_limit_state (domain, current_delay_ms, updated_at)
		VALUES ($1, $2, now() - $3::interval)
		ON CONFLICT (domain) DO NOTHING
	`
	if _, err := tx.Exec(ctx, upsert, domain, delay.Milliseconds(), delay.String()); err != nil {
		return false, fmt.Errorf("try acquire slot: seed: %w", err)
	}

	const claim = `
		UPDATE rate_limit_state
		SET updated_at = now()
		WHERE domain = $1 AND updated_at <= now() - $2::interval
	`

	tag, err := tx.Exec(ctx, claim, domain, delay.String())
	if err != nil {
		return false, fmt.Errorf("try acquire slot: claim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("try acquire slot: commit: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
