package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is the Governor's external shared key-value backend,
// grounded on the teacher's TryAcquireSchedulerLock conditional
// lock-with-TTL pattern (internal/storage/locks.go) but implemented against
// Redis's SETNX instead of a Postgres row, matching spec.md §4.1's "external
// shared key-value store" backend.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing Redis client. prefix namespaces keys
// (e.g. "acquired:ratelimit:") so the Governor can share a Redis instance
// with other subsystems.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "acquired:ratelimit:"
	}

	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) stateKey(domain string) string {
	return b.prefix + "state:" + domain
}

func (b *RedisBackend) slotKey(domain string) string {
	return b.prefix + "slot:" + domain
}

func (b *RedisBackend) Load(ctx context.Context, domain string) (State, error) {
	raw, err := b.client.Get(ctx, b.stateKey(domain)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{Domain: domain, CurrentDelay: DefaultDelay}, nil
		}

		return State{}, fmt.Errorf("redis load rate limit state: %w", err)
	}

	var wire redisState
	if err := json.Unmarshal(raw, &wire); err != nil {
		return State{}, fmt.Errorf("redis decode rate limit state: %w", err)
	}

	return wire.toState(domain), nil
}

func (b *RedisBackend) Store(ctx context.Context, domain string, s State) error {
	wire := fromState(s)

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("redis encode rate limit state: %w", err)
	}

	if err := b.client.Set(ctx, b.stateKey(domain), data, 0).Err(); err != nil {
		return fmt.Errorf("redis store rate limit state: %w", err)
	}

	return nil
}

// TryAcquireSlot implements spec.md §4.1's conditional-set-with-expiry
// serialization: SETNX succeeds only for the worker that arrives after the
// previous holder's key has expired, giving every other concurrent worker
// a false return until delay has elapsed.
func (b *RedisBackend) TryAcquireSlot(ctx context.Context, domain string, delay time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.slotKey(domain), "1", delay).Result()
	if err != nil {
		return false, fmt.Errorf("redis try acquire slot: %w", err)
	}

	return ok, nil
}

// redisState is the JSON wire shape stored in Redis; CurrentDelayMS keeps
// the encoding a plain integer rather than depending on time.Duration's
// String() round-tripping through JSON.
type redisState struct {
	CurrentDelayMS     int64     `json:"current_delay_ms"`
	InBackoff          bool      `json:"in_backoff"`
	ConsecutiveSuccess int       `json:"consecutive_success"`
	TotalRequests      int64     `json:"total_requests"`
	RateLimitHits      int64     `json:"rate_limit_hits"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func fromState(s State) redisState {
	return redisState{
		CurrentDelayMS:     s.CurrentDelay.Milliseconds(),
		InBackoff:          s.InBackoff,
		ConsecutiveSuccess: s.ConsecutiveSuccess,
		TotalRequests:      s.TotalRequests,
		RateLimitHits:      s.RateLimitHits,
		UpdatedAt:          s.UpdatedAt,
	}
}

func (w redisState) toState(domain string) State {
	return State{
		Domain:             domain,
		CurrentDelay:       time.Duration(w.CurrentDelayMS) * time.Millisecond,
		InBackoff:          w.InBackoff,
		ConsecutiveSuccess: w.ConsecutiveSuccess,
		TotalRequests:      w.TotalRequests,
		RateLimitHits:      w.RateLimitHits,
		UpdatedAt:          w.UpdatedAt,
	}
}
