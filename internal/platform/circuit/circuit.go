// Package circuit implements a small per-key circuit breaker shared by the
// Analysis and Annotator backend registries: after a run of consecutive
// failures a key is marked open and skipped until a cooldown elapses.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/lueurxax/foia-acquired/internal/core/errors"
)

// Config tunes one breaker's trip threshold and cooldown.
type Config struct {
	Threshold  int
	ResetAfter time.Duration
}

// DefaultConfig is used by registries that don't configure one explicitly.
func DefaultConfig() Config {
	return Config{Threshold: 3, ResetAfter: 2 * time.Minute}
}

// Breaker is a single key's circuit breaker.
type Breaker struct {
	cfg                 Config
	mu                  sync.Mutex
	consecutiveFailures int
	openUntil           time.Time
	logger              *zerolog.Logger
}

// New creates a Breaker for one key.
func New(cfg Config, logger *zerolog.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}

	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = DefaultConfig().ResetAfter
	}

	return &Breaker{cfg: cfg, logger: logger}
}

// CanAttempt reports whether a call may proceed.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return time.Now().After(b.openUntil)
}

// Check returns ErrCircuitBreakerOpen if the breaker is currently open.
func (b *Breaker) Check() error {
	if b.CanAttempt() {
		return nil
	}

	return fmt.Errorf("%w", appErrors.ErrCircuitBreakerOpen)
}

// RecordSuccess resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
}

// RecordFailure counts a failure and opens the breaker once Threshold is hit.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	if b.consecutiveFailures >= b.cfg.Threshold {
		b.openUntil = time.Now().Add(b.cfg.ResetAfter)

		if b.logger != nil {
			b.logger.Warn().
				Str("key", key).
				Int("consecutive_failures", b.consecutiveFailures).
				Time("open_until", b.openUntil).
				Msg("circuit breaker opened")
		}
	}
}

// Registry keeps one Breaker per string key, created lazily.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	logger   *zerolog.Logger
	breakers map[string]*Breaker
}

// NewRegistry creates an empty keyed breaker registry.
func NewRegistry(cfg Config, logger *zerolog.Logger) *Registry {
	return &Registry{cfg: cfg, logger: logger, breakers: make(map[string]*Breaker)}
}

// For returns the Breaker for key, creating it on first use.
func (r *Registry) For(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(r.cfg, r.logger)
		r.breakers[key] = b
	}

	return b
}
