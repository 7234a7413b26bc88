// Package ratelimit implements the acquisition engine's per-domain adaptive
// rate limiter (the "Rate-Limit Governor").
//
// The Governor keeps one state machine per domain and runs an
// additive-increase/multiplicative-decrease algorithm over it: delay grows
// multiplicatively on rate-limit signals and transport errors, and decays
// gradually after a run of consecutive successes. State is held behind a
// pluggable Backend so the same algorithm runs whether the state lives in
// memory, in a shared Postgres table, or in Redis. Only the delay state is
// shared through the Backend: Reserve spaces requests with an in-process
// rate.Limiter and does not call Backend.TryAcquireSlot, so request spacing
// is enforced per process, not across workers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lueurxax/foia-acquired/internal/platform/observability"
)

// Outcome classifies the result of an HTTP attempt for Report.
type Outcome int

const (
	// OutcomeSuccess is a normal 2xx/3xx/4xx (non-rate-limit) response.
	OutcomeSuccess Outcome = iota
	// OutcomeRateLimited is an HTTP 429, or a 403 the caller has classified
	// as a rate-limit signal.
	OutcomeRateLimited
	// OutcomeTransportError is a network-level failure (timeout, connection
	// reset, DNS failure).
	OutcomeTransportError
)

const (
	// DefaultDelay is the initial per-domain delay when no state exists yet.
	DefaultDelay = 500 * time.Millisecond
	// DefaultFloor is the lowest delay decay converges toward.
	DefaultFloor = 50 * time.Millisecond
	// MaxBackoffDelay caps delay growth after repeated rate-limit hits.
	MaxBackoffDelay = 60 * time.Second
	// MaxTransportDelay caps delay growth after repeated transport errors.
	MaxTransportDelay = 30 * time.Second

	successesToDecay        = 5
	successesToClearBackoff = 10
	decayFactor              = 0.8
	backoffGrowthFactor      = 2.0
	transportGrowthFactor    = 1.5
)

// State is one domain's persisted rate-limit bookkeeping — the in-memory
// mirror of a RateLimitState row.
type State struct {
	Domain             string
	CurrentDelay       time.Duration
	InBackoff          bool
	ConsecutiveSuccess int
	TotalRequests      int64
	RateLimitHits      int64
	UpdatedAt          time.Time
}

// Backend persists Governor state across process restarts and, for the
// embedded-relational and external-KV variants, across concurrently
// running worker processes.
type Backend interface {
	Load(ctx context.Context, domain string) (State, error)
	Store(ctx context.Context, domain string, s State) error
	// TryAcquireSlot attempts to reserve the next request slot for domain,
	// enforcing that slots are handed out no more often than delay apart
	// across every process sharing this backend. Governor does not call it:
	// Reserve waits on its in-process limiter only.
	TryAcquireSlot(ctx context.Context, domain string, delay time.Duration) (bool, error)
}

// Governor reserves inter-request spacing per domain and adapts it based on
// observed outcomes.
type Governor struct {
	backend Backend
	logger  *zerolog.Logger

	floor time.Duration
	mu    sync.Mutex
	// limiters holds one rate.Limiter per domain, kept in sync with the
	// backend's delay so Reserve can block locally without a round trip
	// for every call when the backend is the in-memory one.
	limiters map[string]*rate.Limiter
}

// New builds a Governor over the given backend. floor is the lowest delay
// the decay path converges toward; zero selects DefaultFloor.
func New(backend Backend, floor time.Duration, logger *zerolog.Logger) *Governor {
	if floor <= 0 {
		floor = DefaultFloor
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Governor{
		backend:  backend,
		logger:   logger,
		floor:    floor,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Reserve blocks the caller until domain's next request slot opens, then
// returns. It loads (or lazily creates) the domain's state, derives a
// limiter from its current delay, and waits on that limiter — the same
// shape regardless of backend, since the backend only needs to agree on
// what the delay currently is.
func (g *Governor) Reserve(ctx context.Context, domain string) (time.Duration, error) {
	state, err := g.backend.Load(ctx, domain)
	if err != nil {
		return 0, err
	}

	if state.CurrentDelay <= 0 {
		state.CurrentDelay = DefaultDelay
		state.Domain = domain
	}

	limiter := g.limiterFor(domain, state.CurrentDelay)

	waitStart := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return 0, err
	}

	observability.GovernorRequestsAllowed.WithLabelValues(domain).Inc()
	observability.GovernorCurrentDelay.WithLabelValues(domain).Set(float64(state.CurrentDelay.Milliseconds()))

	return time.Since(waitStart), nil
}

// limiterFor returns (creating if needed) the in-process limiter mirroring
// a domain's current delay, reconfiguring it if the delay has moved.
func (g *Governor) limiterFor(domain string, delay time.Duration) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit := rate.Every(delay)

	l, ok := g.limiters[domain]
	if !ok {
		l = rate.NewLimiter(limit, 1)
		g.limiters[domain] = l

		return l
	}

	if l.Limit() != limit {
		l.SetLimit(limit)
	}

	return l
}

// Report records the outcome of the HTTP attempt that followed a Reserve
// call and mutates the domain's delay according to the AIMD algorithm.
func (g *Governor) Report(ctx context.Context, domain string, outcome Outcome) error {
	state, err := g.backend.Load(ctx, domain)
	if err != nil {
		return err
	}

	if state.CurrentDelay <= 0 {
		state.CurrentDelay = DefaultDelay
		state.Domain = domain
	}

	state.TotalRequests++

	switch outcome {
	case OutcomeSuccess:
		g.applySuccess(&state)
	case OutcomeRateLimited:
		g.applyRateLimited(domain, &state)
	case OutcomeTransportError:
		g.applyTransportError(domain, &state)
	}

	state.UpdatedAt = time.Now().UTC()

	if err := g.backend.Store(ctx, domain, state); err != nil {
		return err
	}

	g.limiterFor(domain, state.CurrentDelay)

	return nil
}

func (g *Governor) applySuccess(state *State) {
	state.ConsecutiveSuccess++

	if state.InBackoff && state.ConsecutiveSuccess >= successesToClearBackoff {
		state.InBackoff = false
	}

	if !state.InBackoff && state.ConsecutiveSuccess >= successesToDecay {
		decayed := time.Duration(float64(state.CurrentDelay) * decayFactor)
		if decayed < g.floor {
			decayed = g.floor
		}

		state.CurrentDelay = decayed
		state.ConsecutiveSuccess = 0
	}
}

func (g *Governor) applyRateLimited(domain string, state *State) {
	state.ConsecutiveSuccess = 0
	state.InBackoff = true
	state.RateLimitHits++

	grown := time.Duration(float64(state.CurrentDelay) * backoffGrowthFactor)
	if grown > MaxBackoffDelay {
		grown = MaxBackoffDelay
	}

	state.CurrentDelay = grown

	observability.GovernorBackoffs.WithLabelValues(domain, "rate_limited").Inc()
	g.logger.Warn().Str("domain", domain).Dur("new_delay", state.CurrentDelay).Msg("governor entering backoff")
}

func (g *Governor) applyTransportError(domain string, state *State) {
	state.ConsecutiveSuccess = 0

	grown := time.Duration(float64(state.CurrentDelay) * transportGrowthFactor)
	if grown > MaxTransportDelay {
		grown = MaxTransportDelay
	}

	state.CurrentDelay = grown

	observability.GovernorBackoffs.WithLabelValues(domain, "transport_error").Inc()
}
