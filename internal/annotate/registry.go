package annotate

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lueurxax/foia-acquired/internal/platform/circuit"
)

// ErrAllProvidersFailed indicates every provider in priority order failed.
var ErrAllProvidersFailed = errors.New("annotate: all providers failed")

// Registry holds providers in priority order (highest first), each guarded
// by its own circuit breaker, and falls back through the chain on failure
// (teacher's internal/core/llm/registry.go executeWithTaskFallback shape,
// narrowed to this package's four fixed operations instead of a generic
// task-dispatch table).
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	breakers  *circuit.Registry
	logger    *zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Registry{breakers: circuit.NewRegistry(circuit.DefaultConfig(), logger), logger: logger}
}

// Register adds a provider, keeping the slice sorted by descending priority.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)

	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority() > r.providers[j].Priority()
	})

	r.logger.Info().Str("provider", p.Name()).Int("priority", p.Priority()).Msg("registered annotation provider")
}

func (r *Registry) chain() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, len(r.providers))
	copy(out, r.providers)

	return out
}

// Synopsis runs the provider chain until one succeeds.
func (r *Registry) Synopsis(ctx context.Context, doc Document) (string, error) {
	return tryChain(r, func(p Provider) (string, error) { return p.Synopsis(ctx, doc) })
}

// Tags runs the provider chain until one succeeds.
func (r *Registry) Tags(ctx context.Context, doc Document) ([]string, error) {
	return tryChain(r, func(p Provider) ([]string, error) { return p.Tags(ctx, doc) })
}

// NER runs the provider chain until one succeeds.
func (r *Registry) NER(ctx context.Context, doc Document) ([]Entity, error) {
	return tryChain(r, func(p Provider) ([]Entity, error) { return p.NER(ctx, doc) })
}

// DateDetect runs the provider chain until one succeeds.
func (r *Registry) DateDetect(ctx context.Context, doc Document) (DateDetection, error) {
	return tryChain(r, func(p Provider) (DateDetection, error) { return p.DateDetect(ctx, doc) })
}

func tryChain[T any](r *Registry, fn func(Provider) (T, error)) (T, error) {
	var zero T

	var lastErr error

	for _, p := range r.chain() {
		breaker := r.breakers.For(p.Name())
		if !breaker.CanAttempt() {
			continue
		}

		result, err := fn(p)
		if err != nil {
			breaker.RecordFailure(p.Name())

			lastErr = err

			r.logger.Warn().Err(err).Str("provider", p.Name()).Msg("annotation provider failed, trying fallback")

			continue
		}

		breaker.RecordSuccess()

		return result, nil
	}

	if lastErr != nil {
		return zero, errors.Join(ErrAllProvidersFailed, lastErr)
	}

	return zero, ErrAllProvidersFailed
}
