package analysis

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/foia-acquired/internal/platform/circuit"
)

// ErrNoBackendsAvailable indicates no registered backend supports the
// given MIME type or all are currently circuit-open.
var ErrNoBackendsAvailable = errors.New("analysis: no backends available")

// Priorities determine the order backends are tried in when more than one
// applies to the same MIME type — native/structural extraction first,
// OCR-family backends (cheapest to costliest) after.
const (
	PriorityNativePDF   = 100
	PriorityReadability = 90
	PriorityClassicalOCR = 50
	PriorityVisionOCR   = 30
	PriorityNeuralOCR   = 20
)

type entry struct {
	backend  Backend
	priority int
}

// Registry holds the configured backends, ordered by descending priority,
// each guarded by its own circuit breaker (teacher's
// internal/core/llm/registry.go Registry shape, reworked around a single
// Process method instead of the many task-specific LLM methods).
type Registry struct {
	mu       sync.RWMutex
	entries  []entry
	breakers *circuit.Registry
	logger   *zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Registry{
		breakers: circuit.NewRegistry(circuit.DefaultConfig(), logger),
		logger:   logger,
	}
}

// Register adds a backend at the given priority (higher runs first).
func (r *Registry) Register(b Backend, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry{backend: b, priority: priority})

	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].priority > r.entries[j].priority
	})

	r.logger.Info().Str("backend", b.Name()).Int("priority", priority).Msg("registered analysis backend")
}

// candidatesFor returns the registered backends that support mimeType, in
// priority order.
func (r *Registry) candidatesFor(mimeType string) []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Backend

	for _, e := range r.entries {
		if e.backend.Supports(mimeType) {
			out = append(out, e.backend)
		}
	}

	return out
}

// Run executes every backend supporting in.MimeType and returns their
// results keyed by backend name, skipping (not erroring on) backends whose
// circuit is open. Unlike the Annotator's Registry, callers generally want
// every applicable backend's output — not just the first success — since
// §4.6's finalization ranks across all of them.
func (r *Registry) Run(ctx context.Context, in Input) map[string]Result {
	candidates := r.candidatesFor(in.MimeType)
	results := make(map[string]Result, len(candidates))

	for _, b := range candidates {
		breaker := r.breakers.For(b.Name())
		if !breaker.CanAttempt() {
			r.logger.Debug().Str("backend", b.Name()).Msg("skipping backend, circuit open")
			continue
		}

		start := time.Now()

		res, err := b.Process(ctx, in)
		if err != nil {
			breaker.RecordFailure(b.Name())

			r.logger.Warn().Err(err).Str("backend", b.Name()).Msg("analysis backend failed")

			continue
		}

		breaker.RecordSuccess()

		res.ProcessingTimeMS = time.Since(start).Milliseconds()
		results[b.Name()] = res
	}

	return results
}

// Names returns the registered backend names supporting mimeType, in
// priority order, used by callers that need the backend list without
// running them (e.g. to drive the claim protocol backend-by-backend).
func (r *Registry) Names(mimeType string) []string {
	candidates := r.candidatesFor(mimeType)

	names := make([]string, len(candidates))
	for i, b := range candidates {
		names[i] = b.Name()
	}

	return names
}

// Get returns the registered Backend named name, or false if none matches.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.backend.Name() == name {
			return e.backend, true
		}
	}

	return nil, false
}
