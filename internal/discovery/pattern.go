package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lueurxax/foia-acquired/internal/config"
)

// PatternStrategy generates candidate URLs by substituting a numeric
// range into a template, a bounded form of the inference spec.md §4.5
// describes ("inspects already-known URLs, infers numeric or date
// patterns, generates candidates to verify") — the substitution range
// itself comes from per-source configuration rather than live inference,
// since inference over already-known URLs requires Repository access no
// Strategy otherwise needs.
type PatternStrategy struct{}

// Discover implements Strategy.
func (p *PatternStrategy) Discover(ctx context.Context, sourceID string, cfg config.DiscoveryConfig, enq Enqueuer) error {
	if cfg.PatternTemplate == "" {
		return fmt.Errorf("discovery: pattern strategy requires pattern_template")
	}

	if !strings.Contains(cfg.PatternTemplate, "{n}") {
		return fmt.Errorf("discovery: pattern_template must contain a {n} placeholder")
	}

	start, end := cfg.PatternStart, cfg.PatternEnd
	if end < start {
		return fmt.Errorf("discovery: pattern_end must be >= pattern_start")
	}

	for n := start; n <= end; n++ {
		candidate := strings.ReplaceAll(cfg.PatternTemplate, "{n}", strconv.Itoa(n))

		if err := enq.Enqueue(ctx, sourceID, candidate, "pattern", "", 0); err != nil {
			return fmt.Errorf("discovery: enqueue %s: %w", candidate, err)
		}
	}

	return nil
}
