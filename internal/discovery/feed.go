package discovery

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/lueurxax/foia-acquired/internal/config"
)

// maxFeedEntries bounds how many entries a single feed fetch contributes,
// mirroring the teacher's own cap in internal/crawler/discovery.go.
const maxFeedEntries = 100

// FeedStrategy discovers candidates by walking a source's Atom/RSS feed
// (spec.md §4.5's feed discovery, supplementing the distilled spec's
// "Sitemap / Search / Wayback / Paths" bucket).
type FeedStrategy struct {
	fetcher Fetcher
}

// Discover implements Strategy.
func (f *FeedStrategy) Discover(ctx context.Context, sourceID string, cfg config.DiscoveryConfig, enq Enqueuer) error {
	if cfg.FeedURL == "" {
		return fmt.Errorf("discovery: feed strategy requires feed_url")
	}

	body, _, err := f.fetcher.Get(ctx, sourceID, cfg.FeedURL)
	if err != nil {
		return fmt.Errorf("discovery: fetch feed %s: %w", cfg.FeedURL, err)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discovery: parse feed %s: %w", cfg.FeedURL, err)
	}

	for i, item := range parsed.Items {
		if i >= maxFeedEntries {
			break
		}

		if item.Link == "" {
			continue
		}

		if err := enq.Enqueue(ctx, sourceID, item.Link, "feed", cfg.FeedURL, 0); err != nil {
			return fmt.Errorf("discovery: feed enqueue %s: %w", item.Link, err)
		}
	}

	return nil
}
