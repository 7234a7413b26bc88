package discovery

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/lueurxax/foia-acquired/internal/config"
)

const defaultMaxCursorHops = 500

// APICursorStrategy follows an opaque cursor embedded in each response at
// CursorField until the field is absent or empty (spec.md §4.5).
type APICursorStrategy struct {
	fetcher Fetcher
}

// Discover implements Strategy.
func (a *APICursorStrategy) Discover(ctx context.Context, sourceID string, cfg config.DiscoveryConfig, enq Enqueuer) error {
	if cfg.StartURL == "" || cfg.ResultsField == "" || cfg.URLField == "" || cfg.CursorField == "" {
		return fmt.Errorf("discovery: api_cursor strategy requires start_url, results_field, url_field, and cursor_field")
	}

	base, err := url.Parse(cfg.StartURL)
	if err != nil {
		return fmt.Errorf("discovery: parse start_url: %w", err)
	}

	cursor := ""
	currentURL := cfg.StartURL

	for hop := 0; hop < defaultMaxCursorHops; hop++ {
		body, _, err := a.fetcher.Get(ctx, sourceID, currentURL)
		if err != nil {
			return fmt.Errorf("discovery: fetch %s: %w", currentURL, err)
		}

		parsed := gjson.ParseBytes(body)

		for _, item := range parsed.Get(cfg.ResultsField).Array() {
			link := item.Get(cfg.URLField).String()
			if link == "" {
				continue
			}

			if err := enq.Enqueue(ctx, sourceID, link, "api_cursor", currentURL, 0); err != nil {
				return fmt.Errorf("discovery: enqueue %s: %w", link, err)
			}
		}

		cursor = parsed.Get(cfg.CursorField).String()
		if cursor == "" {
			return nil
		}

		currentURL = withQueryParam(base, "cursor", cursor)
	}

	return nil
}
