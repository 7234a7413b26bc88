package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/lueurxax/foia-acquired/internal/config"
)

const defaultMaxAPIPages = 200

// APIPaginatedStrategy walks a JSON API by incrementing a page-number
// query parameter until an empty result page, extracting each result's
// URL via a gjson path pair: ResultsField selects the results array,
// URLField selects the URL field within each element (spec.md §4.5's
// "JSON-pointer-style path + url_field accessors").
type APIPaginatedStrategy struct {
	fetcher Fetcher
}

// Discover implements Strategy.
func (a *APIPaginatedStrategy) Discover(ctx context.Context, sourceID string, cfg config.DiscoveryConfig, enq Enqueuer) error {
	if cfg.StartURL == "" || cfg.ResultsField == "" || cfg.URLField == "" {
		return fmt.Errorf("discovery: api_paginated strategy requires start_url, results_field, and url_field")
	}

	pageParam := cfg.NextPageParam
	if pageParam == "" {
		pageParam = "page"
	}

	base, err := url.Parse(cfg.StartURL)
	if err != nil {
		return fmt.Errorf("discovery: parse start_url: %w", err)
	}

	for page := 1; page <= defaultMaxAPIPages; page++ {
		pageURL := withQueryParam(base, pageParam, strconv.Itoa(page))

		body, _, err := a.fetcher.Get(ctx, sourceID, pageURL)
		if err != nil {
			return fmt.Errorf("discovery: fetch %s: %w", pageURL, err)
		}

		results := gjson.GetBytes(body, cfg.ResultsField)
		if !results.IsArray() || len(results.Array()) == 0 {
			return nil
		}

		for _, item := range results.Array() {
			link := item.Get(cfg.URLField).String()
			if link == "" {
				continue
			}

			if err := enq.Enqueue(ctx, sourceID, link, "api_paginated", pageURL, 0); err != nil {
				return fmt.Errorf("discovery: enqueue %s: %w", link, err)
			}
		}
	}

	return nil
}

func withQueryParam(base *url.URL, key, value string) string {
	u := *base
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()

	return u.String()
}
