// Package discovery implements the acquisition engine's pluggable
// Discovery Strategies: each is polymorphic over discover(source_config)
// -> sequence of candidate URLs, which the Crawl Engine deduplicates and
// inserts into the crawl queue (spec.md §4.5).
package discovery

import (
	"context"

	"github.com/lueurxax/foia-acquired/internal/config"
)

// Candidate is one discovered URL, emitted for the crawl engine to
// insert-or-ignore into crawl_urls.
type Candidate struct {
	URL             string
	DiscoveryMethod string
	ParentURL       string
	Depth           int
}

// Enqueuer is the narrow capability Strategies need from the Crawl
// Engine: insert-or-ignore a candidate into the crawl queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, sourceID, rawURL, discoveryMethod, parentURL string, depth int) error
}

// Strategy discovers candidate URLs for one source configuration and
// feeds them to an Enqueuer. Returning an error aborts this discovery
// pass for the source; partial enqueues already performed stand.
type Strategy interface {
	Discover(ctx context.Context, sourceID string, cfg config.DiscoveryConfig, enq Enqueuer) error
}

// ForType resolves the Strategy implementation for a discovery config's
// Type field, sharing the fetcher both the html_crawl and feed/sitemap
// strategies fetch through.
func ForType(typ string, fetcher Fetcher) Strategy {
	switch typ {
	case config.DiscoveryHTMLCrawl:
		return &HTMLCrawlStrategy{fetcher: fetcher}
	case config.DiscoveryFeed:
		return &FeedStrategy{fetcher: fetcher}
	case config.DiscoverySitemap:
		return &SitemapStrategy{fetcher: fetcher}
	case config.DiscoveryAPIPaginated:
		return &APIPaginatedStrategy{fetcher: fetcher}
	case config.DiscoveryAPICursor:
		return &APICursorStrategy{fetcher: fetcher}
	case config.DiscoveryPattern:
		return &PatternStrategy{}
	default:
		return nil
	}
}

// Fetcher is the narrow capability every HTTP-speaking strategy needs: a
// plain GET that returns the response body. Strategies never call the
// net/http client directly because every outbound request in this engine
// must pass through the Rate-Limit Governor, so they ride on the same
// fetch.Fetcher the Crawl Engine uses (passed in directly by internal/app).
type Fetcher interface {
	Get(ctx context.Context, sourceID, url string) ([]byte, string, error)
}
