package discovery

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/lueurxax/foia-acquired/internal/config"
)

// maxSitemapURLs bounds how many <url> entries a single sitemap (or
// sitemap index, across all its children) contributes, mirroring the
// teacher's own cap in internal/crawler/discovery.go.
const maxSitemapURLs = 500

// sitemapURLSet is the <urlset> document a plain sitemap is wrapped in.
// No sitemap-specific parser exists anywhere in the retrieval pack, so
// this is stdlib encoding/xml by necessity (see DESIGN.md).
type sitemapURLSet struct {
	XMLName xml.Name      `xml:"urlset"`
	URLs    []sitemapURL  `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// sitemapIndex is the <sitemapindex> document some sites use to fan out
// to multiple child sitemaps.
type sitemapIndex struct {
	XMLName  xml.Name             `xml:"sitemapindex"`
	Sitemaps []sitemapIndexEntry  `xml:"sitemap"`
}

type sitemapIndexEntry struct {
	Loc string `xml:"loc"`
}

// SitemapStrategy discovers candidates by walking a sitemap or sitemap
// index at DiscoveryConfig.SitemapURL.
type SitemapStrategy struct {
	fetcher Fetcher
}

// Discover implements Strategy.
func (s *SitemapStrategy) Discover(ctx context.Context, sourceID string, cfg config.DiscoveryConfig, enq Enqueuer) error {
	if cfg.SitemapURL == "" {
		return fmt.Errorf("discovery: sitemap strategy requires sitemap_url")
	}

	urls, err := s.fetchSitemap(ctx, sourceID, cfg.SitemapURL, 0)
	if err != nil {
		return err
	}

	for _, u := range urls {
		if err := enq.Enqueue(ctx, sourceID, u, "sitemap", cfg.SitemapURL, 0); err != nil {
			return fmt.Errorf("discovery: sitemap enqueue %s: %w", u, err)
		}
	}

	return nil
}

// fetchSitemap fetches one sitemap URL, following a sitemap index one
// level deep (indices of indices are not expected in practice).
func (s *SitemapStrategy) fetchSitemap(ctx context.Context, sourceID, sitemapURL string, depth int) ([]string, error) {
	body, _, err := s.fetcher.Get(ctx, sourceID, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("discovery: fetch sitemap %s: %w", sitemapURL, err)
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		if depth > 0 {
			return nil, nil
		}

		var all []string

		for _, entry := range index.Sitemaps {
			if len(all) >= maxSitemapURLs {
				break
			}

			child, err := s.fetchSitemap(ctx, sourceID, entry.Loc, depth+1)
			if err != nil {
				continue
			}

			all = append(all, child...)
		}

		return capSlice(all, maxSitemapURLs), nil
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("discovery: parse sitemap %s: %w", sitemapURL, err)
	}

	urls := make([]string, 0, len(set.URLs))

	for _, u := range set.URLs {
		if u.Loc != "" {
			urls = append(urls, u.Loc)
		}
	}

	return capSlice(urls, maxSitemapURLs), nil
}

func capSlice(s []string, max int) []string {
	if len(s) > max {
		return s[:max]
	}

	return s
}
