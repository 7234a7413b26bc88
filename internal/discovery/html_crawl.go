package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"github.com/lueurxax/foia-acquired/internal/config"
)

const defaultMaxPages = 20

// HTMLCrawlStrategy discovers candidates by loading start_paths, pulling
// links out of them via a per-source CSS selector, filtering by URL
// regex, and following pagination.next_selectors up to max_pages
// (spec.md §4.5).
type HTMLCrawlStrategy struct {
	fetcher Fetcher
}

// Discover implements Strategy.
func (h *HTMLCrawlStrategy) Discover(ctx context.Context, sourceID string, cfg config.DiscoveryConfig, enq Enqueuer) error {
	starts := cfg.StartPaths
	if len(starts) == 0 && cfg.StartURL != "" {
		starts = []string{cfg.StartURL}
	}

	if len(starts) == 0 {
		return fmt.Errorf("discovery: html_crawl strategy requires start_url or start_paths")
	}

	patterns, err := compilePatterns(cfg.URLPatterns)
	if err != nil {
		return err
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	for _, start := range starts {
		if err := h.crawlChain(ctx, sourceID, start, cfg, patterns, maxPages, enq); err != nil {
			return err
		}
	}

	return nil
}

// crawlChain walks one start_path's pagination chain, extracting links
// from each page and following pagination.next_selectors.
func (h *HTMLCrawlStrategy) crawlChain(ctx context.Context, sourceID, start string, cfg config.DiscoveryConfig, patterns []*regexp.Regexp, maxPages int, enq Enqueuer) error {
	current := start

	for page := 0; page < maxPages && current != ""; page++ {
		body, _, err := h.fetcher.Get(ctx, sourceID, current)
		if err != nil {
			return fmt.Errorf("discovery: fetch %s: %w", current, err)
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("discovery: parse %s: %w", current, err)
		}

		base, parseErr := url.Parse(current)

		links := extractLinks(doc, cfg.LinkSelector, base, parseErr == nil)
		for _, link := range links {
			if !matchesAny(patterns, link) {
				continue
			}

			if err := enq.Enqueue(ctx, sourceID, link, "html_crawl", current, cfg.MaxDepth); err != nil {
				return fmt.Errorf("discovery: enqueue %s: %w", link, err)
			}
		}

		current = nextPage(doc, cfg.NextSelectors, base, parseErr == nil)
	}

	return nil
}

func extractLinks(doc *goquery.Document, selector string, base *url.URL, haveBase bool) []string {
	if selector == "" {
		selector = "a[href]"
	}

	var links []string

	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}

		links = append(links, resolve(href, base, haveBase))
	})

	return links
}

func nextPage(doc *goquery.Document, selectors []string, base *url.URL, haveBase bool) string {
	for _, selector := range selectors {
		href, ok := doc.Find(selector).First().Attr("href")
		if ok && href != "" {
			return resolve(href, base, haveBase)
		}
	}

	return ""
}

func resolve(href string, base *url.URL, haveBase bool) string {
	if !haveBase {
		return href
	}

	ref, err := url.Parse(href)
	if err != nil {
		return href
	}

	return base.ResolveReference(ref).String()
}

func compilePatterns(raw []string) ([]*regexp.Regexp, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	out := make([]*regexp.Regexp, 0, len(raw))

	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("discovery: compile url pattern %q: %w", p, err)
		}

		out = append(out, re)
	}

	return out, nil
}

func matchesAny(patterns []*regexp.Regexp, url string) bool {
	if len(patterns) == 0 {
		return true
	}

	for _, re := range patterns {
		if re.MatchString(url) {
			return true
		}
	}

	return false
}
