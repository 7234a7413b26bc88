package discovery

import (
	"context"
	"testing"

	"github.com/lueurxax/foia-acquired/internal/config"
)

type fakeFetcher struct {
	responses map[string][]byte
}

func (f *fakeFetcher) Get(ctx context.Context, sourceID, url string) ([]byte, string, error) {
	return f.responses[url], "application/octet-stream", nil
}

type fakeEnqueuer struct {
	urls []string
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, sourceID, rawURL, discoveryMethod, parentURL string, depth int) error {
	e.urls = append(e.urls, rawURL)
	return nil
}

func TestSitemapStrategy_ParsesURLSet(t *testing.T) {
	body := []byte(`<urlset><url><loc>https://example.com/a</loc></url><url><loc>https://example.com/b</loc></url></urlset>`)
	fetcher := &fakeFetcher{responses: map[string][]byte{"https://example.com/sitemap.xml": body}}
	enq := &fakeEnqueuer{}

	strategy := &SitemapStrategy{fetcher: fetcher}
	err := strategy.Discover(context.Background(), "src", config.DiscoveryConfig{SitemapURL: "https://example.com/sitemap.xml"}, enq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(enq.urls) != 2 {
		t.Fatalf("expected 2 urls, got %d: %v", len(enq.urls), enq.urls)
	}
}

func TestSitemapStrategy_FollowsIndex(t *testing.T) {
	index := []byte(`<sitemapindex><sitemap><loc>https://example.com/s1.xml</loc></sitemap></sitemapindex>`)
	child := []byte(`<urlset><url><loc>https://example.com/c</loc></url></urlset>`)
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"https://example.com/index.xml": index,
		"https://example.com/s1.xml":    child,
	}}
	enq := &fakeEnqueuer{}

	strategy := &SitemapStrategy{fetcher: fetcher}
	err := strategy.Discover(context.Background(), "src", config.DiscoveryConfig{SitemapURL: "https://example.com/index.xml"}, enq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(enq.urls) != 1 || enq.urls[0] != "https://example.com/c" {
		t.Fatalf("expected 1 url from child sitemap, got %v", enq.urls)
	}
}

func TestAPIPaginatedStrategy_StopsOnEmptyPage(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"https://example.com/api?page=1": []byte(`{"results":[{"url":"https://example.com/1"}]}`),
		"https://example.com/api?page=2": []byte(`{"results":[]}`),
	}}
	enq := &fakeEnqueuer{}

	strategy := &APIPaginatedStrategy{fetcher: fetcher}
	cfg := config.DiscoveryConfig{StartURL: "https://example.com/api", ResultsField: "results", URLField: "url"}

	err := strategy.Discover(context.Background(), "src", cfg, enq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(enq.urls) != 1 || enq.urls[0] != "https://example.com/1" {
		t.Fatalf("expected 1 url, got %v", enq.urls)
	}
}

func TestPatternStrategy_GeneratesRange(t *testing.T) {
	enq := &fakeEnqueuer{}

	strategy := &PatternStrategy{}
	cfg := config.DiscoveryConfig{PatternTemplate: "https://example.com/doc/{n}", PatternStart: 1, PatternEnd: 3}

	err := strategy.Discover(context.Background(), "src", cfg, enq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"https://example.com/doc/1", "https://example.com/doc/2", "https://example.com/doc/3"}
	if len(enq.urls) != len(want) {
		t.Fatalf("expected %d urls, got %v", len(want), enq.urls)
	}

	for i, u := range want {
		if enq.urls[i] != u {
			t.Errorf("urls[%d] = %q, want %q", i, enq.urls[i], u)
		}
	}
}
