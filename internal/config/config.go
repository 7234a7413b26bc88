// Package config loads the acquisition engine's configuration.
//
// Configuration is layered the same way the rest of this codebase layers
// its settings: a JSON document (produced by an external config-file
// loader, or read directly from disk here for convenience) is decoded
// into Config first, then environment variables enumerated below are
// applied on top via struct tags, so an operator can override any field
// at deploy time without editing the file on disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DiscoveryHTMLCrawl     = "html_crawl"
	DiscoveryAPIPaginated  = "api_paginated"
	DiscoveryAPICursor     = "api_cursor"
	DiscoveryPattern       = "pattern"
	DiscoverySitemap       = "sitemap"
	DiscoveryFeed          = "feed"
	BrowserRoundRobin      = "round-robin"
	BrowserRandom          = "random"
	BrowserPerDomain       = "per-domain"
	RateLimitBackendMemory = "memory"
	RateLimitBackendSQL    = "sqlite"
)

// LLMConfig configures the Annotator's default LLM provider.
type LLMConfig struct {
	Enabled         bool    `json:"enabled" env:"LLM_ENABLED" envDefault:"false"`
	Provider        string  `json:"provider" env:"LLM_PROVIDER" envDefault:"mock"`
	Endpoint        string  `json:"endpoint" env:"LLM_ENDPOINT"`
	APIKey          string  `json:"api_key" env:"LLM_API_KEY"`
	Model           string  `json:"model" env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	MaxTokens       int     `json:"max_tokens" env:"LLM_MAX_TOKENS" envDefault:"1024"`
	Temperature     float32 `json:"temperature" env:"LLM_TEMPERATURE" envDefault:"0.2"`
	MaxContentChars int     `json:"max_content_chars" env:"LLM_MAX_CONTENT_CHARS" envDefault:"12000"`
	SynopsisPrompt  string  `json:"synopsis_prompt" env:"LLM_SYNOPSIS_PROMPT"`
	TagsPrompt      string  `json:"tags_prompt" env:"LLM_TAGS_PROMPT"`
}

// BrowserConfig configures an optional remote headless-browser fetch capability.
type BrowserConfig struct {
	Endpoints []string `json:"endpoints"`
	Selection string   `json:"selection" env:"BROWSER_SELECTION" envDefault:"round-robin"`
}

// DiscoveryConfig is the per-scraper discovery strategy configuration.
// Which of the strategy-specific fields apply depends on Type.
type DiscoveryConfig struct {
	Type            string `json:"type"`
	StartURL        string `json:"start_url,omitempty"`
	LinkSelector    string `json:"link_selector,omitempty"`
	NextPageParam   string `json:"next_page_param,omitempty"`
	CursorField     string `json:"cursor_field,omitempty"`
	ResultsField    string `json:"results_field,omitempty"`
	URLField        string `json:"url_field,omitempty"`
	PatternTemplate string `json:"pattern_template,omitempty"`
	PatternStart    int    `json:"pattern_start,omitempty"`
	PatternEnd      int    `json:"pattern_end,omitempty"`
	SitemapURL      string `json:"sitemap_url,omitempty"`
	FeedURL         string `json:"feed_url,omitempty"`
	MaxDepth        int    `json:"max_depth,omitempty"`
	StartPaths      []string `json:"start_paths,omitempty"`
	URLPatterns     []string `json:"url_patterns,omitempty"`
	NextSelectors   []string `json:"pagination_next_selectors,omitempty"`
	MaxPages        int      `json:"max_pages,omitempty"`
}

// FetchConfig is per-scraper HTTP fetch tuning.
type FetchConfig struct {
	UserAgent      string `json:"user_agent,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	DelayMS        int    `json:"delay_ms,omitempty"`
}

// ScraperConfig is one entry of the top-level Scrapers map.
type ScraperConfig struct {
	Discovery       DiscoveryConfig `json:"discovery"`
	Fetch           FetchConfig     `json:"fetch"`
	Browser         *BrowserConfig  `json:"browser,omitempty"`
	RefreshTTLDays  int             `json:"refresh_ttl_days,omitempty"`
}

// Config is the acquisition engine's full configuration.
type Config struct {
	Target                string                   `json:"target"`
	Database              string                   `json:"database" env:"DATABASE_URL"`
	UserAgent             string                   `json:"user_agent"`
	RequestTimeout        int                      `json:"request_timeout"`
	RequestDelayMS        int                      `json:"request_delay_ms"`
	DefaultRefreshTTLDays int                      `json:"default_refresh_ttl_days"`
	RateLimitBackend      string                   `json:"rate_limit_backend"`
	BrokerURL             string                   `json:"broker_url" env:"BROKER_URL"`
	LLM                   LLMConfig                `json:"llm"`
	Scrapers              map[string]ScraperConfig `json:"scrapers"`

	BrowserURL          string   `json:"-" env:"BROWSER_URL"`
	BrowserSelection    string   `json:"-" env:"BROWSER_SELECTION" envDefault:"round-robin"`
	SOCKSProxy          string   `json:"-" env:"SOCKS_PROXY"`
	Direct              bool     `json:"-" env:"FOIA_DIRECT" envDefault:"false"`
	AnalysisOCRBackends []string `json:"-" env:"ANALYSIS_OCR_BACKENDS" envSeparator:","`
	VisionAPIKey        string   `json:"-" env:"ANALYSIS_VISION_API_KEY"`
	VisionModel         string   `json:"-" env:"ANALYSIS_VISION_MODEL" envDefault:"gpt-4o-mini"`
	NeuralOCRURL        string   `json:"-" env:"ANALYSIS_NEURAL_OCR_URL"`
	OCRLanguages        []string `json:"-" env:"ANALYSIS_OCR_LANGUAGES" envSeparator:"," envDefault:"eng"`
	Migrate             bool     `json:"-" env:"MIGRATE" envDefault:"false"`

	AppEnv     string `json:"-" env:"APP_ENV" envDefault:"local"`
	HealthPort int    `json:"-" env:"HEALTH_PORT" envDefault:"8080"`
	DataDir    string `json:"-" env:"DATA_DIR" envDefault:"./data"`
}

// Load reads the JSON config file at path (if non-empty), then overlays
// the environment variables enumerated above.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		UserAgent:             "foia-acquired/1.0",
		RequestTimeout:        30,
		RequestDelayMS:        500,
		DefaultRefreshTTLDays: 7,
		RateLimitBackend:      RateLimitBackendMemory,
		Scrapers:              map[string]ScraperConfig{},
	}
}

// Validate checks the invariants the rest of the engine assumes hold.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("config: database is required")
	}

	for name, sc := range c.Scrapers {
		switch sc.Discovery.Type {
		case DiscoveryHTMLCrawl, DiscoveryAPIPaginated, DiscoveryAPICursor,
			DiscoveryPattern, DiscoverySitemap, DiscoveryFeed:
		default:
			return fmt.Errorf("config: scraper %q has unknown discovery type %q", name, sc.Discovery.Type)
		}
	}

	return nil
}
