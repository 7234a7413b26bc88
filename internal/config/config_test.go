package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"target": "state-attorney-general",
		"database": "postgres://localhost/acquired",
		"scrapers": {"ag": {"discovery": {"type": "html_crawl", "start_url": "https://example.gov/"}}}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "state-attorney-general", cfg.Target)
	assert.Equal(t, "postgres://localhost/acquired", cfg.Database)
	assert.Equal(t, 30, cfg.RequestTimeout, "default applied when file omits the field")
	assert.Equal(t, RateLimitBackendMemory, cfg.RateLimitBackend)
	assert.Contains(t, cfg.Scrapers, "ag")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"database": "postgres://localhost/from-file"}`), 0o600))

	t.Setenv("DATABASE_URL", "postgres://localhost/from-env")
	t.Setenv("FOIA_DIRECT", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/from-env", cfg.Database)
	assert.True(t, cfg.Direct)
}

func TestLoad_RequiresDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_RejectsUnknownDiscoveryType(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database = "postgres://localhost/acquired"
	cfg.Scrapers["bad"] = ScraperConfig{Discovery: DiscoveryConfig{Type: "magic"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}
