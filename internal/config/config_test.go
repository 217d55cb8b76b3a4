package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/multiscrape/internal/resilience"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultOrder, cfg.Providers.Order)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 300, cfg.Server.RequestTimeoutSecs)
	assert.Equal(t, 3, cfg.Batch.MaxConcurrent)
	assert.Equal(t, 30, cfg.Engine.CallTimeoutSecs)
	assert.Zero(t, cfg.Engine.DeadlineSecs)
	assert.False(t, cfg.Engine.Breaker.Enabled)

	assert.Equal(t, "https://api.firecrawl.dev/v1", cfg.Providers.Firecrawl.BaseURL)
	assert.Equal(t, 50, cfg.Providers.Firecrawl.Rate.WindowSize)
	assert.Equal(t, 1200, cfg.Providers.Firecrawl.Rate.MinTimeMs)
	assert.Equal(t, 3600, cfg.Providers.Brave.Rate.WindowSecs)
	assert.Equal(t, 60, cfg.Providers.Perplexity.TimeoutSecs)
	assert.Equal(t, "sonar", cfg.Providers.Perplexity.Model)
	assert.Equal(t, "https://s.jina.ai", cfg.Providers.Jina.SearchBaseURL)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Providers.Claude.Model)
	assert.Equal(t, int64(4096), cfg.Providers.Claude.MaxTokens)
	assert.Equal(t, 60, cfg.Providers.Claude.TimeoutSecs)
	assert.Equal(t, 4, cfg.Providers.SerpAPI.Retry.MaxAttempts)
	assert.Equal(t, 2000, cfg.Providers.Tavily.Retry.BaseDelayMs)
	assert.InDelta(t, 2.0, cfg.Providers.Google.Retry.Multiplier, 0.001)
	assert.False(t, cfg.Providers.Firecrawl.Configured())

	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
providers:
  order: [tavily, listing]
  tavily:
    key: tvly-123
    rate:
      window_size: 5
  listing:
    search_url: https://classiccars.example.com/search?q={query}
    item_selector: .listing
engine:
  deadline_secs: 45
  breaker:
    enabled: true
store:
  driver: none
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"tavily", "listing"}, cfg.Providers.Order)
	assert.Equal(t, "tvly-123", cfg.Providers.Tavily.Key)
	assert.Equal(t, 5, cfg.Providers.Tavily.Rate.WindowSize)
	// Defaults still apply for unset values
	assert.Equal(t, 60, cfg.Providers.Tavily.Rate.WindowSecs)
	assert.Equal(t, "https://classiccars.example.com/search?q={query}", cfg.Providers.Listing.SearchURL)
	assert.Equal(t, ".listing", cfg.Providers.Listing.ItemSelector)
	assert.Equal(t, 45*time.Second, cfg.Engine.Deadline())
	assert.True(t, cfg.Engine.Breaker.Enabled)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("MULTISCRAPE_STORE_DRIVER", "postgres")
	t.Setenv("MULTISCRAPE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConventionalCredentialEnv(t *testing.T) {
	chdirTemp(t)

	t.Setenv("BRAVE_API_KEY", "brave-key")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("GOOGLE_CSE_ID", "cse-id")
	t.Setenv("MULTISCRAPE_PROVIDERS_JINA_KEY", "jina-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "brave-key", cfg.Providers.Brave.Key)
	assert.True(t, cfg.Providers.Brave.Configured())
	assert.Equal(t, "google-key", cfg.Providers.Google.Key)
	assert.Equal(t, "cse-id", cfg.Providers.Google.EngineID)
	assert.Equal(t, "jina-key", cfg.Providers.Jina.Key)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MULTISCRAPE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Providers.Order = []string{"brave", "jina"}
	cfg.Store.Driver = "sqlite"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "no providers", mutate: func(c *Config) { c.Providers.Order = nil }, field: "providers.order"},
		{name: "unknown provider", mutate: func(c *Config) { c.Providers.Order = []string{"apify"} }, field: "providers.order"},
		{name: "duplicate provider", mutate: func(c *Config) { c.Providers.Order = []string{"jina", "jina"} }, field: "providers.order"},
		{name: "negative timeout", mutate: func(c *Config) { c.Providers.Brave.TimeoutSecs = -1 }, field: "providers.brave.timeout_secs"},
		{name: "negative window", mutate: func(c *Config) { c.Providers.Jina.Rate.WindowSize = -5 }, field: "providers.jina.rate.window_size"},
		{name: "negative attempts", mutate: func(c *Config) { c.Providers.Brave.Retry.MaxAttempts = -1 }, field: "providers.brave.retry.max_attempts"},
		{name: "negative deadline", mutate: func(c *Config) { c.Engine.DeadlineSecs = -1 }, field: "engine.deadline_secs"},
		{name: "negative batch", mutate: func(c *Config) { c.Batch.MaxConcurrent = -2 }, field: "batch.max_concurrent"},
		{name: "bad driver", mutate: func(c *Config) { c.Store.Driver = "mysql" }, field: "store.driver"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, field: "server.port"},
		{name: "bad listing url", mutate: func(c *Config) { c.Providers.Listing.SearchURL = "example.com/search?q={query}" }, field: "providers.listing.search_url"},
		{name: "bad listing port", mutate: func(c *Config) { c.Providers.Listing.SearchURL = "http://example.com:port/?q={query}" }, field: "providers.listing.search_url"},
		{name: "negative request timeout", mutate: func(c *Config) { c.Server.RequestTimeoutSecs = -1 }, field: "server.request_timeout_secs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var ce *resilience.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}

	assert.NoError(t, validConfig().Validate())
}

func TestProviderSettings_Conversions(t *testing.T) {
	s := ProviderSettings{
		TimeoutSecs: 12,
		Rate:        RateSettings{WindowSize: 50, WindowSecs: 3600, MinTimeMs: 72000},
		Retry:       RetrySettings{MaxAttempts: 2, BaseDelayMs: 500},
	}

	rate := s.RateConfig()
	assert.Equal(t, 50, rate.WindowSize)
	assert.Equal(t, time.Hour, rate.Window)
	assert.Equal(t, 1, rate.MaxConcurrent)
	assert.Equal(t, 72*time.Second, rate.MinTime)

	retry := s.RetryConfig()
	assert.Equal(t, 2, retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, retry.BaseDelay)
	assert.Equal(t, 32*time.Second, retry.MaxDelay)

	assert.Equal(t, 12*time.Second, s.Timeout())
}

func TestSettings(t *testing.T) {
	var p ProvidersConfig
	p.Google.Key = "k"
	p.Perplexity.Key = "pk"

	for _, id := range Known() {
		_, ok := p.Settings(id)
		assert.True(t, ok, id)
	}
	s, _ := p.Settings("google")
	assert.Equal(t, "k", s.Key)
	s, _ = p.Settings("perplexity")
	assert.True(t, s.Configured())
	_, ok := p.Settings("apify")
	assert.False(t, ok)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
