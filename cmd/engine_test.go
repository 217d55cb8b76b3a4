package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/multiscrape/internal/config"
	"github.com/sells-group/multiscrape/internal/resilience"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	c, err := config.Load()
	require.NoError(t, err)
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "runs.db")
	return c
}

func TestNewProviderRegistry_AllKnown(t *testing.T) {
	c := testConfig(t)
	reg := newProviderRegistry(c)
	assert.Equal(t, config.Known(), reg.List())
}

func TestNewProviderRegistry_ConfiguredFromCredentials(t *testing.T) {
	c := testConfig(t)
	c.Providers.Brave.Key = "brave-key"
	c.Providers.Google.Key = "google-key"
	c.Providers.Google.EngineID = ""
	c.Providers.Firecrawl.Key = ""
	c.Providers.Claude.Key = "sk-ant"
	c.Providers.Listing.SearchURL = "https://cars.example.com/search?q={query}"
	c.Providers.Listing.ItemSelector = ".result"

	reg := newProviderRegistry(c)
	assert.True(t, reg.Get("brave").Configured())
	assert.False(t, reg.Get("firecrawl").Configured())
	// Google also needs the engine id.
	assert.False(t, reg.Get("google").Configured())
	assert.True(t, reg.Get("listing").Configured())
	assert.True(t, reg.Get("claude").Configured())
}

func TestBuildEngine_FollowsOrder(t *testing.T) {
	c := testConfig(t)
	c.Providers.Order = []string{"jina", "tavily", "brave"}
	c.Providers.Jina.Key = "k"

	engine, err := buildEngine(c, newProviderRegistry(c), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"jina", "tavily", "brave"}, engine.Providers())

	stats := engine.Stats()
	assert.True(t, stats["jina"].Configured)
	assert.False(t, stats["tavily"].Configured)
	// Brave's default window allows 50 calls per hour.
	assert.Equal(t, 50, stats["brave"].Reservoir)
	assert.Empty(t, stats["brave"].Breaker)
}

func TestBuildEngine_Breakers(t *testing.T) {
	c := testConfig(t)
	c.Engine.Breaker.Enabled = true

	engine, err := buildEngine(c, newProviderRegistry(c), nil)
	require.NoError(t, err)
	assert.Equal(t, "closed", engine.Stats()["firecrawl"].Breaker)
}

func TestBuildEngine_UnknownProvider(t *testing.T) {
	c := testConfig(t)
	c.Providers.Order = []string{"firecrawl", "bing"}

	_, err := buildEngine(c, newProviderRegistry(c), nil)
	require.Error(t, err)
	assert.True(t, resilience.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "bing")
}

func TestBuildEngine_ZeroCallTimeoutUsesDefault(t *testing.T) {
	c := testConfig(t)
	c.Engine.CallTimeoutSecs = 0

	_, err := buildEngine(c, newProviderRegistry(c), nil)
	require.NoError(t, err)
}

func TestInitEngine(t *testing.T) {
	c := testConfig(t)
	c.Providers.Firecrawl.Key = "fc-key"

	env, err := initEngine(context.Background(), c)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Engine)
	assert.NotNil(t, env.Batch)
	assert.NotNil(t, env.Metrics)

	runs, err := env.Runs.ListRuns(context.Background(), storeFilterAll())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestInitEngine_BadDriver(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "mysql"

	_, err := initEngine(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestHTTPClientTimeout(t *testing.T) {
	assert.Equal(t, "45s", httpClient(config.ProviderSettings{TimeoutSecs: 30}).Timeout.String())
	assert.Equal(t, "45s", httpClient(config.ProviderSettings{}).Timeout.String())
	assert.Equal(t, "1m30s", httpClient(config.ProviderSettings{TimeoutSecs: 60}).Timeout.String())
}
