package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/multiscrape/internal/batch"
	"github.com/sells-group/multiscrape/internal/config"
	"github.com/sells-group/multiscrape/internal/fallback"
	"github.com/sells-group/multiscrape/internal/monitoring"
	"github.com/sells-group/multiscrape/internal/provider"
	"github.com/sells-group/multiscrape/internal/ratelimit"
	"github.com/sells-group/multiscrape/internal/resilience"
	"github.com/sells-group/multiscrape/internal/store"
	"github.com/sells-group/multiscrape/pkg/anthropic"
	"github.com/sells-group/multiscrape/pkg/brave"
	"github.com/sells-group/multiscrape/pkg/firecrawl"
	"github.com/sells-group/multiscrape/pkg/google"
	"github.com/sells-group/multiscrape/pkg/jina"
	"github.com/sells-group/multiscrape/pkg/perplexity"
	"github.com/sells-group/multiscrape/pkg/serpapi"
	"github.com/sells-group/multiscrape/pkg/tavily"
)

// engineEnv holds the orchestrator and everything the search, batch and
// serve commands share.
type engineEnv struct {
	Engine  *fallback.Orchestrator
	Runs    store.RunLog
	Batch   *batch.Processor
	Metrics *monitoring.Metrics
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Batch != nil {
		e.Batch.Wait()
	}
	if e.Runs != nil {
		_ = e.Runs.Close()
	}
}

// initEngine opens the run log, builds the adapters from config and wires
// the orchestrator. Callers should defer env.Close().
func initEngine(ctx context.Context, c *config.Config) (*engineEnv, error) {
	runs, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := runs.Migrate(ctx); err != nil {
		_ = runs.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	engine, err := buildEngine(c, newProviderRegistry(c), metrics)
	if err != nil {
		_ = runs.Close()
		return nil, err
	}
	if err := metrics.RegisterStats(engine); err != nil {
		_ = runs.Close()
		return nil, eris.Wrap(err, "register provider stats")
	}

	configured := 0
	for _, s := range engine.Stats() {
		if s.Configured {
			configured++
		}
	}
	zap.L().Info("engine ready",
		zap.Strings("order", engine.Providers()),
		zap.Int("configured", configured),
		zap.String("store", c.Store.Driver),
	)
	if configured == 0 {
		zap.L().Warn("no provider has credentials; every run will exhaust")
	}

	return &engineEnv{
		Engine:  engine,
		Runs:    runs,
		Batch:   batch.NewProcessor(engine, runs, c.Batch.MaxConcurrent),
		Metrics: metrics,
	}, nil
}

// buildEngine resolves providers.order against reg and applies each
// provider's rate, retry and timeout settings.
func buildEngine(c *config.Config, reg *provider.Registry, rec fallback.Recorder) (*fallback.Orchestrator, error) {
	adapters, err := reg.Resolve(c.Providers.Order)
	if err != nil {
		return nil, resilience.NewConfigurationError("providers.order", err.Error())
	}

	entries := make([]fallback.Entry, 0, len(adapters))
	for _, a := range adapters {
		s, _ := c.Providers.Settings(a.Name())
		entries = append(entries, fallback.Entry{
			Adapter: a,
			Config: fallback.ProviderConfig{
				Rate:    s.RateConfig(),
				Retry:   s.RetryConfig(),
				Timeout: s.Timeout(),
			},
		})
	}

	opts := []fallback.Option{
		fallback.WithLimiters(ratelimit.NewRegistry()),
		fallback.WithDeadline(c.Engine.Deadline()),
		fallback.WithRecorder(rec),
	}
	if d := c.Engine.CallTimeout(); d > 0 {
		opts = append(opts, fallback.WithCallTimeout(d))
	}
	if c.Engine.Breaker.Enabled {
		opts = append(opts, fallback.WithBreakers(resilience.NewBreakers(
			resilience.FromBreakerConfig(c.Engine.Breaker.FailureThreshold, c.Engine.Breaker.ResetTimeoutSecs),
		)))
	}
	return fallback.New(entries, opts...)
}

// newProviderRegistry builds one adapter per known provider. Adapters
// without credentials are registered too; the orchestrator skips them.
func newProviderRegistry(c *config.Config) *provider.Registry {
	p := c.Providers

	fc := []firecrawl.Option{firecrawl.WithHTTPClient(httpClient(p.Firecrawl))}
	if p.Firecrawl.BaseURL != "" {
		fc = append(fc, firecrawl.WithBaseURL(p.Firecrawl.BaseURL))
	}

	br := []brave.Option{brave.WithHTTPClient(httpClient(p.Brave))}
	if p.Brave.BaseURL != "" {
		br = append(br, brave.WithBaseURL(p.Brave.BaseURL))
	}

	px := []perplexity.Option{perplexity.WithHTTPClient(httpClient(p.Perplexity.ProviderSettings))}
	if p.Perplexity.BaseURL != "" {
		px = append(px, perplexity.WithBaseURL(p.Perplexity.BaseURL))
	}
	if p.Perplexity.Model != "" {
		px = append(px, perplexity.WithModel(p.Perplexity.Model))
	}

	jn := []jina.Option{jina.WithHTTPClient(httpClient(p.Jina.ProviderSettings))}
	if p.Jina.BaseURL != "" {
		jn = append(jn, jina.WithBaseURL(p.Jina.BaseURL))
	}
	if p.Jina.SearchBaseURL != "" {
		jn = append(jn, jina.WithSearchBaseURL(p.Jina.SearchBaseURL))
	}

	tv := []tavily.Option{tavily.WithHTTPClient(httpClient(p.Tavily))}
	if p.Tavily.BaseURL != "" {
		tv = append(tv, tavily.WithBaseURL(p.Tavily.BaseURL))
	}

	gg := []google.Option{google.WithHTTPClient(httpClient(p.Google.ProviderSettings))}
	if p.Google.BaseURL != "" {
		gg = append(gg, google.WithBaseURL(p.Google.BaseURL))
	}

	an := []anthropic.Option{anthropic.WithHTTPClient(httpClient(p.Claude.ProviderSettings))}
	if p.Claude.BaseURL != "" {
		an = append(an, anthropic.WithBaseURL(p.Claude.BaseURL))
	}
	if p.Claude.Model != "" {
		an = append(an, anthropic.WithModel(p.Claude.Model))
	}
	if p.Claude.MaxTokens > 0 {
		an = append(an, anthropic.WithMaxTokens(p.Claude.MaxTokens))
	}

	return provider.NewRegistry(
		provider.NewFirecrawl(p.Firecrawl.Key, fc...),
		provider.NewBrave(p.Brave.Key, br...),
		provider.NewPerplexity(p.Perplexity.Key, px...),
		provider.NewSerpAPI(p.SerpAPI.Key, serpapi.WithHTTPClient(httpClient(p.SerpAPI))),
		provider.NewJina(p.Jina.Key, jn...),
		provider.NewTavily(p.Tavily.Key, tv...),
		provider.NewGoogle(p.Google.Key, p.Google.EngineID, gg...),
		provider.NewClaude(p.Claude.Key, an...),
		provider.NewListing(provider.ListingConfig{
			SearchURL:           p.Listing.SearchURL,
			ItemSelector:        p.Listing.ItemSelector,
			TitleSelector:       p.Listing.TitleSelector,
			LinkSelector:        p.Listing.LinkSelector,
			DescriptionSelector: p.Listing.DescriptionSelector,
			UserAgent:           p.Listing.UserAgent,
		}, httpClient(p.Listing.ProviderSettings)),
	)
}

// httpClient returns a per-provider client. The orchestrator enforces the
// call timeout; the client timeout is only a backstop.
func httpClient(s config.ProviderSettings) *http.Client {
	timeout := s.Timeout()
	if timeout <= 0 {
		timeout = fallback.DefaultCallTimeout
	}
	return &http.Client{Timeout: timeout + timeout/2}
}
