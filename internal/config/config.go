package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/multiscrape/internal/ratelimit"
	"github.com/sells-group/multiscrape/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ProvidersConfig lists the providers in priority order and their settings.
type ProvidersConfig struct {
	Order      []string           `yaml:"order" mapstructure:"order"`
	Firecrawl  ProviderSettings   `yaml:"firecrawl" mapstructure:"firecrawl"`
	Brave      ProviderSettings   `yaml:"brave" mapstructure:"brave"`
	Perplexity PerplexitySettings `yaml:"perplexity" mapstructure:"perplexity"`
	SerpAPI    ProviderSettings   `yaml:"serpapi" mapstructure:"serpapi"`
	Jina       JinaSettings       `yaml:"jina" mapstructure:"jina"`
	Tavily     ProviderSettings   `yaml:"tavily" mapstructure:"tavily"`
	Google     GoogleSettings     `yaml:"google" mapstructure:"google"`
	Claude     ClaudeSettings     `yaml:"claude" mapstructure:"claude"`
	Listing    ListingSettings    `yaml:"listing" mapstructure:"listing"`
}

// ProviderSettings holds one provider's credential and tunables.
type ProviderSettings struct {
	Key         string        `yaml:"key" mapstructure:"key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Rate        RateSettings  `yaml:"rate" mapstructure:"rate"`
	Retry       RetrySettings `yaml:"retry" mapstructure:"retry"`
}

// RateSettings mirrors ratelimit.Config in config units.
type RateSettings struct {
	WindowSize    int `yaml:"window_size" mapstructure:"window_size"`
	WindowSecs    int `yaml:"window_secs" mapstructure:"window_secs"`
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MinTimeMs     int `yaml:"min_time_ms" mapstructure:"min_time_ms"`
}

// RetrySettings mirrors resilience.RetryConfig in config units.
type RetrySettings struct {
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs  int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	Multiplier  float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// PerplexitySettings adds the chat model.
type PerplexitySettings struct {
	ProviderSettings `yaml:",inline" mapstructure:",squash"`
	Model            string `yaml:"model" mapstructure:"model"`
}

// JinaSettings adds the search endpoint, which differs from the reader.
type JinaSettings struct {
	ProviderSettings `yaml:",inline" mapstructure:",squash"`
	SearchBaseURL    string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// GoogleSettings adds the programmable search engine id.
type GoogleSettings struct {
	ProviderSettings `yaml:",inline" mapstructure:",squash"`
	EngineID         string `yaml:"cx" mapstructure:"cx"`
}

// ClaudeSettings adds the Anthropic model and response cap.
type ClaudeSettings struct {
	ProviderSettings `yaml:",inline" mapstructure:",squash"`
	Model            string `yaml:"model" mapstructure:"model"`
	MaxTokens        int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ListingSettings configures the HTML listing scraper. It is configured
// when SearchURL is set; Key is unused.
type ListingSettings struct {
	ProviderSettings    `yaml:",inline" mapstructure:",squash"`
	SearchURL           string `yaml:"search_url" mapstructure:"search_url"`
	ItemSelector        string `yaml:"item_selector" mapstructure:"item_selector"`
	TitleSelector       string `yaml:"title_selector" mapstructure:"title_selector"`
	LinkSelector        string `yaml:"link_selector" mapstructure:"link_selector"`
	DescriptionSelector string `yaml:"description_selector" mapstructure:"description_selector"`
	UserAgent           string `yaml:"user_agent" mapstructure:"user_agent"`
}

// EngineConfig holds orchestrator-wide settings.
type EngineConfig struct {
	CallTimeoutSecs int           `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	DeadlineSecs    int           `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	Breaker         BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// BreakerConfig configures per-provider circuit breakers.
type BreakerConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int  `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the run log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// MonitoringConfig configures run-health alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinRuns              int     `yaml:"min_runs" mapstructure:"min_runs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultOrder is the provider priority used when none is configured.
var DefaultOrder = []string{"firecrawl", "brave", "perplexity", "serpapi", "jina"}

// credentialEnv maps each credential key to its conventional env name.
var credentialEnv = map[string]string{
	"providers.firecrawl.key":  "FIRECRAWL_API_KEY",
	"providers.brave.key":      "BRAVE_API_KEY",
	"providers.perplexity.key": "PERPLEXITY_API_KEY",
	"providers.serpapi.key":    "SERPAPI_API_KEY",
	"providers.jina.key":       "JINA_API_KEY",
	"providers.tavily.key":     "TAVILY_API_KEY",
	"providers.google.key":     "GOOGLE_API_KEY",
	"providers.google.cx":      "GOOGLE_CSE_ID",
	"providers.claude.key":     "ANTHROPIC_API_KEY",
}

type providerDefaults struct {
	baseURL    string
	windowSize int
	windowSecs int
	minTimeMs  int
	timeout    int
}

var defaults = map[string]providerDefaults{
	"firecrawl":  {baseURL: "https://api.firecrawl.dev/v1", windowSize: 50, windowSecs: 60, minTimeMs: 1200, timeout: 30},
	"brave":      {baseURL: "https://api.search.brave.com", windowSize: 50, windowSecs: 3600, minTimeMs: 72000, timeout: 30},
	"perplexity": {baseURL: "https://api.perplexity.ai", windowSize: 10, windowSecs: 60, minTimeMs: 6000, timeout: 60},
	"serpapi":    {windowSize: 20, windowSecs: 60, minTimeMs: 3000, timeout: 30},
	"jina":       {baseURL: "https://r.jina.ai", windowSize: 20, windowSecs: 60, minTimeMs: 3000, timeout: 30},
	"tavily":     {baseURL: "https://api.tavily.com", windowSize: 20, windowSecs: 60, minTimeMs: 3000, timeout: 30},
	"google":     {baseURL: "https://www.googleapis.com", windowSize: 100, windowSecs: 60, minTimeMs: 600, timeout: 30},
	"claude":     {baseURL: "https://api.anthropic.com", windowSize: 10, windowSecs: 60, minTimeMs: 6000, timeout: 60},
	"listing":    {windowSize: 30, windowSecs: 60, minTimeMs: 2000, timeout: 30},
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MULTISCRAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range credentialEnv {
		prefixed := "MULTISCRAPE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", env)
		}
	}

	// Defaults
	v.SetDefault("providers.order", DefaultOrder)
	for id, d := range defaults {
		p := "providers." + id + "."
		if d.baseURL != "" {
			v.SetDefault(p+"base_url", d.baseURL)
		}
		v.SetDefault(p+"timeout_secs", d.timeout)
		v.SetDefault(p+"rate.window_size", d.windowSize)
		v.SetDefault(p+"rate.window_secs", d.windowSecs)
		v.SetDefault(p+"rate.max_concurrent", 1)
		v.SetDefault(p+"rate.min_time_ms", d.minTimeMs)
		v.SetDefault(p+"retry.max_attempts", 4)
		v.SetDefault(p+"retry.base_delay_ms", 2000)
		v.SetDefault(p+"retry.max_delay_ms", 32000)
		v.SetDefault(p+"retry.multiplier", 2.0)
	}
	v.SetDefault("providers.perplexity.model", "sonar")
	v.SetDefault("providers.claude.model", "claude-haiku-4-5-20251001")
	v.SetDefault("providers.claude.max_tokens", 4096)
	v.SetDefault("providers.jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("providers.listing.search_url", "")
	v.SetDefault("providers.listing.item_selector", "")
	v.SetDefault("providers.listing.title_selector", "")
	v.SetDefault("providers.listing.link_selector", "")
	v.SetDefault("providers.listing.description_selector", "")
	v.SetDefault("providers.listing.user_agent", "")
	v.SetDefault("engine.call_timeout_secs", 30)
	v.SetDefault("engine.deadline_secs", 0)
	v.SetDefault("engine.breaker.enabled", false)
	v.SetDefault("engine.breaker.failure_threshold", 5)
	v.SetDefault("engine.breaker.reset_timeout_secs", 60)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "multiscrape.db")
	v.SetDefault("batch.max_concurrent", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 300)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_runs", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects settings that could never work. It returns a
// *resilience.ConfigurationError naming the offending key.
func (c *Config) Validate() error {
	if len(c.Providers.Order) == 0 {
		return resilience.NewConfigurationError("providers.order", "at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers.Order))
	for _, id := range c.Providers.Order {
		s, ok := c.Providers.Settings(id)
		if !ok {
			return resilience.NewConfigurationError("providers.order", "unknown provider "+id)
		}
		if seen[id] {
			return resilience.NewConfigurationError("providers.order", "duplicate provider "+id)
		}
		seen[id] = true
		if err := s.Validate("providers." + id); err != nil {
			return err
		}
	}
	switch {
	case c.Engine.CallTimeoutSecs < 0:
		return resilience.NewConfigurationError("engine.call_timeout_secs", "must not be negative")
	case c.Engine.DeadlineSecs < 0:
		return resilience.NewConfigurationError("engine.deadline_secs", "must not be negative")
	case c.Engine.Breaker.FailureThreshold < 0:
		return resilience.NewConfigurationError("engine.breaker.failure_threshold", "must not be negative")
	case c.Engine.Breaker.ResetTimeoutSecs < 0:
		return resilience.NewConfigurationError("engine.breaker.reset_timeout_secs", "must not be negative")
	case c.Batch.MaxConcurrent < 0:
		return resilience.NewConfigurationError("batch.max_concurrent", "must not be negative")
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return resilience.NewConfigurationError("server.port", "must be between 0 and 65535")
	case c.Server.RequestTimeoutSecs < 0:
		return resilience.NewConfigurationError("server.request_timeout_secs", "must not be negative")
	}
	if raw := c.Providers.Listing.SearchURL; raw != "" {
		u, err := url.Parse(strings.ReplaceAll(raw, "{query}", "q"))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return resilience.NewConfigurationError("providers.listing.search_url", "must be an absolute http(s) URL")
		}
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "none", "":
	default:
		return resilience.NewConfigurationError("store.driver", "must be sqlite, postgres, or none")
	}
	return nil
}

// Settings returns the common settings for provider id.
func (p ProvidersConfig) Settings(id string) (ProviderSettings, bool) {
	switch id {
	case "firecrawl":
		return p.Firecrawl, true
	case "brave":
		return p.Brave, true
	case "perplexity":
		return p.Perplexity.ProviderSettings, true
	case "serpapi":
		return p.SerpAPI, true
	case "jina":
		return p.Jina.ProviderSettings, true
	case "tavily":
		return p.Tavily, true
	case "google":
		return p.Google.ProviderSettings, true
	case "listing":
		return p.Listing.ProviderSettings, true
	case "claude":
		return p.Claude.ProviderSettings, true
	}
	return ProviderSettings{}, false
}

// Known returns every provider id the config understands.
func Known() []string {
	return []string{"brave", "claude", "firecrawl", "google", "jina", "listing", "perplexity", "serpapi", "tavily"}
}

// Configured reports whether the credential slot is set.
func (s ProviderSettings) Configured() bool {
	return s.Key != ""
}

// Validate rejects negative tunables.
func (s ProviderSettings) Validate(field string) error {
	switch {
	case s.TimeoutSecs < 0:
		return resilience.NewConfigurationError(field+".timeout_secs", "must not be negative")
	case s.Rate.WindowSize < 0:
		return resilience.NewConfigurationError(field+".rate.window_size", "must not be negative")
	case s.Rate.WindowSecs < 0:
		return resilience.NewConfigurationError(field+".rate.window_secs", "must not be negative")
	case s.Rate.MaxConcurrent < 0:
		return resilience.NewConfigurationError(field+".rate.max_concurrent", "must not be negative")
	case s.Rate.MinTimeMs < 0:
		return resilience.NewConfigurationError(field+".rate.min_time_ms", "must not be negative")
	case s.Retry.MaxAttempts < 0:
		return resilience.NewConfigurationError(field+".retry.max_attempts", "must not be negative")
	case s.Retry.BaseDelayMs < 0:
		return resilience.NewConfigurationError(field+".retry.base_delay_ms", "must not be negative")
	case s.Retry.MaxDelayMs < 0:
		return resilience.NewConfigurationError(field+".retry.max_delay_ms", "must not be negative")
	case s.Retry.Multiplier < 0:
		return resilience.NewConfigurationError(field+".retry.multiplier", "must not be negative")
	}
	return nil
}

// RateConfig converts the rate settings, filling unset fields from
// ratelimit.DefaultConfig.
func (s ProviderSettings) RateConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	if s.Rate.WindowSize > 0 {
		cfg.WindowSize = s.Rate.WindowSize
	}
	if s.Rate.WindowSecs > 0 {
		cfg.Window = time.Duration(s.Rate.WindowSecs) * time.Second
	}
	if s.Rate.MaxConcurrent > 0 {
		cfg.MaxConcurrent = s.Rate.MaxConcurrent
	}
	cfg.MinTime = time.Duration(s.Rate.MinTimeMs) * time.Millisecond
	return cfg
}

// RetryConfig converts the retry settings.
func (s ProviderSettings) RetryConfig() resilience.RetryConfig {
	return resilience.FromConfig(s.Retry.MaxAttempts, s.Retry.BaseDelayMs, s.Retry.MaxDelayMs, s.Retry.Multiplier)
}

// Timeout returns the per-call timeout, or zero to use the engine default.
func (s ProviderSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// CallTimeout returns the engine-wide per-call timeout.
func (e EngineConfig) CallTimeout() time.Duration {
	return time.Duration(e.CallTimeoutSecs) * time.Second
}

// Deadline returns the whole-run deadline, or zero for none.
func (e EngineConfig) Deadline() time.Duration {
	return time.Duration(e.DeadlineSecs) * time.Second
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
