// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper. It is built once
// at startup and threaded explicitly to the components that need it.
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Website  WebsiteConfig  `mapstructure:"website"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Progress ProgressConfig `mapstructure:"progress"`
	Cache    CacheConfig    `mapstructure:"cache"`
	DB       DBConfig       `mapstructure:"db"`
	Status   StatusConfig   `mapstructure:"status"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PipelineConfig governs batching and dispatch.
type PipelineConfig struct {
	BatchSize       int `mapstructure:"batch_size"`
	Concurrency     int `mapstructure:"concurrency"`
	PerDomainMax    int `mapstructure:"per_domain_max"`
	DomainDelayMs   int `mapstructure:"domain_delay_ms"`
	BreakerFailures int `mapstructure:"breaker_failures"`
	BreakerWindowMs int `mapstructure:"breaker_window_ms"`
}

// SourcesConfig holds credentials for the external data sources. All keys are
// optional; absence degrades to demo-key access or disables the source.
type SourcesConfig struct {
	ScorecardBaseURL string `mapstructure:"scorecard_base_url"`
	ScorecardAPIKey  string `mapstructure:"scorecard_api_key"`
	SearchURL        string `mapstructure:"search_url"`
	SearchAPIKey     string `mapstructure:"search_api_key"`
	SearchEngineID   string `mapstructure:"search_engine_id"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
}

// WebsiteConfig controls fetching of college websites.
type WebsiteConfig struct {
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	UserAgents     []string          `mapstructure:"user_agents"`
	ProxyUS        string            `mapstructure:"proxy_us"`
	ProxyEU        string            `mapstructure:"proxy_eu"`
	ProxyByRegion  map[string]string `mapstructure:"proxy_by_region"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	MaxParallel     int      `mapstructure:"max_parallel"`
	NavTimeoutSec   int      `mapstructure:"nav_timeout_seconds"`
	MinHTMLBytes    int      `mapstructure:"min_html_bytes"`
	DetectKeywords  []string `mapstructure:"detect_keywords"`
	DetectSelectors []string `mapstructure:"detect_selectors"`
}

// ProgressConfig sets where progress is persisted and how long completions
// stay valid.
type ProgressConfig struct {
	Path       string `mapstructure:"path"`
	ExpiryDays int    `mapstructure:"expiry_days"`
}

// CacheConfig selects the document cache backend.
type CacheConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinOpenConns int    `mapstructure:"min_open_conns"`
}

// StatusConfig controls the optional status/metrics HTTP server.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and the optional JSON log
// file written alongside console output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Path        string `mapstructure:"path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLEGESCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.concurrency", 5)
	v.SetDefault("pipeline.per_domain_max", 2)
	v.SetDefault("pipeline.domain_delay_ms", 1000)
	v.SetDefault("pipeline.breaker_failures", 5)
	v.SetDefault("pipeline.breaker_window_ms", 60000)
	v.SetDefault("sources.timeout_seconds", 15)
	// Credential and proxy keys default to empty so they stay visible to
	// Unmarshal when provided only through the environment.
	v.SetDefault("sources.scorecard_base_url", "")
	v.SetDefault("sources.scorecard_api_key", "")
	v.SetDefault("sources.search_url", "")
	v.SetDefault("sources.search_api_key", "")
	v.SetDefault("sources.search_engine_id", "")
	v.SetDefault("website.timeout_seconds", 15)
	v.SetDefault("website.proxy_us", "")
	v.SetDefault("website.proxy_eu", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("cache.gcs_bucket", "")
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.min_html_bytes", 2048)
	v.SetDefault("headless.detect_keywords", []string{"enable javascript", "javascript is required"})
	v.SetDefault("progress.path", "data/scrape-progress.json")
	v.SetDefault("progress.expiry_days", 30)
	v.SetDefault("cache.provider", "local")
	v.SetDefault("cache.base_dir", "data/document-cache")
	v.SetDefault("db.provider", "noop")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.path", "data/scrape-log.json")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.PerDomainMax <= 0 {
		return fmt.Errorf("pipeline.per_domain_max must be > 0")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	switch c.Cache.Provider {
	case "local", "noop":
	case "gcs":
		if c.Cache.GCSBucket == "" {
			return fmt.Errorf("cache.gcs_bucket must be set when cache.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown cache.provider %q", c.Cache.Provider)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Status.Enabled && c.Status.Port <= 0 {
		return fmt.Errorf("status.port must be > 0 when the status server is enabled")
	}
	return nil
}

// DomainDelay converts the per-domain delay config into a duration.
func (c Config) DomainDelay() time.Duration {
	return time.Duration(c.Pipeline.DomainDelayMs) * time.Millisecond
}

// BreakerWindow converts the breaker window config into a duration.
func (c Config) BreakerWindow() time.Duration {
	return time.Duration(c.Pipeline.BreakerWindowMs) * time.Millisecond
}

// ProgressExpiry converts the expiry config into a duration.
func (c Config) ProgressExpiry() time.Duration {
	return time.Duration(c.Progress.ExpiryDays) * 24 * time.Hour
}

// SourceTimeout converts the source timeout config into a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Sources.TimeoutSeconds) * time.Second
}

// WebsiteTimeout converts the website timeout config into a duration.
func (c Config) WebsiteTimeout() time.Duration {
	return time.Duration(c.Website.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// RegionProxies merges the flat proxy settings with the region map. The flat
// keys exist because they are the common case and map cleanly onto single
// environment variables.
func (c Config) RegionProxies() map[string]string {
	proxies := make(map[string]string)
	for region, proxy := range c.Website.ProxyByRegion {
		if proxy != "" {
			proxies[strings.ToUpper(region)] = proxy
		}
	}
	if c.Website.ProxyUS != "" {
		proxies["US"] = c.Website.ProxyUS
	}
	if c.Website.ProxyEU != "" {
		proxies["EU"] = c.Website.ProxyEU
	}
	return proxies
}
