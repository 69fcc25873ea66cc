package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 50, cfg.Pipeline.BatchSize)
	require.Equal(t, 5, cfg.Pipeline.Concurrency)
	require.Equal(t, 2, cfg.Pipeline.PerDomainMax)
	require.Equal(t, time.Second, cfg.DomainDelay())
	require.Equal(t, 5, cfg.Pipeline.BreakerFailures)
	require.Equal(t, time.Minute, cfg.BreakerWindow())
	require.Equal(t, 30*24*time.Hour, cfg.ProgressExpiry())
	require.Equal(t, "data/scrape-progress.json", cfg.Progress.Path)
	require.Equal(t, "local", cfg.Cache.Provider)
	require.Equal(t, "noop", cfg.DB.Provider)
	require.True(t, cfg.Headless.Enabled)
	require.False(t, cfg.Status.Enabled)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
pipeline:
  batch_size: 10
  concurrency: 3
  domain_delay_ms: 250
sources:
  scorecard_api_key: real-key
  search_api_key: search-key
  search_engine_id: engine
website:
  proxy_us: http://us-proxy:8080
  proxy_by_region:
    ca: http://ca-proxy:8080
headless:
  enabled: false
progress:
  expiry_days: 7
db:
  provider: postgres
  dsn: postgres://scraper@localhost/colleges
status:
  enabled: true
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 10, cfg.Pipeline.BatchSize)
	require.Equal(t, 3, cfg.Pipeline.Concurrency)
	require.Equal(t, 250*time.Millisecond, cfg.DomainDelay())
	require.Equal(t, "real-key", cfg.Sources.ScorecardAPIKey)
	require.Equal(t, 7*24*time.Hour, cfg.ProgressExpiry())
	require.False(t, cfg.Headless.Enabled)
	require.Equal(t, "postgres", cfg.DB.Provider)
	require.True(t, cfg.Status.Enabled)
	require.Equal(t, 9090, cfg.Status.Port)

	proxies := cfg.RegionProxies()
	require.Equal(t, "http://us-proxy:8080", proxies["US"])
	require.Equal(t, "http://ca-proxy:8080", proxies["CA"])
	require.NotContains(t, proxies, "EU")
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := valid()
	cfg.Pipeline.BatchSize = 0
	require.ErrorContains(t, cfg.Validate(), "batch_size")

	cfg = valid()
	cfg.Pipeline.Concurrency = -1
	require.ErrorContains(t, cfg.Validate(), "concurrency")

	cfg = valid()
	cfg.DB.Provider = "postgres"
	require.ErrorContains(t, cfg.Validate(), "db.dsn")

	cfg = valid()
	cfg.DB.Provider = "oracle"
	require.ErrorContains(t, cfg.Validate(), "unknown db.provider")

	cfg = valid()
	cfg.Cache.Provider = "gcs"
	require.ErrorContains(t, cfg.Validate(), "gcs_bucket")

	cfg = valid()
	cfg.Cache.Provider = "s3"
	require.ErrorContains(t, cfg.Validate(), "unknown cache.provider")

	cfg = valid()
	cfg.Status.Enabled = true
	cfg.Status.Port = 0
	require.ErrorContains(t, cfg.Validate(), "status.port")
}
