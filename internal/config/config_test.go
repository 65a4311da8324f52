package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
provider:
  feed_url: "http://example.test/feed"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://example.test/feed", cfg.Provider.FeedURL)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 3, cfg.Navigator.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Navigator.InterAttemptDelay)
	assert.Equal(t, 5.0, cfg.Classifier.DropThresholdPct)
	assert.Equal(t, []float64{10, 20, 40}, cfg.Classifier.SeverityTiers)
	assert.Equal(t, 80, cfg.Classifier.LateGameMinute)
	assert.Equal(t, 60*time.Second, cfg.Controller.PollInterval)
	assert.Equal(t, 10000, cfg.Storage.MaxAnomalies)
	assert.True(t, cfg.Feed.Enabled)
	assert.Equal(t, ":8080", cfg.Feed.Addr)
	assert.False(t, cfg.Telegram.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
provider:
  feed_url: "http://example.test/feed"
  timeout: 5s
navigator:
  max_attempts: 5
classifier:
  drop_threshold_pct: 3.5
  severity_tiers: [8, 16, 32]
  reference_odds:
    E1:
      "1": 2.05
controller:
  poll_interval: 30s
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 5, cfg.Navigator.MaxAttempts)
	assert.Equal(t, 3.5, cfg.Classifier.DropThresholdPct)
	assert.Equal(t, []float64{8, 16, 32}, cfg.Classifier.SeverityTiers)
	assert.Equal(t, 2.05, cfg.Classifier.ReferenceOdds["E1"]["1"])
	assert.Equal(t, 30*time.Second, cfg.Controller.PollInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadPreservesEntityIDCase(t *testing.T) {
	path := writeConfigFile(t, `
provider:
  feed_url: "http://example.test/feed"
classifier:
  reference_odds:
    "Ev-104:1X2":
      "1": 1.95
      "X": 3.40
  fair_odds:
    "Ev-104:1X2":
      "1": 2.00
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Mixed-case IDs must come through verbatim so runtime lookups match.
	require.Contains(t, cfg.Classifier.ReferenceOdds, "Ev-104:1X2")
	assert.Equal(t, 1.95, cfg.Classifier.ReferenceOdds["Ev-104:1X2"]["1"])
	assert.Equal(t, 3.40, cfg.Classifier.ReferenceOdds["Ev-104:1X2"]["X"])
	require.Contains(t, cfg.Classifier.FairOdds, "Ev-104:1X2")
	assert.Equal(t, 2.00, cfg.Classifier.FairOdds["Ev-104:1X2"]["1"])
	assert.NotContains(t, cfg.Classifier.ReferenceOdds, "ev-104:1x2")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		path := writeConfigFile(t, `
provider:
  feed_url: "http://example.test/feed"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"missing feed URL",
			func(c *Config) { c.Provider.FeedURL = "" },
			"provider.feed_url",
		},
		{
			"zero attempts",
			func(c *Config) { c.Navigator.MaxAttempts = 0 },
			"navigator.max_attempts",
		},
		{
			"negative settle delay",
			func(c *Config) { c.Navigator.SettleDelay = -time.Second },
			"navigator.settle_delay",
		},
		{
			"wrong tier count",
			func(c *Config) { c.Classifier.SeverityTiers = []float64{10, 20} },
			"severity_tiers",
		},
		{
			"non-ascending tiers",
			func(c *Config) { c.Classifier.SeverityTiers = []float64{10, 10, 40} },
			"strictly ascending",
		},
		{
			"flow threshold out of range",
			func(c *Config) { c.Classifier.FlowThresholdPct = 100 },
			"flow_threshold_pct",
		},
		{
			"sub-second poll interval",
			func(c *Config) { c.Controller.PollInterval = 500 * time.Millisecond },
			"poll_interval",
		},
		{
			"empty db path",
			func(c *Config) { c.Storage.DBPath = "" },
			"storage.db_path",
		},
		{
			"feed enabled without addr",
			func(c *Config) { c.Feed.Addr = "" },
			"feed.addr",
		},
		{
			"telegram enabled without token",
			func(c *Config) { c.Telegram.Enabled = true },
			"telegram.bot_token",
		},
		{
			"bad log level",
			func(c *Config) { c.Logging.Level = "verbose" },
			"logging.level",
		},
		{
			"bad log format",
			func(c *Config) { c.Logging.Format = "xml" },
			"logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
