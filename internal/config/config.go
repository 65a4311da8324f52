// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	Provider   ProviderConfig   `mapstructure:"provider"`
	Navigator  NavigatorConfig  `mapstructure:"navigator"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Controller ControllerConfig `mapstructure:"controller"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Console    ConsoleConfig    `mapstructure:"console"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ProviderConfig holds snapshot provider configuration.
type ProviderConfig struct {
	Name          string        `mapstructure:"name"`
	FeedURL       string        `mapstructure:"feed_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RateBurst     int           `mapstructure:"rate_burst"`
}

// NavigatorConfig holds retry behavior for snapshot fetches.
type NavigatorConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout"`
	InterAttemptDelay time.Duration `mapstructure:"inter_attempt_delay"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
}

// ClassifierConfig holds all anomaly detection thresholds.
type ClassifierConfig struct {
	DropThresholdPct  float64   `mapstructure:"drop_threshold_pct"`
	RiseThresholdPct  float64   `mapstructure:"rise_threshold_pct"`
	SeverityTiers     []float64 `mapstructure:"severity_tiers"`
	FlowThresholdPct  float64   `mapstructure:"flow_threshold_pct"`
	HighVolume        float64   `mapstructure:"high_volume"`
	TotalPrefixes     []string  `mapstructure:"total_prefixes"`
	LateGameMinute    int       `mapstructure:"late_game_minute"`
	CorridorWidthPct  float64   `mapstructure:"corridor_width_pct"`
	ValueThresholdPct float64   `mapstructure:"value_threshold_pct"`
	LimitCutPct       float64   `mapstructure:"limit_cut_pct"`

	// ReferenceOdds maps entity ID -> market label -> baseline odd from a
	// second source, used by corridor breach detection.
	ReferenceOdds map[string]map[string]float64 `mapstructure:"reference_odds"`
	// FairOdds maps entity ID -> market label -> fair odds estimate, used by
	// value bet detection.
	FairOdds map[string]map[string]float64 `mapstructure:"fair_odds"`
}

// ControllerConfig holds the polling loop configuration.
type ControllerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath       string `mapstructure:"db_path"`
	MaxAnomalies int    `mapstructure:"max_anomalies"`
}

// FeedConfig holds the published anomaly feed configuration.
type FeedConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ConsoleConfig holds console notification configuration.
type ConsoleConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Table   bool `mapstructure:"table"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("ODDSRADAR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := loadEntityMaps(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadEntityMaps decodes the corridor and fair-odds maps straight from the
// config file. Viper lowercases all map keys, which would silently break
// lookups for mixed-case entity IDs.
func loadEntityMaps(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var doc struct {
		Classifier struct {
			ReferenceOdds map[string]map[string]float64 `yaml:"reference_odds"`
			FairOdds      map[string]map[string]float64 `yaml:"fair_odds"`
		} `yaml:"classifier"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Classifier.ReferenceOdds = doc.Classifier.ReferenceOdds
	cfg.Classifier.FairOdds = doc.Classifier.FairOdds
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.name", "mockline")
	v.SetDefault("provider.feed_url", "http://localhost:5000/api/line/snapshot")
	v.SetDefault("provider.timeout", "15s")
	v.SetDefault("provider.rate_per_second", 2.0)
	v.SetDefault("provider.rate_burst", 1)

	v.SetDefault("navigator.max_attempts", 3)
	v.SetDefault("navigator.per_attempt_timeout", "15s")
	v.SetDefault("navigator.inter_attempt_delay", "5s")
	v.SetDefault("navigator.settle_delay", "3s")

	v.SetDefault("classifier.drop_threshold_pct", 5.0)
	v.SetDefault("classifier.rise_threshold_pct", 5.0)
	v.SetDefault("classifier.severity_tiers", []float64{10, 20, 40})
	v.SetDefault("classifier.flow_threshold_pct", 80.0)
	v.SetDefault("classifier.high_volume", 10000.0)
	v.SetDefault("classifier.total_prefixes", []string{"Total", "Over", "Under"})
	v.SetDefault("classifier.late_game_minute", 80)
	v.SetDefault("classifier.corridor_width_pct", 12.0)
	v.SetDefault("classifier.value_threshold_pct", 13.0)
	v.SetDefault("classifier.limit_cut_pct", 30.0)

	v.SetDefault("controller.poll_interval", "60s")

	v.SetDefault("storage.db_path", "./data/oddsradar.db")
	v.SetDefault("storage.max_anomalies", 10000)

	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.addr", ":8080")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("console.enabled", true)
	v.SetDefault("console.table", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.Provider.FeedURL == "" {
		return fmt.Errorf("provider.feed_url is required")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	if c.Provider.RatePerSecond <= 0 {
		return fmt.Errorf("provider.rate_per_second must be positive")
	}

	if c.Navigator.MaxAttempts < 1 {
		return fmt.Errorf("navigator.max_attempts must be at least 1")
	}
	if c.Navigator.PerAttemptTimeout <= 0 {
		return fmt.Errorf("navigator.per_attempt_timeout must be positive")
	}
	if c.Navigator.InterAttemptDelay < 0 {
		return fmt.Errorf("navigator.inter_attempt_delay must not be negative")
	}
	if c.Navigator.SettleDelay < 0 {
		return fmt.Errorf("navigator.settle_delay must not be negative")
	}

	if c.Classifier.DropThresholdPct <= 0 {
		return fmt.Errorf("classifier.drop_threshold_pct must be positive")
	}
	if c.Classifier.RiseThresholdPct <= 0 {
		return fmt.Errorf("classifier.rise_threshold_pct must be positive")
	}
	if len(c.Classifier.SeverityTiers) != 3 {
		return fmt.Errorf("classifier.severity_tiers must contain exactly 3 ascending boundaries")
	}
	for i := 1; i < len(c.Classifier.SeverityTiers); i++ {
		if c.Classifier.SeverityTiers[i] <= c.Classifier.SeverityTiers[i-1] {
			return fmt.Errorf("classifier.severity_tiers must be strictly ascending")
		}
	}
	if c.Classifier.FlowThresholdPct <= 0 || c.Classifier.FlowThresholdPct >= 100 {
		return fmt.Errorf("classifier.flow_threshold_pct must be between 0 and 100")
	}
	if c.Classifier.HighVolume < 0 {
		return fmt.Errorf("classifier.high_volume must not be negative")
	}
	if c.Classifier.LateGameMinute < 1 {
		return fmt.Errorf("classifier.late_game_minute must be at least 1")
	}
	if c.Classifier.CorridorWidthPct <= 0 {
		return fmt.Errorf("classifier.corridor_width_pct must be positive")
	}
	if c.Classifier.ValueThresholdPct <= 0 {
		return fmt.Errorf("classifier.value_threshold_pct must be positive")
	}
	if c.Classifier.LimitCutPct <= 0 {
		return fmt.Errorf("classifier.limit_cut_pct must be positive")
	}

	if c.Controller.PollInterval < time.Second {
		return fmt.Errorf("controller.poll_interval must be at least 1 second")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxAnomalies < 1 {
		return fmt.Errorf("storage.max_anomalies must be at least 1")
	}

	if c.Feed.Enabled && c.Feed.Addr == "" {
		return fmt.Errorf("feed.addr is required when feed is enabled")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
