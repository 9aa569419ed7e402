// Package config handles configuration loading and validation for poolwatch.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/pools"
)

// Config holds all configuration for poolwatch
type Config struct {
	Poll      PollConfig      `mapstructure:"poll"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Prices    PricesConfig    `mapstructure:"prices"`
	Alerts    alerts.Settings `mapstructure:"alerts"`
	Wallets   []WalletConfig  `mapstructure:"wallets"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	API       APIConfig       `mapstructure:"api"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	NewRelic  NewRelicConfig  `mapstructure:"newrelic"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	Log       LogConfig       `mapstructure:"log"`
}

// PollConfig defines the polling loop
type PollConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	WorkerOfflineAfter time.Duration `mapstructure:"worker_offline_after"`
	RunOnStart         bool          `mapstructure:"run_on_start"`
}

// HTTPConfig defines outbound pool requests
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// PricesConfig defines the price API
type PricesConfig struct {
	URL           string        `mapstructure:"url"`
	APIKey        string        `mapstructure:"api_key"`
	TTL           time.Duration `mapstructure:"ttl"`
	IncludeChange bool          `mapstructure:"include_change"`
}

// WalletConfig is one watched wallet
type WalletConfig struct {
	ID      string `mapstructure:"id" json:"id"`
	Label   string `mapstructure:"label" json:"label,omitempty"`
	Pool    string `mapstructure:"pool" json:"pool"`
	Coin    string `mapstructure:"coin" json:"coin"`
	Address string `mapstructure:"address" json:"address"`
}

// StorageConfig selects the state backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NotifyConfig defines webhook notification settings
type NotifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DiscordURL   string `mapstructure:"discord_url"`
	TelegramURL  string `mapstructure:"telegram_url"`
	TelegramBot  string `mapstructure:"telegram_bot"`
	TelegramChat string `mapstructure:"telegram_chat"`
	DashboardURL string `mapstructure:"dashboard_url"`
}

// APIConfig defines API server settings
type APIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Bind        string        `mapstructure:"bind"`
	StatsCache  time.Duration `mapstructure:"stats_cache"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	WebSocket   bool          `mapstructure:"websocket"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// NewRelicConfig defines New Relic APM settings
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
}

// ProfilingConfig enables pprof routes on the API server
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory is loaded first if present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/poolwatch")
	}

	// Read environment variables
	v.SetEnvPrefix("POOLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for i := range cfg.Wallets {
		w := &cfg.Wallets[i]
		w.Pool = strings.ToLower(strings.TrimSpace(w.Pool))
		w.Coin = strings.ToLower(strings.TrimSpace(w.Coin))
		w.Address = strings.TrimSpace(w.Address)
		if w.ID == "" {
			w.ID = fmt.Sprintf("%s-%s-%d", w.Pool, w.Coin, i+1)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Poll defaults
	v.SetDefault("poll.interval", "5m")
	v.SetDefault("poll.stale_after", "2h")
	v.SetDefault("poll.worker_offline_after", "10m")
	v.SetDefault("poll.run_on_start", true)

	// HTTP defaults
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.user_agent", "poolwatch/1.0")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_base_delay", "1s")

	// Price defaults
	v.SetDefault("prices.url", "https://api.coingecko.com/api/v3/simple/price")
	v.SetDefault("prices.ttl", "5m")
	v.SetDefault("prices.include_change", true)

	// Alert defaults
	v.SetDefault("alerts.worker_offline", true)
	v.SetDefault("alerts.back_online", true)
	v.SetDefault("alerts.profit_drop", true)
	v.SetDefault("alerts.profit_drop_threshold", alerts.DefaultProfitDropThreshold)

	// Storage defaults
	v.SetDefault("storage.driver", "redis")
	v.SetDefault("storage.dsn", "poolwatch.db")

	// Redis defaults
	v.SetDefault("redis.url", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	// Notify defaults
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.telegram_url", "https://api.telegram.org")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", "0.0.0.0:8080")
	v.SetDefault("api.stats_cache", "30s")
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.websocket", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// New Relic defaults
	v.SetDefault("newrelic.enabled", false)
	v.SetDefault("newrelic.app_name", "poolwatch")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}

	if c.Poll.StaleAfter <= 0 {
		return fmt.Errorf("poll.stale_after must be positive")
	}

	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}

	if c.HTTP.MaxRetries < 1 {
		return fmt.Errorf("http.max_retries must be at least 1")
	}

	if c.Prices.TTL <= 0 {
		return fmt.Errorf("prices.ttl must be positive")
	}

	if c.Alerts.ProfitDropThreshold <= 0 || c.Alerts.ProfitDropThreshold > 100 {
		return fmt.Errorf("alerts.profit_drop_threshold must be in (0, 100]")
	}

	switch c.Storage.Driver {
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis driver")
		}
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be redis, sqlite or postgres")
	}

	if c.Notify.Enabled && c.Notify.DiscordURL == "" && (c.Notify.TelegramBot == "" || c.Notify.TelegramChat == "") {
		return fmt.Errorf("notify.enabled requires discord_url or telegram_bot and telegram_chat")
	}

	if c.NewRelic.Enabled && c.NewRelic.LicenseKey == "" {
		return fmt.Errorf("newrelic.license_key is required when newrelic is enabled")
	}

	registry := pools.DefaultRegistry()
	seen := make(map[string]bool, len(c.Wallets))
	for i, w := range c.Wallets {
		if seen[w.ID] {
			return fmt.Errorf("wallets[%d]: duplicate id %q", i, w.ID)
		}
		seen[w.ID] = true

		if w.Address == "" {
			return fmt.Errorf("wallets[%d]: address is required", i)
		}
		if _, _, err := registry.Resolve(w.Pool, w.Coin); err != nil {
			return fmt.Errorf("wallets[%d]: %w", i, err)
		}
	}

	return nil
}

// Wallet returns the wallet with the given id.
func (c *Config) Wallet(id string) (WalletConfig, bool) {
	for _, w := range c.Wallets {
		if w.ID == id {
			return w, true
		}
	}
	return WalletConfig{}, false
}
