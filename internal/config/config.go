// Package config handles configuration loading and validation for the
// stats server.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the stats server.
type Config struct {
	Bus       BusConfig       `mapstructure:"bus"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Flush     FlushConfig     `mapstructure:"flush"`
	API       APIConfig       `mapstructure:"api"`
	ShareLog  ShareLogConfig  `mapstructure:"sharelog"`
	DB        DBConfig        `mapstructure:"db"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Guard     GuardConfig     `mapstructure:"guard"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	NewRelic  NewRelicConfig  `mapstructure:"newrelic"`
	Log       LogConfig       `mapstructure:"log"`
}

// BusConfig defines the Redis Streams connection and consumer-group identity.
type BusConfig struct {
	Addr            string `mapstructure:"addr"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	Stream          string `mapstructure:"stream"`
	LiveGroup       string `mapstructure:"live_group"`
	ShareLogGroup   string `mapstructure:"sharelog_group"`
	ConsumerName    string `mapstructure:"consumer_name"`
}

// RegistryConfig defines worker-idle and sweep timing.
type RegistryConfig struct {
	IdleSeconds   int64         `mapstructure:"idle_seconds"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// FlushConfig defines the DBFlusher's batching and alerting behavior.
type FlushConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	IdleSeconds     int64         `mapstructure:"idle_seconds"`
	AlertAfterFails int           `mapstructure:"alert_after_fails"`
}

// APIConfig defines the query API's bind address.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// ShareLogConfig defines the sharelog writer's buffering thresholds and
// storage directory.
type ShareLogConfig struct {
	DataDir       string        `mapstructure:"data_dir"`
	FlushSize     int           `mapstructure:"flush_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// DBConfig defines the relational storage endpoints and health-check
// behavior backing storage.Pool.
type DBConfig struct {
	Primary            string        `mapstructure:"primary"`
	Replicas           []string      `mapstructure:"replicas"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	HealthCheckTimeout  time.Duration `mapstructure:"health_check_timeout"`
	MaxFailures         int           `mapstructure:"max_failures"`
	RecoveryThreshold   int           `mapstructure:"recovery_threshold"`
}

// NotifyConfig defines webhook alerting destinations.
type NotifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DiscordURL   string `mapstructure:"discord_url"`
	TelegramBot  string `mapstructure:"telegram_bot"`
	TelegramChat string `mapstructure:"telegram_chat"`
	PoolName     string `mapstructure:"pool_name"`
}

// GuardConfig defines the malformed-share IP scoring thresholds.
type GuardConfig struct {
	CostMalformed  int32         `mapstructure:"cost_malformed"`
	MaxScore       int32         `mapstructure:"max_score"`
	ScoreResetTime time.Duration `mapstructure:"score_reset_time"`
	ResetInterval  time.Duration `mapstructure:"reset_interval"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
}

// ProfilingConfig defines the pprof debug server's settings.
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// NewRelicConfig defines New Relic APM agent settings.
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/statsserver")
	}

	v.SetEnvPrefix("STATS")
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Bus defaults
	v.SetDefault("bus.addr", "127.0.0.1:6379")
	v.SetDefault("bus.db", 0)
	v.SetDefault("bus.stream", "shares")
	v.SetDefault("bus.live_group", "stats-live")
	v.SetDefault("bus.sharelog_group", "stats-sharelog")
	v.SetDefault("bus.consumer_name", "statsserver-1")

	// Registry defaults
	v.SetDefault("registry.idle_seconds", 3600)
	v.SetDefault("registry.sweep_interval", "60s")

	// Flush defaults
	v.SetDefault("flush.interval", "15s")
	v.SetDefault("flush.idle_seconds", 3600)
	v.SetDefault("flush.alert_after_fails", 3)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", "0.0.0.0:8080")

	// ShareLog defaults
	v.SetDefault("sharelog.data_dir", "./data/sharelog")
	v.SetDefault("sharelog.flush_size", 8000)
	v.SetDefault("sharelog.flush_interval", "1s")

	// DB defaults
	v.SetDefault("db.primary", "./data/stats.db")
	v.SetDefault("db.health_check_interval", "10s")
	v.SetDefault("db.health_check_timeout", "2s")
	v.SetDefault("db.max_failures", 3)
	v.SetDefault("db.recovery_threshold", 2)

	// Notify defaults
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.pool_name", "Stats Server")

	// Guard defaults
	v.SetDefault("guard.cost_malformed", 5)
	v.SetDefault("guard.max_score", 100)
	v.SetDefault("guard.score_reset_time", "10m")
	v.SetDefault("guard.reset_interval", "1m")
	v.SetDefault("guard.stale_after", "30m")

	// Profiling defaults
	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.bind", "0.0.0.0:6060")

	// New Relic defaults
	v.SetDefault("newrelic.enabled", false)
	v.SetDefault("newrelic.app_name", "Stats Server")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Bus.Stream == "" {
		return fmt.Errorf("bus.stream is required")
	}

	if c.Bus.LiveGroup == "" || c.Bus.ShareLogGroup == "" {
		return fmt.Errorf("bus.live_group and bus.sharelog_group are required")
	}

	if c.Registry.IdleSeconds <= 0 {
		return fmt.Errorf("registry.idle_seconds must be positive")
	}

	if c.DB.Primary == "" {
		return fmt.Errorf("db.primary is required")
	}

	if c.DB.MaxFailures <= 0 {
		return fmt.Errorf("db.max_failures must be positive")
	}

	if c.API.Enabled && c.API.Bind == "" {
		return fmt.Errorf("api.bind is required when api is enabled")
	}

	if c.ShareLog.DataDir == "" {
		return fmt.Errorf("sharelog.data_dir is required")
	}

	if c.NewRelic.Enabled && c.NewRelic.LicenseKey == "" {
		return fmt.Errorf("newrelic.license_key is required when newrelic is enabled")
	}

	return nil
}
