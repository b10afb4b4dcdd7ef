package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/kurve-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Kurve      KurveConfig      `yaml:"kurve" mapstructure:"kurve"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Merge      MergeConfig      `yaml:"merge" mapstructure:"merge"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. Driver is "sqlite" (Path)
// or "postgres" (DatabaseURL).
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// KurveConfig holds Kurve portal API settings.
type KurveConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Token            string  `yaml:"token" mapstructure:"token"`
	Account          string  `yaml:"account" mapstructure:"account"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// IngestConfig sets how many pages are fetched per granularity, newest
// page included.
type IngestConfig struct {
	HourlyPages  int `yaml:"hourly_pages" mapstructure:"hourly_pages"`
	DailyPages   int `yaml:"daily_pages" mapstructure:"daily_pages"`
	WeeklyPages  int `yaml:"weekly_pages" mapstructure:"weekly_pages"`
	MonthlyPages int `yaml:"monthly_pages" mapstructure:"monthly_pages"`
}

// Pages returns the page counts keyed by granularity.
func (c IngestConfig) Pages() map[model.Granularity]int {
	return map[model.Granularity]int{
		model.Hourly:  c.HourlyPages,
		model.Daily:   c.DailyPages,
		model.Weekly:  c.WeeklyPages,
		model.Monthly: c.MonthlyPages,
	}
}

// MergeConfig configures store consolidation.
type MergeConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	Output      string `yaml:"output" mapstructure:"output"`
	Pattern     string `yaml:"pattern" mapstructure:"pattern"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures health checks and alerting.
type MonitoringConfig struct {
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	StaleDataHours      int    `yaml:"stale_data_hours" mapstructure:"stale_data_hours"`
	MismatchThreshold   int    `yaml:"mismatch_threshold" mapstructure:"mismatch_threshold"`
}

// MetricsConfig configures Prometheus textfile output for batch commands.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KURVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("kurve.token", "KURVE_TOKEN", "KURVE_KURVE_TOKEN")
	_ = v.BindEnv("kurve.account", "KURVE_ACCOUNT", "KURVE_KURVE_ACCOUNT")

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "water_usage.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("kurve.base_url", "https://api.mykurve.com")
	v.SetDefault("kurve.token", "")
	v.SetDefault("kurve.account", "")
	v.SetDefault("kurve.user_agent", "")
	v.SetDefault("kurve.timeout_secs", 3)
	v.SetDefault("kurve.max_retries", 3)
	v.SetDefault("kurve.initial_backoff_ms", 500)
	v.SetDefault("kurve.max_backoff_ms", 10000)
	v.SetDefault("kurve.rate_per_sec", 2.0)
	v.SetDefault("ingest.hourly_pages", 7)
	v.SetDefault("ingest.daily_pages", 4)
	v.SetDefault("ingest.weekly_pages", 6)
	v.SetDefault("ingest.monthly_pages", 3)
	v.SetDefault("merge.dir", ".")
	v.SetDefault("merge.output", "water_usage_merged.db")
	v.SetDefault("merge.pattern", "*.db")
	v.SetDefault("merge.concurrency", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.stale_data_hours", 48)
	v.SetDefault("monitoring.mismatch_threshold", 50)
	v.SetDefault("metrics.textfile_path", "")
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

// Validate checks the settings a command mode depends on. Modes are
// "ingest", "merge", "serve" and "status"; every mode checks the store.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" && mode != "merge" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	switch mode {
	case "ingest":
		if c.Kurve.Token == "" {
			errs = append(errs, "kurve.token is required")
		}
		if c.Kurve.TimeoutSecs <= 0 {
			errs = append(errs, "kurve.timeout_secs must be positive")
		}
		if c.Kurve.RatePerSec <= 0 {
			errs = append(errs, "kurve.rate_per_sec must be positive")
		}
		for g, n := range c.Ingest.Pages() {
			if n < 0 {
				errs = append(errs, fmt.Sprintf("ingest.%s_pages must not be negative", g))
			}
		}
	case "merge":
		if c.Merge.Output == "" {
			errs = append(errs, "merge.output is required")
		}
		if c.Merge.Concurrency < 1 || c.Merge.Concurrency > 64 {
			errs = append(errs, "merge.concurrency must be between 1 and 64")
		}
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
		}
	case "status":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

const redacted = "[redacted]"

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() Config {
	if c.Kurve.Token != "" {
		c.Kurve.Token = redacted
	}
	if c.Store.DatabaseURL != "" {
		c.Store.DatabaseURL = redacted
	}
	if c.Monitoring.WebhookURL != "" {
		c.Monitoring.WebhookURL = redacted
	}
	c.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return c
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
