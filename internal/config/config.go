package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"churn-risk-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Inference   InferenceConfig   `mapstructure:"inference"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Insights    InsightsConfig    `mapstructure:"insights"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig covers the shared alert-dedup store. When Addr is empty the
// in-memory store is used instead.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PipelineConfig governs event processing.
type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	ShortWindow   time.Duration `mapstructure:"short_window"`
	MediumWindow  time.Duration `mapstructure:"medium_window"`
	LongWindow    time.Duration `mapstructure:"long_window"`
	TriggerEvents []string      `mapstructure:"trigger_events"`
}

// InferenceConfig describes the tiered backend chain.
type InferenceConfig struct {
	OverallTimeout time.Duration   `mapstructure:"overall_timeout"`
	Primary        PredictorConfig `mapstructure:"primary"`
	Secondary      ExplainerConfig `mapstructure:"secondary"`
	Retry          RetryConfig     `mapstructure:"retry"`
}

// PredictorConfig points at the primary scoring model endpoint.
type PredictorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExplainerConfig points at the secondary generative endpoint.
type ExplainerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RetryConfig bounds per-tier attempts.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

// AlertingConfig defines severity bands and routing. Enabled controls
// webhook delivery; when false, alerts are still routed but only logged.
type AlertingConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	CriticalScore    int           `mapstructure:"critical_score"`
	WarningScore     int           `mapstructure:"warning_score"`
	DedupWindow      time.Duration `mapstructure:"dedup_window"`
	DeliveryAttempts int           `mapstructure:"delivery_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	Webhook          WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig describes the alert sink endpoint.
type WebhookConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	AuthToken string        `mapstructure:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// InsightsConfig sets insight persistence behaviour.
type InsightsConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	PersistAttempts int           `mapstructure:"persist_attempts"`
	PersistBackoff  time.Duration `mapstructure:"persist_backoff"`
}

// MaintenanceConfig governs the retention sweep loop.
type MaintenanceConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	AlignToTick  bool          `mapstructure:"align_to_tick"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// MetricsConfig sets the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHURNWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Defaults plus environment are a complete configuration.
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "churnwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Empty defaults register the keys so environment overrides reach Unmarshal.
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.short_window", "168h")
	v.SetDefault("pipeline.medium_window", "336h")
	v.SetDefault("pipeline.long_window", "720h")
	v.SetDefault("pipeline.trigger_events", []string{
		"session_completed", "session_cancelled", "ib_call_logged", "payment_failed",
	})

	v.SetDefault("inference.overall_timeout", "30s")
	v.SetDefault("inference.primary.enabled", false)
	v.SetDefault("inference.primary.endpoint", "")
	v.SetDefault("inference.primary.model", "marketplace-health-v1")
	v.SetDefault("inference.primary.timeout", "10s")
	v.SetDefault("inference.secondary.enabled", false)
	v.SetDefault("inference.secondary.endpoint", "")
	v.SetDefault("inference.secondary.api_key", "")
	v.SetDefault("inference.secondary.model", "gpt-4o-mini")
	v.SetDefault("inference.secondary.temperature", 0.3)
	v.SetDefault("inference.secondary.max_tokens", 1000)
	v.SetDefault("inference.secondary.timeout", "30s")
	v.SetDefault("inference.retry.max_attempts", 3)
	v.SetDefault("inference.retry.backoff_base", "1s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.critical_score", 80)
	v.SetDefault("alerting.warning_score", 50)
	v.SetDefault("alerting.dedup_window", "5m")
	v.SetDefault("alerting.delivery_attempts", 3)
	v.SetDefault("alerting.retry_delay", "1s")
	v.SetDefault("alerting.webhook.endpoint", "")
	v.SetDefault("alerting.webhook.auth_token", "")
	v.SetDefault("alerting.webhook.timeout", "10s")

	v.SetDefault("insights.ttl", "2160h")
	v.SetDefault("insights.persist_attempts", 3)
	v.SetDefault("insights.persist_backoff", "1s")

	v.SetDefault("maintenance.interval", "1h")
	v.SetDefault("maintenance.align_to_tick", true)
	v.SetDefault("maintenance.startup_delay", "0s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be greater than zero")
	}
	if c.Pipeline.ShortWindow <= 0 || c.Pipeline.MediumWindow <= 0 || c.Pipeline.LongWindow <= 0 {
		return fmt.Errorf("pipeline windows must be greater than zero")
	}
	if c.Pipeline.ShortWindow > c.Pipeline.MediumWindow || c.Pipeline.MediumWindow > c.Pipeline.LongWindow {
		return fmt.Errorf("pipeline windows must be ordered short <= medium <= long")
	}
	if c.Alerting.CriticalScore < c.Alerting.WarningScore {
		return fmt.Errorf("alerting.critical_score must be at least alerting.warning_score")
	}
	if c.Alerting.Enabled && c.Alerting.Webhook.Endpoint == "" {
		return fmt.Errorf("alerting.webhook.endpoint must be configured when alerting is enabled")
	}
	if c.Inference.Primary.Enabled && c.Inference.Primary.Endpoint == "" {
		return fmt.Errorf("inference.primary.endpoint must be configured when the primary backend is enabled")
	}
	if c.Inference.Secondary.Enabled && c.Inference.Secondary.Endpoint == "" {
		return fmt.Errorf("inference.secondary.endpoint must be configured when the secondary backend is enabled")
	}
	if c.Insights.TTL <= 0 {
		return fmt.Errorf("insights.ttl must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

