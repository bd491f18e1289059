package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	JobSearch  JobSearchConfig  `yaml:"jobsearch" mapstructure:"jobsearch"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer" mapstructure:"analyzer"`
	Tier       TierConfig       `yaml:"tier" mapstructure:"tier"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// JobSearchConfig holds job-search provider API settings.
type JobSearchConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Host           string  `yaml:"host" mapstructure:"host"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	PageLimit      int     `yaml:"page_limit" mapstructure:"page_limit"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// AnthropicConfig holds Anthropic API settings for posting classification.
type AnthropicConfig struct {
	Key                 string `yaml:"key" mapstructure:"key"`
	Model               string `yaml:"model" mapstructure:"model"`
	NoBatch             bool   `yaml:"no_batch" mapstructure:"no_batch"`
	SmallBatchThreshold int    `yaml:"small_batch_threshold" mapstructure:"small_batch_threshold"`
}

// PipelineConfig holds the windows that encode the cost/freshness tradeoff.
// Both are operator-tunable, never hard-coded at call sites.
type PipelineConfig struct {
	StalenessWindowDays int `yaml:"staleness_window_days" mapstructure:"staleness_window_days"`
	SkipWindowDays      int `yaml:"skip_window_days" mapstructure:"skip_window_days"`
}

// StalenessWindow returns the minimum age before a term is re-scraped.
func (c PipelineConfig) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessWindowDays) * 24 * time.Hour
}

// SkipWindow returns the minimum age before an identified company is
// re-evaluated.
func (c PipelineConfig) SkipWindow() time.Duration {
	return time.Duration(c.SkipWindowDays) * 24 * time.Hour
}

// SchedulerConfig configures scrape dispatch.
type SchedulerConfig struct {
	CronSpec    string `yaml:"cron_spec" mapstructure:"cron_spec"`
	LockTTLSecs int    `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// AnalyzerConfig configures the analysis drain loop.
type AnalyzerConfig struct {
	IntervalMinutes int `yaml:"interval_minutes" mapstructure:"interval_minutes"`
	BatchSize       int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxConcurrency  int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	MaxRetries      int `yaml:"max_retries" mapstructure:"max_retries"`
}

// TierConfig configures tier classification.
type TierConfig struct {
	ReferenceFile   string `yaml:"reference_file" mapstructure:"reference_file"`
	MinSubstringLen int    `yaml:"min_substring_len" mapstructure:"min_substring_len"`
}

// MonitoringConfig configures the health checker and webhook alerter.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	DegradedBacklog      int     `yaml:"degraded_backlog" mapstructure:"degraded_backlog"`
	CriticalBacklog      int     `yaml:"critical_backlog" mapstructure:"critical_backlog"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// SalesforceConfig holds Salesforce JWT auth settings for lead export.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("TOOLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("jobsearch.host", "jsearch.p.rapidapi.com")
	v.SetDefault("jobsearch.base_url", "https://jsearch.p.rapidapi.com")
	v.SetDefault("jobsearch.page_limit", 3)
	v.SetDefault("jobsearch.timeout_secs", 30)
	v.SetDefault("jobsearch.requests_per_sec", 1)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.small_batch_threshold", 8)
	v.SetDefault("pipeline.staleness_window_days", 7)
	v.SetDefault("pipeline.skip_window_days", 90)
	v.SetDefault("scheduler.cron_spec", "@every 10m")
	v.SetDefault("scheduler.lock_ttl_secs", 900)
	v.SetDefault("analyzer.interval_minutes", 5)
	v.SetDefault("analyzer.batch_size", 100)
	v.SetDefault("analyzer.max_concurrency", 5)
	v.SetDefault("analyzer.max_retries", 5)
	v.SetDefault("tier.min_substring_len", 4)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.degraded_backlog", 5000)
	v.SetDefault("monitoring.critical_backlog", 20000)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5)
	v.SetDefault("server.port", 8080)
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

// Validate checks that the settings required by the named subsystem are
// present. A missing credential is a configuration error for that
// subsystem only; other subsystems keep functioning.
func (c *Config) Validate(subsystem string) error {
	switch subsystem {
	case "ingest":
		if c.JobSearch.Key == "" {
			return eris.New("config: jobsearch.key is required (TOOLWATCH_JOBSEARCH_KEY)")
		}
	case "analyze":
		if c.Anthropic.Key == "" {
			return eris.New("config: anthropic.key is required (TOOLWATCH_ANTHROPIC_KEY)")
		}
	case "leads":
		if c.Salesforce.ClientID == "" || c.Salesforce.Username == "" || c.Salesforce.KeyPath == "" {
			return eris.New("config: salesforce client_id, username and key_path are required for lead export")
		}
	}
	if c.Store.DatabaseURL == "" && c.Store.Driver == "postgres" {
		return eris.New("config: store.database_url is required (TOOLWATCH_STORE_DATABASE_URL)")
	}
	return nil
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
