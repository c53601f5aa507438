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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Browser   BrowserConfig   `yaml:"browser" mapstructure:"browser"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Run       RunConfig       `yaml:"run" mapstructure:"run"`
	Prompts   PromptsConfig   `yaml:"prompts" mapstructure:"prompts"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Request    RequestConfig    `yaml:"request" mapstructure:"request"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the durable Postgres store.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the two-tier scrape cache.
type CacheConfig struct {
	FastDSN     string `yaml:"fast_dsn" mapstructure:"fast_dsn"`
	TTLScraping int    `yaml:"ttl_scraping" mapstructure:"ttl_scraping"` // seconds
}

// TTL returns the scrape-cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLScraping) * time.Second
}

// OpenAIConfig holds LLM provider settings.
type OpenAIConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	Timeout     int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff     int    `yaml:"backoff" mapstructure:"backoff"` // seconds, doubles per retry
}

// BrowserConfig configures the headless browser pool.
type BrowserConfig struct {
	PoolSize        int    `yaml:"pool_size" mapstructure:"pool_size"`
	AcquireTimeout  int    `yaml:"acquire_timeout" mapstructure:"acquire_timeout"`     // seconds
	PageLoadTimeout int    `yaml:"page_load_timeout" mapstructure:"page_load_timeout"` // seconds
	Headless        bool   `yaml:"headless" mapstructure:"headless"`
	ChromePath      string `yaml:"chrome_path" mapstructure:"chrome_path"`
}

// ScrapeConfig configures the scrape pipeline.
type ScrapeConfig struct {
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
	ProbeTimeout    int     `yaml:"probe_timeout" mapstructure:"probe_timeout"` // seconds
	MinPages        int     `yaml:"min_pages" mapstructure:"min_pages"`
	DedupeThreshold float64 `yaml:"dedupe_threshold" mapstructure:"dedupe_threshold"`
}

// RunConfig configures run lifecycle.
type RunConfig struct {
	ExpirationDays int `yaml:"expiration_days" mapstructure:"expiration_days"`
	ReapInterval   int `yaml:"reap_interval" mapstructure:"reap_interval"`   // minutes
	GaugeInterval  int `yaml:"gauge_interval" mapstructure:"gauge_interval"` // seconds
}

// PromptsConfig points at an optional prompt-pack override file.
type PromptsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string   `yaml:"addr" mapstructure:"addr"`
	APIKey      string   `yaml:"api_key" mapstructure:"api_key"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// RateLimitConfig configures per-client throttling.
type RateLimitConfig struct {
	Max int `yaml:"max" mapstructure:"max"` // requests per minute per (ip, key)
}

// RequestConfig configures per-request behavior.
type RequestConfig struct {
	Timeout int `yaml:"timeout" mapstructure:"timeout"` // milliseconds, end-to-end
}

// MetricsConfig configures the request-log retention.
type MetricsConfig struct {
	APILogRetentionDays int `yaml:"api_log_retention_days" mapstructure:"api_log_retention_days"`
}

// MonitoringConfig configures the background alert checker. Alerts are
// delivered to WebhookURL; an empty URL disables delivery but the checker
// still logs threshold breaches.
type MonitoringConfig struct {
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	ErrorRateThreshold  float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	LatencyThresholdMS  int     `yaml:"latency_threshold_ms" mapstructure:"latency_threshold_ms"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// BatchConfig configures offline batch processing.
type BatchConfig struct {
	MaxConcurrentBrands int `yaml:"max_concurrent_brands" mapstructure:"max_concurrent_brands"`
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
	v.SetEnvPrefix("BRANDINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.fast_dsn", ":memory:")
	v.SetDefault("cache.ttl_scraping", 86400)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 60)
	v.SetDefault("openai.max_attempts", 3)
	v.SetDefault("openai.backoff", 2)
	v.SetDefault("browser.pool_size", 3)
	v.SetDefault("browser.acquire_timeout", 30)
	v.SetDefault("browser.page_load_timeout", 15)
	v.SetDefault("browser.headless", true)
	v.SetDefault("scrape.concurrency", 5)
	v.SetDefault("scrape.probe_timeout", 5)
	v.SetDefault("scrape.min_pages", 3)
	v.SetDefault("scrape.dedupe_threshold", 0.8)
	v.SetDefault("run.expiration_days", 7)
	v.SetDefault("run.reap_interval", 60)
	v.SetDefault("run.gauge_interval", 60)
	v.SetDefault("rate_limit.max", 20)
	v.SetDefault("request.timeout", 120000)
	v.SetDefault("metrics.api_log_retention_days", 30)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 1)
	v.SetDefault("monitoring.error_rate_threshold", 0.1)
	v.SetDefault("monitoring.latency_threshold_ms", 30000)
	v.SetDefault("batch.max_concurrent_brands", 3)

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

// Validate checks that the fields required for the given mode are set.
// Modes: "serve" (full HTTP service), "batch" (offline pipeline runs),
// "migrate" (store DDL only).
func (c *Config) Validate(mode string) error {
	var missing []string

	needStore := func() {
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required (BRANDINTEL_STORE_DATABASE_URL)")
		}
	}
	needLLM := func() {
		if c.OpenAI.APIKey == "" {
			missing = append(missing, "openai.api_key is required (BRANDINTEL_OPENAI_API_KEY)")
		}
	}

	switch mode {
	case "serve":
		needStore()
		needLLM()
		if c.Server.APIKey == "" {
			missing = append(missing, "server.api_key is required (BRANDINTEL_SERVER_API_KEY)")
		}
		if c.RateLimit.Max <= 0 {
			missing = append(missing, "rate_limit.max must be > 0")
		}
		if c.Request.Timeout <= 0 {
			missing = append(missing, "request.timeout must be > 0")
		}
	case "batch":
		needStore()
		needLLM()
	case "migrate":
		needStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Browser.PoolSize < 1 || c.Browser.PoolSize > 32 {
		missing = append(missing, "browser.pool_size must be between 1 and 32")
	}
	if c.Scrape.Concurrency < 1 || c.Scrape.Concurrency > 50 {
		missing = append(missing, "scrape.concurrency must be between 1 and 50")
	}
	if c.Scrape.DedupeThreshold < 0 || c.Scrape.DedupeThreshold > 1 {
		missing = append(missing, "scrape.dedupe_threshold must be within [0, 1]")
	}
	if c.Run.ExpirationDays < 1 {
		missing = append(missing, "run.expiration_days must be >= 1")
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
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

// Redact masks a secret for logging, keeping only the last four characters.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
