package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // billing time zones must resolve on hosts without zoneinfo

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/kri5t/antaeus/pkg/billing"
	"github.com/kri5t/antaeus/pkg/payment"
	"github.com/kri5t/antaeus/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Billing       BillingConfig       `yaml:"billing"`
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Provider      ProviderConfig      `yaml:"provider"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// BillingConfig holds billing runner and scheduler settings
type BillingConfig struct {
	MaxConcurrency int    `yaml:"max_concurrency"`
	BillingDay     int    `yaml:"billing_day"`
	CronSpec       string `yaml:"cron_spec"`
	Timezone       string `yaml:"timezone"`
}

// RunnerOptions returns the runner settings an operator may tune. The retry
// policy (base timeout and retry count) is fixed by the runner itself.
func (b BillingConfig) RunnerOptions() []billing.RunnerOption {
	return []billing.RunnerOption{
		billing.WithMaxConcurrency(b.MaxConcurrency),
	}
}

// Location resolves the configured time zone
func (b BillingConfig) Location() (*time.Location, error) {
	if b.Timezone == "" || b.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(b.Timezone)
}

// ServerConfig holds the ops HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProviderConfig holds payment provider settings
type ProviderConfig struct {
	payment.SimulatedConfig `yaml:",inline"`
	CallTimeout             time.Duration `yaml:"call_timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelEnvironment    string  `yaml:"otel_environment"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"` // share of billing cycles traced
}

// Level parses LogLevel, falling back to info
func (o ObservabilityConfig) Level() logrus.Level {
	level, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() *Config {
	return &Config{
		Billing: BillingConfig{
			BillingDay: 1,
			CronSpec:   "@midnight",
			Timezone:   "Local",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: storage.DefaultConfig(),
		Provider: ProviderConfig{
			SimulatedConfig: payment.DefaultSimulatedConfig(),
			CallTimeout:     10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "text",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "antaeus",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelEnvironment:    "development",
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from the optional config file and the environment
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := getEnv("ANTAEUS_CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	loadBillingConfig(&cfg.Billing)
	loadServerConfig(&cfg.Server)
	loadStorageConfig(&cfg.Storage)
	loadProviderConfig(&cfg.Provider)
	loadObservabilityConfig(&cfg.Observability)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path onto cfg
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadBillingConfig(cfg *BillingConfig) {
	cfg.MaxConcurrency = getEnvInt("ANTAEUS_BILLING_MAX_CONCURRENCY", cfg.MaxConcurrency)
	cfg.BillingDay = getEnvInt("ANTAEUS_BILLING_DAY", cfg.BillingDay)
	cfg.CronSpec = getEnv("ANTAEUS_BILLING_CRON_SPEC", cfg.CronSpec)
	cfg.Timezone = getEnv("ANTAEUS_BILLING_TIMEZONE", cfg.Timezone)
}

func loadServerConfig(cfg *ServerConfig) {
	cfg.Host = getEnv("ANTAEUS_HOST", cfg.Host)
	cfg.Port = getEnv("ANTAEUS_OPS_PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("ANTAEUS_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("ANTAEUS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ShutdownTimeout = getEnvDuration("ANTAEUS_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
}

func loadStorageConfig(cfg *storage.Config) {
	cfg.Driver = getEnv("ANTAEUS_DB_DRIVER", cfg.Driver)
	cfg.URL = getEnv("ANTAEUS_DB_URL", cfg.URL)
	if maxConns := getEnvInt("ANTAEUS_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("ANTAEUS_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("ANTAEUS_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	// Redis config
	cfg.RedisURL = getEnv("ANTAEUS_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("ANTAEUS_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("ANTAEUS_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("ANTAEUS_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("ANTAEUS_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	cfg.DayMarkerTTL = getEnvDuration("ANTAEUS_DAY_MARKER_TTL", cfg.DayMarkerTTL)
}

func loadProviderConfig(cfg *ProviderConfig) {
	cfg.SuccessRatio = getEnvFloat("ANTAEUS_PROVIDER_SUCCESS_RATIO", cfg.SuccessRatio)
	cfg.CustomerNotFoundRatio = getEnvFloat("ANTAEUS_PROVIDER_CUSTOMER_NOT_FOUND_RATIO", cfg.CustomerNotFoundRatio)
	cfg.CurrencyMismatchRatio = getEnvFloat("ANTAEUS_PROVIDER_CURRENCY_MISMATCH_RATIO", cfg.CurrencyMismatchRatio)
	cfg.NetworkRatio = getEnvFloat("ANTAEUS_PROVIDER_NETWORK_RATIO", cfg.NetworkRatio)
	cfg.Latency = getEnvDuration("ANTAEUS_PROVIDER_LATENCY", cfg.Latency)
	cfg.Seed = getEnvInt64("ANTAEUS_PROVIDER_SEED", cfg.Seed)
	cfg.CallTimeout = getEnvDuration("ANTAEUS_PROVIDER_CALL_TIMEOUT", cfg.CallTimeout)
}

func loadObservabilityConfig(cfg *ObservabilityConfig) {
	cfg.LogLevel = getEnv("ANTAEUS_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("ANTAEUS_LOG_FORMAT", cfg.LogFormat)
	cfg.MetricsEnabled = getEnvBool("ANTAEUS_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.OTelEnabled = getEnvBool("ANTAEUS_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("ANTAEUS_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelServiceName = getEnv("ANTAEUS_OTEL_SERVICE_NAME", cfg.OTelServiceName)
	cfg.OTelServiceVersion = getEnv("ANTAEUS_OTEL_SERVICE_VERSION", cfg.OTelServiceVersion)
	cfg.OTelInsecure = getEnvBool("ANTAEUS_OTEL_INSECURE", cfg.OTelInsecure)
	cfg.OTelEnvironment = getEnv("ANTAEUS_OTEL_ENVIRONMENT", cfg.OTelEnvironment)
	cfg.OTelSampleRatio = getEnvFloat("ANTAEUS_OTEL_SAMPLE_RATIO", cfg.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate billing config
	if c.Billing.MaxConcurrency < 0 {
		return errors.New("billing max concurrency must not be negative")
	}
	if c.Billing.BillingDay < 1 || c.Billing.BillingDay > 31 {
		return fmt.Errorf("billing day must be between 1 and 31, got %d", c.Billing.BillingDay)
	}
	if _, err := cron.ParseStandard(c.Billing.CronSpec); err != nil {
		return fmt.Errorf("invalid billing cron spec %q: %w", c.Billing.CronSpec, err)
	}
	if _, err := c.Billing.Location(); err != nil {
		return fmt.Errorf("invalid billing timezone: %w", err)
	}

	// Validate server config
	if c.Server.Port == "" {
		return errors.New("ops server port is required")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if c.Provider.CallTimeout < 0 {
		return errors.New("provider call timeout must not be negative")
	}

	// Validate observability config
	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch c.Observability.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", c.Observability.LogFormat)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", c.Observability.OTelSampleRatio)
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
