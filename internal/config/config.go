package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix namespaces environment overrides, e.g. ETL_DATABASE_URL.
const EnvPrefix = "ETL_"

// Failure policies for the extract stage.
const (
	PolicyStrict     = "strict"
	PolicyBestEffort = "best_effort"
)

// Config holds all service settings. Values are layered from defaults, an
// optional YAML file, ETL_* environment variables and command-line flags.
type Config struct {
	DatabaseURL string `koanf:"database_url"`
	DBSchema    string `koanf:"db_schema"`

	APIBaseURL      string        `koanf:"api_base_url"`
	APIKey          string        `koanf:"api_key"`
	APITimeout      time.Duration `koanf:"api_timeout"`
	CallDelay       time.Duration `koanf:"call_delay"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	FailurePolicy   string        `koanf:"failure_policy"`
	SourceSystem    string        `koanf:"source_system"`

	OutputDir  string `koanf:"output_dir"`
	FilePrefix string `koanf:"file_prefix"`
	ArchiveDir string `koanf:"archive_dir"`

	MinioEndpoint  string `koanf:"minio_endpoint"`
	MinioAccessKey string `koanf:"minio_access_key"`
	MinioSecretKey string `koanf:"minio_secret_key"`
	MinioBucket    string `koanf:"minio_bucket"`
	MinioUseSSL    bool   `koanf:"minio_use_ssl"`

	RetryMaxAttempts int           `koanf:"retry_max_attempts"`
	RetryDelay       time.Duration `koanf:"retry_delay"`

	StagingBatchSize   int `koanf:"staging_batch_size"`
	WarehouseBatchSize int `koanf:"warehouse_batch_size"`

	KafkaBrokersRaw string   `koanf:"kafka_brokers"`
	KafkaBrokers    []string `koanf:"-"`
	KafkaTopic      string   `koanf:"kafka_topic"`
	WebhookURL      string   `koanf:"webhook_url"`
	AMQPURL         string   `koanf:"amqp_url"`
	AMQPQueue       string   `koanf:"amqp_queue"`

	HTTPAddr        string        `koanf:"http_addr"`
	PushgatewayURL  string        `koanf:"pushgateway_url"`
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	Locations []domain.Location `koanf:"locations"`
}

func defaults() map[string]any {
	return map[string]any{
		"db_schema":            "public",
		"api_base_url":         "https://api.weatherapi.com/v1",
		"api_timeout":          "10s",
		"call_delay":           "100ms",
		"breaker_failures":     5,
		"failure_policy":       PolicyStrict,
		"source_system":        "weatherapi",
		"output_dir":           "data",
		"file_prefix":          "weatherapi",
		"archive_dir":          "data/archive",
		"retry_max_attempts":   3,
		"retry_delay":          "15m",
		"staging_batch_size":   100,
		"warehouse_batch_size": 5000,
		"kafka_topic":          "weather-etl-notifications",
		"amqp_queue":           "weather-etl-notifications",
		"log_level":            "info",
		"log_format":           "json",
		"shutdown_timeout":     "10s",
	}
}

// Load reads configuration. path may be empty, in which case only defaults,
// environment and flags apply. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.KafkaBrokers = parseBrokers(cfg.KafkaBrokersRaw)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("ETL_DATABASE_URL is required"))
	}
	if c.FailurePolicy != PolicyStrict && c.FailurePolicy != PolicyBestEffort {
		errs = append(errs, fmt.Errorf("invalid failure_policy %q: want %s or %s", c.FailurePolicy, PolicyStrict, PolicyBestEffort))
	}
	if c.APITimeout <= 0 {
		errs = append(errs, errors.New("api_timeout must be positive"))
	}
	if c.CallDelay < 0 {
		errs = append(errs, errors.New("call_delay must not be negative"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("retry_max_attempts must be at least 1"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("retry_delay must not be negative"))
	}
	if c.StagingBatchSize < 1 {
		errs = append(errs, errors.New("staging_batch_size must be at least 1"))
	}
	if c.WarehouseBatchSize < 1 {
		errs = append(errs, errors.New("warehouse_batch_size must be at least 1"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.MinioEndpoint != "" && c.MinioBucket == "" {
		errs = append(errs, errors.New("minio_bucket is required when minio_endpoint is set"))
	}
	for i, loc := range c.Locations {
		if err := loc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("locations[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateExtract checks the settings only the extract stage needs.
func (c *Config) ValidateExtract() error {
	if c.APIKey == "" {
		return errors.New("ETL_API_KEY is required for extraction")
	}
	if len(c.Locations) == 0 {
		return errors.New("at least one location must be configured for extraction")
	}
	return nil
}

// StrictMode reports whether any entity failure fails the extract stage.
func (c *Config) StrictMode() bool {
	return c.FailurePolicy == PolicyStrict
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
