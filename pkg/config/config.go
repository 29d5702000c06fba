// Package config loads and validates pipeline configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Pipeline, Store, Redis, Postgres, Kafka, Report, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Report   ReportConfig   `yaml:"report"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Health   HealthConfig   `yaml:"health"`
}

// PipelineConfig controls the buckets, local directories and parallelism of
// a run.
type PipelineConfig struct {
	SourceBucket   string `yaml:"sourceBucket"`
	DestBucket     string `yaml:"destBucket"`
	InputDir       string `yaml:"inputDir"`
	OutputDir      string `yaml:"outputDir"`
	MaxConcurrency int    `yaml:"maxConcurrency"`
	IndexShards    int    `yaml:"indexShards"`
	KeyPrefix      string `yaml:"keyPrefix"`
	// StartIndex and EndIndex select a 1-based inclusive window of the sorted
	// source keys. Zero means unbounded.
	StartIndex int `yaml:"startIndex"`
	EndIndex   int `yaml:"endIndex"`
}

// StoreConfig selects and tunes the object-store driver.
type StoreConfig struct {
	Driver         string               `yaml:"driver"`
	Region         string               `yaml:"region"`
	Endpoint       string               `yaml:"endpoint"`
	UsePathStyle   bool                 `yaml:"usePathStyle"`
	Root           string               `yaml:"root"`
	SkipExisting   bool                 `yaml:"skipExisting"`
	CallTimeout    time.Duration        `yaml:"callTimeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// CircuitBreakerConfig controls when the store stops issuing calls after
// repeated transfer failures.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	RunComplete string `yaml:"runComplete"`
}

// ReportConfig selects where run reports are persisted: "none", "postgres"
// or "sqlite".
type ReportConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlitePath"`
}

// LedgerConfig controls the Redis upload ledger.
type LedgerConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// NotifyConfig controls the Kafka run-complete notification.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HealthConfig controls the preflight dependency checks.
type HealthConfig struct {
	Preflight bool          `yaml:"preflight"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.MaxConcurrency < 1 {
		return fmt.Errorf("pipeline.maxConcurrency must be >= 1, got %d", c.Pipeline.MaxConcurrency)
	}
	if c.Pipeline.IndexShards < 1 {
		return fmt.Errorf("pipeline.indexShards must be >= 1, got %d", c.Pipeline.IndexShards)
	}
	if c.Pipeline.StartIndex < 0 || c.Pipeline.EndIndex < 0 {
		return fmt.Errorf("pipeline key window must be non-negative")
	}
	if c.Pipeline.EndIndex > 0 && c.Pipeline.StartIndex > c.Pipeline.EndIndex {
		return fmt.Errorf("pipeline.startIndex %d is after endIndex %d", c.Pipeline.StartIndex, c.Pipeline.EndIndex)
	}
	switch c.Store.Driver {
	case "s3", "fs":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "fs" && c.Store.Root == "" {
		return fmt.Errorf("store.root is required for the fs driver")
	}
	switch c.Report.Driver {
	case "none", "postgres":
	case "sqlite":
		if c.Report.SQLitePath == "" {
			return fmt.Errorf("report.sqlitePath is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown report.driver %q", c.Report.Driver)
	}
	if c.Notify.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("notify.enabled requires kafka.brokers")
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			SourceBucket:   "pt-counts",
			DestBucket:     "pt-counts-fast",
			InputDir:       "./data/original",
			OutputDir:      "./data/transformed",
			MaxConcurrency: 16,
			IndexShards:    32,
		},
		Store: StoreConfig{
			Driver:       "s3",
			Region:       "us-east-1",
			SkipExisting: true,
			CallTimeout:  2 * time.Minute,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 20,
				ResetTimeout:     30 * time.Second,
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "tfindex",
			User:            "tfindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				RunComplete: "tfindex.run-complete",
			},
		},
		Report: ReportConfig{
			Driver: "none",
		},
		Ledger: LedgerConfig{
			TTL: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
		Health: HealthConfig{
			Preflight: true,
			Timeout:   5 * time.Second,
		},
	}
}

// applyEnvOverrides reads TFI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TFI_SOURCE_BUCKET"); v != "" {
		cfg.Pipeline.SourceBucket = v
	}
	if v := os.Getenv("TFI_DEST_BUCKET"); v != "" {
		cfg.Pipeline.DestBucket = v
	}
	if v := os.Getenv("TFI_INPUT_DIR"); v != "" {
		cfg.Pipeline.InputDir = v
	}
	if v := os.Getenv("TFI_OUTPUT_DIR"); v != "" {
		cfg.Pipeline.OutputDir = v
	}
	if v := os.Getenv("TFI_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxConcurrency = n
		}
	}
	if v := os.Getenv("TFI_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("TFI_STORE_REGION"); v != "" {
		cfg.Store.Region = v
	}
	if v := os.Getenv("TFI_STORE_ENDPOINT"); v != "" {
		cfg.Store.Endpoint = v
	}
	if v := os.Getenv("TFI_STORE_ROOT"); v != "" {
		cfg.Store.Root = v
	}
	if v := os.Getenv("TFI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TFI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TFI_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TFI_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("TFI_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("TFI_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("TFI_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TFI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TFI_REPORT_DRIVER"); v != "" {
		cfg.Report.Driver = v
	}
	if v := os.Getenv("TFI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TFI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
