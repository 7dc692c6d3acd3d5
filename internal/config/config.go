// Package config defines the configuration of the KeyIP-RGD services. Types
// and validation live here; loading is in loader.go.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/KeyIP-RGD/internal/domain/rgroup"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// FingerprintConfig controls fragment fingerprints and their shared cache.
type FingerprintConfig struct {
	Radius int `mapstructure:"radius"`
	Length int `mapstructure:"length"`

	// Cache enables the Redis fingerprint cache.
	Cache    bool          `mapstructure:"cache"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// KafkaConfig holds job consumer and result producer parameters.
type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	GroupID     string        `mapstructure:"group_id"`
	JobTopic    string        `mapstructure:"job_topic"`
	ResultTopic string        `mapstructure:"result_topic"`
	DLQTopic    string        `mapstructure:"dlq_topic"`
	MinBytes    int           `mapstructure:"min_bytes"`
	MaxBytes    int           `mapstructure:"max_bytes"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
	BatchSize   int           `mapstructure:"batch_size"`
}

// MinIOConfig holds object storage parameters for result exports.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// WorkerConfig holds job worker parameters.
type WorkerConfig struct {
	// Concurrency bounds parallel molecule registration within a job.
	Concurrency  int           `mapstructure:"concurrency"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration of the decompose CLI and the worker.
type Config struct {
	Decomposition rgroup.Options    `mapstructure:"decomposition"`
	Fingerprint   FingerprintConfig `mapstructure:"fingerprint"`
	Log           logging.LogConfig `mapstructure:"log"`
	Metrics       MetricsConfig     `mapstructure:"metrics"`
	Redis         RedisConfig       `mapstructure:"redis"`
	Postgres      PostgresConfig    `mapstructure:"postgres"`
	Kafka         KafkaConfig       `mapstructure:"kafka"`
	MinIO         MinIOConfig       `mapstructure:"minio"`
	Worker        WorkerConfig      `mapstructure:"worker"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate checks a fully defaulted Config and returns the first problem.
func (c *Config) Validate() error {
	if err := c.Decomposition.Validate(); err != nil {
		return fmt.Errorf("config: decomposition: %w", err)
	}

	if c.Fingerprint.Radius < 0 || c.Fingerprint.Length < 8 {
		return fmt.Errorf("config: fingerprint radius %d / length %d out of range", c.Fingerprint.Radius, c.Fingerprint.Length)
	}
	if c.Fingerprint.Cache && c.Redis.Addr == "" {
		return fmt.Errorf("config: fingerprint.cache requires redis.addr")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if c.Postgres.Enabled {
		if c.Postgres.Host == "" || c.Postgres.DBName == "" {
			return fmt.Errorf("config: postgres.host and postgres.db_name are required")
		}
		if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
			return fmt.Errorf("config: postgres.port %d is out of range [1, 65535]", c.Postgres.Port)
		}
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
	}
	if c.Kafka.JobTopic == "" || c.Kafka.ResultTopic == "" {
		return fmt.Errorf("config: kafka.job_topic and kafka.result_topic are required")
	}

	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		return fmt.Errorf("config: minio.endpoint and minio.bucket are required")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be ≥ 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("config: worker.max_retries must be ≥ 0, got %d", c.Worker.MaxRetries)
	}
	return nil
}
