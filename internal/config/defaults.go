package config

import (
	"time"

	"github.com/turtacn/KeyIP-RGD/internal/domain/molgraph"
	"github.com/turtacn/KeyIP-RGD/internal/domain/rgroup"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsAddr      = ":9091"
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "rgd"

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "rgd:"
	DefaultFingerprintTTL = 24 * time.Hour

	DefaultDBHost = "localhost"
	DefaultDBPort = 5432
	DefaultDBName = "rgd"

	DefaultKafkaBroker      = "localhost:9092"
	DefaultKafkaGroupID     = "rgd-workers"
	DefaultKafkaJobTopic    = "rgd.jobs"
	DefaultKafkaResultTopic = "rgd.results"
	DefaultKafkaDLQTopic    = "rgd.jobs.dlq"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "rgd-results"

	DefaultWorkerConcurrency = 8
	DefaultWorkerMaxRetries  = 3
	DefaultWorkerBackoff     = 2 * time.Second
	DefaultJobTimeout        = 10 * time.Minute
)

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-value field in cfg with its default. Fields
// already set are left unchanged; booleans stay as given.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Decomposition ─────────────────────────────────────────────────────────
	def := rgroup.DefaultOptions()
	d := &cfg.Decomposition
	if d.MatchingStrategy == "" {
		d.MatchingStrategy = def.MatchingStrategy
	}
	if d.ScoreMethod == "" {
		d.ScoreMethod = def.ScoreMethod
	}
	if d.ChunkSize == 0 {
		d.ChunkSize = def.ChunkSize
	}
	if d.MaxMatchesPerCore == 0 {
		d.MaxMatchesPerCore = def.MaxMatchesPerCore
	}
	if d.MaxCandidatesPerMolecule == 0 {
		d.MaxCandidatesPerMolecule = def.MaxCandidatesPerMolecule
	}
	if d.MaxTautomers == 0 {
		d.MaxTautomers = def.MaxTautomers
	}

	// ── Fingerprint ───────────────────────────────────────────────────────────
	if cfg.Fingerprint.Radius == 0 {
		cfg.Fingerprint.Radius = molgraph.DefaultMorganRadius
	}
	if cfg.Fingerprint.Length == 0 {
		cfg.Fingerprint.Length = molgraph.DefaultMorganBits
	}
	if cfg.Fingerprint.CacheTTL == 0 {
		cfg.Fingerprint.CacheTTL = DefaultFingerprintTTL
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}

	// ── Postgres ──────────────────────────────────────────────────────────────
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = DefaultDBHost
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = DefaultDBPort
	}
	if cfg.Postgres.DBName == "" {
		cfg.Postgres.DBName = DefaultDBName
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 10
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.JobTopic == "" {
		cfg.Kafka.JobTopic = DefaultKafkaJobTopic
	}
	if cfg.Kafka.ResultTopic == "" {
		cfg.Kafka.ResultTopic = DefaultKafkaResultTopic
	}
	if cfg.Kafka.DLQTopic == "" {
		cfg.Kafka.DLQTopic = DefaultKafkaDLQTopic
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = DefaultWorkerMaxRetries
	}
	if cfg.Worker.RetryBackoff == 0 {
		cfg.Worker.RetryBackoff = DefaultWorkerBackoff
	}
	if cfg.Worker.JobTimeout == 0 {
		cfg.Worker.JobTimeout = DefaultJobTimeout
	}
}
