package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-RGD/internal/domain/rgroup"
)

const validConfigYAML = `
decomposition:
  matching_strategy: Exhaustive
  score_method: Match
  only_match_at_rgroups: true
  do_tautomers: true
  chunk_size: 3
  timeout: 30s
fingerprint:
  radius: 3
  cache: true
log:
  level: debug
  format: console
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  job_topic: jobs
  result_topic: results
worker:
  concurrency: 4
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := Load(WithConfigPath(createTempConfigFile(t, validConfigYAML)))
	require.NoError(t, err)

	assert.Equal(t, rgroup.Exhaustive, cfg.Decomposition.MatchingStrategy)
	assert.Equal(t, rgroup.MatchScore, cfg.Decomposition.ScoreMethod)
	assert.True(t, cfg.Decomposition.OnlyMatchAtRGroups)
	assert.True(t, cfg.Decomposition.DoTautomers)
	assert.Equal(t, 3, cfg.Decomposition.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Decomposition.Timeout)
	assert.Equal(t, rgroup.DefaultMaxTautomers, cfg.Decomposition.MaxTautomers)

	assert.Equal(t, 3, cfg.Fingerprint.Radius)
	assert.Equal(t, 2048, cfg.Fingerprint.Length)
	assert.True(t, cfg.Fingerprint.Cache)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "jobs", cfg.Kafka.JobTopic)
	assert.Equal(t, DefaultKafkaDLQTopic, cfg.Kafka.DLQTopic)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RGD_LOG_LEVEL", "warn")
	t.Setenv("RGD_DECOMPOSITION_MATCHING_STRATEGY", "Greedy")
	t.Setenv("RGD_WORKER_CONCURRENCY", "2")

	cfg, err := Load(WithConfigPath(createTempConfigFile(t, validConfigYAML)))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, rgroup.Greedy, cfg.Decomposition.MatchingStrategy)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("RGD_KAFKA_JOB_TOPIC", "env-jobs")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-jobs", cfg.Kafka.JobTopic)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.ErrorIs(t, err, ErrConfigFileNotFound)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(WithConfigPath(createTempConfigFile(t, "decomposition: [")))
	assert.ErrorIs(t, err, ErrConfigParseError)
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(WithConfigPath(createTempConfigFile(t, "log:\n  level: trace\n")))
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(WithConfigPath("/nonexistent/rgd.yaml")) })
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	changed := make(chan *Config, 16)
	require.NoError(t, Watch(path, func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	}, nil))

	updated := validConfigYAML + "metrics:\n  enabled: true\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.Metrics.Enabled {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "missing.yaml"), func(*Config) {}, nil)
	assert.ErrorIs(t, err, ErrConfigParseError)
}
