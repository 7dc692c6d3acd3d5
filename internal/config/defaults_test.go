package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-RGD/internal/domain/rgroup"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, rgroup.DefaultOptions(), cfg.Decomposition)
	assert.Equal(t, 2, cfg.Fingerprint.Radius)
	assert.Equal(t, 2048, cfg.Fingerprint.Length)
	assert.Equal(t, DefaultKafkaJobTopic, cfg.Kafka.JobTopic)
	assert.Equal(t, DefaultWorkerConcurrency, cfg.Worker.Concurrency)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Decomposition.MatchingStrategy = rgroup.Exhaustive
	cfg.Decomposition.ChunkSize = 9
	cfg.Log.Level = "debug"
	cfg.Kafka.Brokers = []string{"kafka-1:9092", "kafka-2:9092"}

	ApplyDefaults(cfg)

	assert.Equal(t, rgroup.Exhaustive, cfg.Decomposition.MatchingStrategy)
	assert.Equal(t, 9, cfg.Decomposition.ChunkSize)
	assert.Equal(t, rgroup.FingerprintVariance, cfg.Decomposition.ScoreMethod)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Len(t, cfg.Kafka.Brokers, 2)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}
