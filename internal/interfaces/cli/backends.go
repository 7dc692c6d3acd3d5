package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/KeyIP-RGD/internal/application/decomposition"
	"github.com/turtacn/KeyIP-RGD/internal/config"
	"github.com/turtacn/KeyIP-RGD/internal/domain/rgroup"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/database/postgres"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/database/redis"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// backendNeeds selects the backends a command opens beyond those the config
// turns on by itself.
type backendNeeds struct {
	Metrics bool
	Persist bool
	Export  bool
	Lock    bool
}

// backends owns the backend clients of one command invocation.
type backends struct {
	cfg    *config.Config
	logger logging.Logger

	redis     *redis.Client
	cache     *redis.FingerprintCache
	locker    *redis.JobLocker
	runs      rgroup.RunRepository
	exporter  *minio.ResultExporter
	collector prometheus.MetricsCollector
	metrics   *prometheus.DecompositionMetrics

	closers []func() error
}

// openBackends connects the backends selected by cfg and needs. On error
// everything already opened is closed again.
func openBackends(ctx context.Context, cfg *config.Config, log logging.Logger, needs backendNeeds) (_ *backends, err error) {
	b := &backends{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if cfg.Fingerprint.Cache || needs.Lock {
		client, err := redis.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		b.redis = client
		b.closers = append(b.closers, client.Close)

		if cfg.Fingerprint.Cache {
			b.cache = redis.NewFingerprintCache(client, log,
				redis.WithPrefix(cfg.Redis.KeyPrefix),
				redis.WithTTL(cfg.Fingerprint.CacheTTL),
				redis.WithNamespace(fingerprintNamespace(cfg.Fingerprint)))
		}
		if needs.Lock {
			b.locker = redis.NewJobLocker(client, cfg.Redis.KeyPrefix, lockTTL(cfg.Worker), log)
		}
	}

	if needs.Persist {
		if !cfg.Postgres.Enabled {
			return nil, errors.New(errors.ErrCodeInvalidState, "result persistence requires postgres.enabled")
		}
		conn, err := postgres.NewConnection(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, conn.Close)
		b.runs = repositories.NewPostgresRunRepo(conn, log)
	}

	if needs.Export {
		if !cfg.MinIO.Enabled {
			return nil, errors.New(errors.ErrCodeInvalidState, "result export requires minio.enabled")
		}
		client, err := minio.NewClient(ctx, cfg.MinIO, log)
		if err != nil {
			return nil, err
		}
		b.exporter = minio.NewResultExporter(client, log)
	}

	if needs.Metrics {
		collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, log)
		if err != nil {
			return nil, err
		}
		b.collector = collector
		b.metrics = prometheus.NewDecompositionMetrics(collector)
		if b.cache != nil {
			prometheus.RegisterCacheStats(collector, b.cache)
		}
	}
	return b, nil
}

// Service builds the decomposition service over the opened backends.
func (b *backends) Service() decomposition.Service {
	var opts []decomposition.Option
	if b.cache != nil {
		opts = append(opts, decomposition.WithFingerprintCache(b.cache))
	}
	if b.metrics != nil {
		opts = append(opts,
			decomposition.WithEngineObserver(b.metrics),
			decomposition.WithJobObserver(b.metrics))
	}
	if b.runs != nil {
		opts = append(opts, decomposition.WithRunRepository(b.runs))
	}
	if b.exporter != nil {
		opts = append(opts, decomposition.WithExporter(b.exporter))
	}
	return decomposition.NewService(decomposition.NewConfig(b.cfg), b.logger, opts...)
}

// JobLocker returns nil when no locker was opened.
func (b *backends) JobLocker() decomposition.JobLocker {
	if b.locker == nil {
		return nil
	}
	return redisJobLocker{b.locker}
}

// Close closes backends in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.logger.Warn("failed to close backend", logging.Err(err))
		}
	}
	b.closers = nil
}

// fingerprintNamespace tags cached fingerprints with the settings that
// produced them.
func fingerprintNamespace(fp config.FingerprintConfig) string {
	return fmt.Sprintf("morgan-r%d-%d", fp.Radius, fp.Length)
}

// lockTTL outlives a job run by a margin so a lease never expires under a
// running job.
func lockTTL(w config.WorkerConfig) time.Duration {
	if w.JobTimeout <= 0 {
		return time.Hour
	}
	return w.JobTimeout + time.Minute
}

type leaseAcquirer interface {
	TryAcquire(ctx context.Context, jobID string) (*redis.Lease, error)
}

// redisJobLocker adapts redis leases to the worker's locking contract.
type redisJobLocker struct {
	locker leaseAcquirer
}

func (l redisJobLocker) Lock(ctx context.Context, jobID string) (decomposition.JobLock, error) {
	lease, err := l.locker.TryAcquire(ctx, jobID)
	if err != nil || lease == nil {
		return nil, err
	}
	return lease, nil
}
