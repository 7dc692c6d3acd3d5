package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/KeyIP-RGD/internal/domain/molgraph"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

var (
	ErrCacheMiss           = errors.New(errors.ErrCodeCacheMiss, "fingerprint not cached")
	ErrSerializationFailed = errors.New(errors.ErrCodeSerialization, "fingerprint serialization failed")
)

// FingerprintCache stores fragment fingerprints under
// <prefix>fp:<namespace>:<sha256(identity)>. The namespace separates
// fingerprinter settings so that caches built with different radii never mix.
// It satisfies rgroup.FingerprintCache.
type FingerprintCache struct {
	client    *Client
	logger    logging.Logger
	prefix    string
	namespace string
	ttl       time.Duration
	jitter    float64
	group     singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheOption customizes a FingerprintCache.
type CacheOption func(*FingerprintCache)

func WithPrefix(prefix string) CacheOption {
	return func(c *FingerprintCache) { c.prefix = prefix }
}

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *FingerprintCache) { c.ttl = ttl }
}

// WithNamespace sets the fingerprinter tag, e.g. "morgan-r2-2048".
func WithNamespace(ns string) CacheOption {
	return func(c *FingerprintCache) { c.namespace = ns }
}

// WithTTLJitter spreads expirations by ±fraction of the TTL. Zero disables it.
func WithTTLJitter(fraction float64) CacheOption {
	return func(c *FingerprintCache) { c.jitter = fraction }
}

// NewFingerprintCache builds a cache with a 24h TTL and 10% jitter unless
// overridden.
func NewFingerprintCache(client *Client, log logging.Logger, opts ...CacheOption) *FingerprintCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &FingerprintCache{
		client:    client,
		logger:    log.Named("fpcache"),
		prefix:    "rgd:",
		namespace: "default",
		ttl:       24 * time.Hour,
		jitter:    0.1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the Redis key for a fragment identity.
func (c *FingerprintCache) Key(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return c.prefix + "fp:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

func (c *FingerprintCache) expiry() time.Duration {
	if c.ttl <= 0 || c.jitter <= 0 {
		return c.ttl
	}
	delta := float64(c.ttl) * c.jitter * (rand.Float64()*2 - 1)
	return c.ttl + time.Duration(delta).Truncate(time.Second)
}

// GetFingerprint returns ErrCacheMiss when the key is absent. Concurrent
// lookups of one key share a single round trip.
func (c *FingerprintCache) GetFingerprint(ctx context.Context, identity string) (molgraph.Fingerprint, error) {
	key := c.Key(identity)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		rdb, err := c.client.Underlying()
		if err != nil {
			return nil, err
		}
		data, err := rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil, ErrCacheMiss.WithDetail(identity)
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to read fingerprint")
		}
		var fp molgraph.Fingerprint
		if err := json.Unmarshal(data, &fp); err != nil {
			return nil, ErrSerializationFailed.WithCause(err)
		}
		return fp, nil
	})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeCacheMiss) {
			c.misses.Add(1)
		}
		return molgraph.Fingerprint{}, err
	}
	c.hits.Add(1)
	return v.(molgraph.Fingerprint), nil
}

// SetFingerprint stores fp with the configured TTL.
func (c *FingerprintCache) SetFingerprint(ctx context.Context, identity string, fp molgraph.Fingerprint) error {
	rdb, err := c.client.Underlying()
	if err != nil {
		return err
	}
	data, err := json.Marshal(fp)
	if err != nil {
		return ErrSerializationFailed.WithCause(err)
	}
	if err := rdb.Set(ctx, c.Key(identity), string(data), c.expiry()).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to write fingerprint")
	}
	return nil
}

// Invalidate drops the cached fingerprints of the given identities.
func (c *FingerprintCache) Invalidate(ctx context.Context, identities ...string) error {
	if len(identities) == 0 {
		return nil
	}
	rdb, err := c.client.Underlying()
	if err != nil {
		return err
	}
	keys := make([]string, len(identities))
	for i, id := range identities {
		keys[i] = c.Key(id)
	}
	if err := rdb.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to invalidate fingerprints")
	}
	return nil
}

// Stats reports lookups served from Redis and lookups that missed.
func (c *FingerprintCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
