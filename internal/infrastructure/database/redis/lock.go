package redis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

var ErrLockNotHeld = errors.New(errors.ErrCodeConflict, "job lock not held by this owner")

const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// JobLocker hands out exclusive per-job leases so that a redelivered job is
// processed by one worker at a time.
type JobLocker struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
	token  func() string
}

// NewJobLocker returns a locker whose leases expire after ttl.
func NewJobLocker(client *Client, prefix string, ttl time.Duration, log logging.Logger) *JobLocker {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &JobLocker{
		client: client,
		logger: log.Named("joblock"),
		prefix: prefix,
		ttl:    ttl,
		token:  uuid.NewString,
	}
}

func (l *JobLocker) key(jobID string) string {
	return l.prefix + "lock:job:" + jobID
}

// Lease is a held job lock.
type Lease struct {
	locker *JobLocker
	key    string
	token  string
}

// TryAcquire takes the lock for jobID without waiting. It returns a nil
// Lease when another owner holds it.
func (l *JobLocker) TryAcquire(ctx context.Context, jobID string) (*Lease, error) {
	rdb, err := l.client.Underlying()
	if err != nil {
		return nil, err
	}
	key, token := l.key(jobID), l.token()
	ok, err := rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to acquire job lock")
	}
	if !ok {
		l.logger.Debug("job lock busy", logging.String("job_id", jobID))
		return nil, nil
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release frees the lock if this lease still owns it.
func (ls *Lease) Release(ctx context.Context) error {
	rdb, err := ls.locker.client.Underlying()
	if err != nil {
		return err
	}
	n, err := rdb.Eval(ctx, releaseScript, []string{ls.key}, ls.token).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release job lock")
	}
	if n == 0 {
		return ErrLockNotHeld.WithDetail(ls.key)
	}
	return nil
}
