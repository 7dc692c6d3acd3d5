package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/turtacn/KeyIP-RGD/pkg/errors"
)

func newTestLocker(t *testing.T) (*JobLocker, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	l := NewJobLocker(NewClientFrom(db, nil), "rgd:", time.Minute, nil)
	l.token = func() string { return "owner-1" }
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return l, mock
}

func TestJobLocker_AcquireRelease(t *testing.T) {
	l, mock := newTestLocker(t)
	mock.ExpectSetNX("rgd:lock:job:j1", "owner-1", time.Minute).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"rgd:lock:job:j1"}, "owner-1").SetVal(int64(1))

	lease, err := l.TryAcquire(context.Background(), "j1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.NoError(t, lease.Release(context.Background()))
}

func TestJobLocker_Busy(t *testing.T) {
	l, mock := newTestLocker(t)
	mock.ExpectSetNX("rgd:lock:job:j1", "owner-1", time.Minute).SetVal(false)

	lease, err := l.TryAcquire(context.Background(), "j1")
	require.NoError(t, err)
	assert.Nil(t, lease)
}

func TestJobLocker_ReleaseAfterExpiry(t *testing.T) {
	l, mock := newTestLocker(t)
	mock.ExpectSetNX("rgd:lock:job:j2", "owner-1", time.Minute).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"rgd:lock:job:j2"}, "owner-1").SetVal(int64(0))

	lease, err := l.TryAcquire(context.Background(), "j2")
	require.NoError(t, err)
	err = lease.Release(context.Background())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeConflict))
}

func TestJobLocker_BackendError(t *testing.T) {
	l, mock := newTestLocker(t)
	mock.ExpectSetNX("rgd:lock:job:j3", "owner-1", time.Minute).SetErr(fmt.Errorf("READONLY"))

	_, err := l.TryAcquire(context.Background(), "j3")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeCacheError))
}
