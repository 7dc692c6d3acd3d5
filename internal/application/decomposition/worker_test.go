package decomposition

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-RGD/internal/domain/rgroup"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
	rgtypes "github.com/turtacn/KeyIP-RGD/pkg/types/rgroup"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Run(ctx context.Context, req *rgtypes.JobRequest) (*rgtypes.JobResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rgtypes.JobResult), args.Error(1)
}

func (m *MockService) SetDefaults(opts rgroup.Options) error {
	return m.Called(opts).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishResult(ctx context.Context, topic string, res *rgtypes.JobResult) error {
	return m.Called(ctx, topic, res).Error(0)
}

type fakeLock struct{ released int }

func (l *fakeLock) Release(context.Context) error {
	l.released++
	return nil
}

type fakeLocker struct {
	held map[string]bool
	lock *fakeLock
	err  error
}

func (f *fakeLocker) Lock(_ context.Context, jobID string) (JobLock, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.held[jobID] {
		return nil, nil
	}
	return f.lock, nil
}

func jobMessage(t *testing.T, req *rgtypes.JobRequest) *kafka.Message {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return &kafka.Message{Topic: "rgd.jobs", Key: []byte(req.JobID), Value: data}
}

func TestWorker_HandlePublishesResult(t *testing.T) {
	svc, pub := new(MockService), new(MockPublisher)
	lock := &fakeLock{}
	w := NewWorker(svc, pub, "rgd.results", nil, WithJobLocker(&fakeLocker{lock: lock}))

	res := &rgtypes.JobResult{JobID: "job-1", Status: rgtypes.StatusSucceeded}
	svc.On("Run", mock.Anything, mock.MatchedBy(func(r *rgtypes.JobRequest) bool { return r.JobID == "job-1" })).
		Return(res, nil).Once()
	pub.On("PublishResult", mock.Anything, "rgd.results", res).Return(nil).Once()

	require.NoError(t, w.Handle(context.Background(), jobMessage(t, benzeneJob())))
	svc.AssertExpectations(t)
	pub.AssertExpectations(t)
	assert.Equal(t, 1, lock.released)
}

func TestWorker_HandleSkipsLockedJob(t *testing.T) {
	svc, pub := new(MockService), new(MockPublisher)
	w := NewWorker(svc, pub, "rgd.results", nil, WithJobLocker(&fakeLocker{held: map[string]bool{"job-1": true}}))

	require.NoError(t, w.Handle(context.Background(), jobMessage(t, benzeneJob())))
	svc.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "PublishResult", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_HandleLockError(t *testing.T) {
	lockErr := errors.New(errors.ErrCodeCacheError, "redis down")
	w := NewWorker(new(MockService), new(MockPublisher), "rgd.results", nil, WithJobLocker(&fakeLocker{err: lockErr}))

	err := w.Handle(context.Background(), jobMessage(t, benzeneJob()))
	assert.Equal(t, lockErr, err)
}

func TestWorker_HandleTransientFailure(t *testing.T) {
	svc, pub := new(MockService), new(MockPublisher)
	w := NewWorker(svc, pub, "rgd.results", nil)

	svc.On("Run", mock.Anything, mock.Anything).Return(nil, errors.New(errors.ErrCodeDatabaseError, "timeout"))

	err := w.Handle(context.Background(), jobMessage(t, benzeneJob()))
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
	pub.AssertNotCalled(t, "PublishResult", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_HandlePermanentFailurePublishesFailedResult(t *testing.T) {
	svc, pub := new(MockService), new(MockPublisher)
	w := NewWorker(svc, pub, "rgd.results", nil)

	svc.On("Run", mock.Anything, mock.Anything).Return(nil, errors.New(errors.ErrCodeInvalidOption, "unknown option"))
	pub.On("PublishResult", mock.Anything, "rgd.results", mock.MatchedBy(func(r *rgtypes.JobResult) bool {
		return r.JobID == "job-1" && r.Status == rgtypes.StatusFailed &&
			r.Error != nil && r.Error.Code == errors.ErrCodeInvalidOption.String()
	})).Return(nil).Once()

	err := w.Handle(context.Background(), jobMessage(t, benzeneJob()))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidOption))
	pub.AssertExpectations(t)
}

func TestWorker_HandleMalformedMessage(t *testing.T) {
	svc, pub := new(MockService), new(MockPublisher)
	w := NewWorker(svc, pub, "rgd.results", nil)

	pub.On("PublishResult", mock.Anything, "rgd.results", mock.MatchedBy(func(r *rgtypes.JobResult) bool {
		return r.JobID == "job-9" && r.Error.Code == errors.ErrCodeSerialization.String()
	})).Return(nil).Once()

	err := w.Handle(context.Background(), &kafka.Message{Key: []byte("job-9"), Value: []byte("{")})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
	svc.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	pub.AssertExpectations(t)
}
