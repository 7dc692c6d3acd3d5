package decomposition

import (
	"context"
	"time"

	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
	rgtypes "github.com/turtacn/KeyIP-RGD/pkg/types/rgroup"
)

// ResultPublisher sends finished results.
type ResultPublisher interface {
	PublishResult(ctx context.Context, topic string, res *rgtypes.JobResult) error
}

// JobLock is a held job lock.
type JobLock interface {
	Release(ctx context.Context) error
}

// JobLocker takes per-job locks so that a redelivered job is not run twice
// at once. Lock returns a nil JobLock when another worker holds the job.
type JobLocker interface {
	Lock(ctx context.Context, jobID string) (JobLock, error)
}

// Worker turns job messages into published results.
type Worker struct {
	svc         Service
	publisher   ResultPublisher
	resultTopic string
	locker      JobLocker
	logger      logging.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithJobLocker serializes each job through l.
func WithJobLocker(l JobLocker) WorkerOption {
	return func(w *Worker) { w.locker = l }
}

// NewWorker returns a worker publishing to resultTopic.
func NewWorker(svc Service, publisher ResultPublisher, resultTopic string, log logging.Logger, opts ...WorkerOption) *Worker {
	if log == nil {
		log = logging.NewNopLogger()
	}
	w := &Worker{svc: svc, publisher: publisher, resultTopic: resultTopic, logger: log.Named("worker")}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Handle is a kafka.Handler. Transient failures are returned for retry.
// Permanent failures are answered with a failed result and then returned
// so that the message is dead-lettered.
func (w *Worker) Handle(ctx context.Context, msg *kafka.Message) error {
	req, err := kafka.DecodeJobRequest(msg)
	if err != nil {
		if jobID := string(msg.Key); jobID != "" {
			w.publishFailure(ctx, jobID, err)
		}
		return err
	}
	log := w.logger.With(logging.String("job_id", req.JobID), logging.Int64("offset", msg.Offset))

	if w.locker != nil && req.JobID != "" {
		lock, err := w.locker.Lock(ctx, req.JobID)
		if err != nil {
			return err
		}
		if lock == nil {
			log.Info("job is being processed elsewhere, skipping")
			return nil
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("job lock release failed", logging.Err(err))
			}
		}()
	}

	res, err := w.svc.Run(ctx, req)
	if err != nil {
		if errors.IsRetryable(errors.GetCode(err)) {
			return err
		}
		w.publishFailure(ctx, req.JobID, err)
		return err
	}
	return w.publisher.PublishResult(ctx, w.resultTopic, res)
}

func (w *Worker) publishFailure(ctx context.Context, jobID string, cause error) {
	now := time.Now().UTC()
	detail := rgtypes.NewErrorDetail(cause)
	res := &rgtypes.JobResult{
		JobID:      jobID,
		Status:     rgtypes.StatusFailed,
		Error:      &detail,
		StartedAt:  now,
		FinishedAt: now,
	}
	if err := w.publisher.PublishResult(ctx, w.resultTopic, res); err != nil {
		w.logger.Error("failed result not published", logging.String("job_id", jobID), logging.Err(err))
	}
}
