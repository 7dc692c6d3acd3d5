package kafka

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/KeyIP-RGD/internal/config"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")
	ErrConsumerClosed = errors.New(errors.ErrCodeMessagingError, "consumer closed")
)

// Handler processes one message. Errors whose code is retryable are retried
// with backoff; any other error dead-letters the message at once.
type Handler func(ctx context.Context, msg *Message) error

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// DeadLetterPublisher receives messages that could not be processed.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// RetryObserver is told about retries and dead letters, by error code.
type RetryObserver interface {
	JobRetried(code string)
	JobDeadLettered(code string)
}

// RetryPolicy bounds handler retries.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// ConsumerMetrics holds consumer counters.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesRetried      atomic.Int64
	MessagesDeadLettered atomic.Int64
	Lag                  atomic.Int64
}

// Consumer reads the job topic and drives a Handler.
type Consumer struct {
	reader   ReaderInterface
	logger   logging.Logger
	policy   RetryPolicy
	dlq      DeadLetterPublisher
	dlqTopic string
	observer RetryObserver

	running atomic.Bool
	closed  atomic.Bool
	metrics ConsumerMetrics

	sleep func(ctx context.Context, d time.Duration) error
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetter sends failed messages to topic through pub.
func WithDeadLetter(pub DeadLetterPublisher, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = pub
		c.dlqTopic = topic
	}
}

// WithRetryObserver reports retries and dead letters to o.
func WithRetryObserver(o RetryObserver) ConsumerOption {
	return func(c *Consumer) { c.observer = o }
}

// NewConsumer joins cfg.GroupID on cfg.JobTopic. Offsets are committed
// explicitly after each message.
func NewConsumer(cfg config.KafkaConfig, worker config.WorkerConfig, log logging.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "kafka: at least one broker is required")
	}
	if cfg.JobTopic == "" || cfg.GroupID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "kafka: job topic and group id are required")
	}
	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.JobTopic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	}
	if rc.MinBytes == 0 {
		rc.MinBytes = 1
	}
	if rc.MaxBytes == 0 {
		rc.MaxBytes = 10 << 20
	}
	if rc.MaxWait == 0 {
		rc.MaxWait = time.Second
	}
	policy := RetryPolicy{
		MaxRetries: worker.MaxRetries,
		Backoff:    worker.RetryBackoff,
		MaxBackoff: 30 * time.Second,
	}
	return NewConsumerWithReader(kafka.NewReader(rc), policy, log, opts...), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r ReaderInterface, policy RetryPolicy, log logging.Logger, opts ...ConsumerOption) *Consumer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if policy.Backoff <= 0 {
		policy.Backoff = time.Second
	}
	if policy.MaxBackoff < policy.Backoff {
		policy.MaxBackoff = policy.Backoff
	}
	c := &Consumer{
		reader: r,
		logger: log.Named("kafka.consumer"),
		policy: policy,
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run fetches and handles messages until ctx is done. It returns nil on
// cancellation.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.logger.Info("kafka consumer started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("fetch failed", logging.Err(err))
			if c.sleep(ctx, c.policy.Backoff) != nil {
				return nil
			}
			continue
		}

		c.metrics.MessagesConsumed.Add(1)
		if m.HighWaterMark > 0 {
			c.metrics.Lag.Store(m.HighWaterMark - m.Offset - 1)
		}

		if !c.process(ctx, toMessage(m), handler) {
			// cancelled mid-retry; leave the offset for redelivery
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("commit failed",
				logging.String("topic", m.Topic),
				logging.Int64("offset", m.Offset),
				logging.Err(err))
		}
	}
}

// process runs handler with retries. It returns false when ctx ended before
// the message was either handled or dead-lettered.
func (c *Consumer) process(ctx context.Context, msg *Message, handler Handler) bool {
	backoff := c.policy.Backoff
	attempts := 0
	var err error
	for {
		attempts++
		if err = handler(ctx, msg); err == nil {
			c.metrics.MessagesProcessed.Add(1)
			return true
		}
		code := errors.GetCode(err)
		if !errors.IsRetryable(code) || attempts > c.policy.MaxRetries {
			break
		}

		c.metrics.MessagesRetried.Add(1)
		if c.observer != nil {
			c.observer.JobRetried(code.String())
		}
		c.logger.Warn("handler failed, retrying",
			logging.Int64("offset", msg.Offset),
			logging.Int("attempt", attempts),
			logging.Duration("backoff", backoff),
			logging.Err(err))
		if c.sleep(ctx, backoff) != nil {
			return false
		}
		backoff *= 2
		if backoff > c.policy.MaxBackoff {
			backoff = c.policy.MaxBackoff
		}
	}

	if ctx.Err() != nil {
		return false
	}
	c.deadLetter(ctx, msg, err, attempts)
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, msg *Message, cause error, attempts int) {
	code := errors.GetCode(cause).String()
	c.logger.Error("message failed",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.String("code", code),
		logging.Int("attempts", attempts),
		logging.Err(cause))

	if c.observer != nil {
		c.observer.JobDeadLettered(code)
	}
	if c.dlq == nil || c.dlqTopic == "" {
		return
	}

	headers := make(map[string]string, len(msg.Headers)+4)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderErrorCode] = code
	headers[HeaderErrorMessage] = cause.Error()
	headers[HeaderAttempts] = strconv.Itoa(attempts)

	if err := c.dlq.Publish(ctx, c.dlqTopic, msg.Key, msg.Value, headers); err != nil {
		c.logger.Error("dead letter publish failed", logging.Err(err))
		return
	}
	c.metrics.MessagesDeadLettered.Add(1)
}

// Counts returns consumed, processed, retried and dead-lettered totals.
func (c *Consumer) Counts() (consumed, processed, retried, deadLettered int64) {
	return c.metrics.MessagesConsumed.Load(),
		c.metrics.MessagesProcessed.Load(),
		c.metrics.MessagesRetried.Load(),
		c.metrics.MessagesDeadLettered.Load()
}

// Close closes the reader. Run must have returned first.
func (c *Consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.reader.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeMessagingError, "failed to close consumer")
	}
	c.logger.Info("kafka consumer closed", logging.Int64("consumed", c.metrics.MessagesConsumed.Load()))
	return nil
}

func toMessage(m kafka.Message) *Message {
	msg := &Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
