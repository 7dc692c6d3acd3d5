package kafka

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/KeyIP-RGD/internal/config"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
	rgtypes "github.com/turtacn/KeyIP-RGD/pkg/types/rgroup"
)

// DefaultMaxMessageBytes caps a single published value.
const DefaultMaxMessageBytes = 1 << 20

const producerSource = "rgd-worker"

var (
	ErrProducerClosed  = errors.New(errors.ErrCodeMessagingError, "producer closed")
	ErrMessageTooLarge = errors.New(errors.ErrCodeBadRequest, "message exceeds max size")
)

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.WriterStats
}

// ProducerMetrics counts published messages.
type ProducerMetrics struct {
	MessagesSent   atomic.Int64
	MessagesFailed atomic.Int64
	BytesSent      atomic.Int64
}

// Producer publishes results and dead letters.
type Producer struct {
	writer   WriterInterface
	logger   logging.Logger
	maxBytes int
	closed   atomic.Bool
	metrics  ProducerMetrics
}

// NewProducer builds a synchronous, all-acks writer for cfg.Brokers. Topics
// are set per message.
func NewProducer(cfg config.KafkaConfig, log logging.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "kafka: at least one broker is required")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    batch,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	return NewProducerWithWriter(w, log), nil
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(w WriterInterface, log logging.Logger) *Producer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Producer{writer: w, logger: log.Named("kafka.producer"), maxBytes: DefaultMaxMessageBytes}
}

// Publish writes one message. Headers are written in key order.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if topic == "" {
		return errors.New(errors.ErrCodeValidation, "kafka: topic is required")
	}
	if len(value) == 0 {
		return errors.New(errors.ErrCodeValidation, "kafka: value is required")
	}
	if len(value) > p.maxBytes {
		return ErrMessageTooLarge.WithDetailf("%d > %d bytes", len(value), p.maxBytes)
	}

	msg := kafka.Message{Topic: topic, Key: key, Value: value, Time: time.Now()}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(headers[k])})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.MessagesFailed.Add(1)
		p.logger.Error("publish failed", logging.String("topic", topic), logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeMessagingError, "failed to publish message").WithDetail(topic)
	}
	p.metrics.MessagesSent.Add(1)
	p.metrics.BytesSent.Add(int64(len(value)))
	return nil
}

// PublishEvent marshals env and publishes it with event headers.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, env *EventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal event envelope")
	}
	return p.Publish(ctx, topic, []byte(key), data, map[string]string{
		HeaderEventID:   env.EventID,
		HeaderEventType: env.EventType,
	})
}

// PublishResult publishes res as a job.completed event keyed by its job ID.
func (p *Producer) PublishResult(ctx context.Context, topic string, res *rgtypes.JobResult) error {
	env, err := NewEventEnvelope(EventJobCompleted, producerSource, res)
	if err != nil {
		return err
	}
	if err := p.PublishEvent(ctx, topic, res.JobID, env); err != nil {
		return err
	}
	p.logger.Debug("result published",
		logging.String("job_id", res.JobID),
		logging.String("status", string(res.Status)),
		logging.String("event_id", env.EventID))
	return nil
}

// Metrics returns sent, failed and byte counts.
func (p *Producer) Metrics() (sent, failed, bytes int64) {
	return p.metrics.MessagesSent.Load(), p.metrics.MessagesFailed.Load(), p.metrics.BytesSent.Load()
}

// Close flushes and closes the writer. It is idempotent.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeMessagingError, "failed to close producer")
	}
	p.logger.Info("kafka producer closed", logging.Int64("sent", p.metrics.MessagesSent.Load()))
	return nil
}
