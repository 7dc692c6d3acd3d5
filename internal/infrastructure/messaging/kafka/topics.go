// Package kafka carries decomposition jobs in and results out over Kafka.
// The job topic is consumed by the worker; results are published as event
// envelopes keyed by job ID so that every result of a job lands on the same
// partition.
package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyIP-RGD/pkg/errors"
	rgtypes "github.com/turtacn/KeyIP-RGD/pkg/types/rgroup"
)

// Event types.
const (
	EventJobSubmitted = "rgd.job.submitted"
	EventJobCompleted = "rgd.job.completed"

	EventSchemaVersion = "1"
)

// Header keys set on published and dead-lettered messages.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderOriginalTopic = "original_topic"
	HeaderErrorCode     = "error_code"
	HeaderErrorMessage  = "error_message"
	HeaderAttempts      = "attempts"
)

// Message is a consumed record with its headers flattened.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// EventEnvelope wraps every payload published by the worker.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope marshals payload into a fresh envelope.
func NewEventEnvelope(eventType, source string, payload any) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal event payload")
	}
	return &EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: EventSchemaVersion,
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the envelope payload into target.
func (e *EventEnvelope) DecodePayload(target any) error {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode event payload")
	}
	return nil
}

// DecodeJobRequest reads a JobRequest from msg. Both a bare request and a
// job.submitted envelope are accepted. The request is validated, and a
// missing job ID falls back to the message key.
func DecodeJobRequest(msg *Message) (*rgtypes.JobRequest, error) {
	var env EventEnvelope
	body := msg.Value
	if err := json.Unmarshal(msg.Value, &env); err == nil && env.EventType == EventJobSubmitted && len(env.Payload) > 0 {
		body = env.Payload
	}

	var req rgtypes.JobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "malformed job request").
			WithDetailf("topic=%s offset=%d", msg.Topic, msg.Offset)
	}
	if req.JobID == "" {
		req.JobID = string(msg.Key)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
