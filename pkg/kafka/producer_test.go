package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/events"
	fernkafka "github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logging"
)

type captureWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestHandle_PublishesKeyedEnvelope(t *testing.T) {
	writer := &captureWriter{}
	producer := fernkafka.NewProducerWithWriter(writer, "identity-events", logging.Nop())

	event := events.Event{
		EventType:     events.EventTypeEntityMerged,
		SchemaVersion: events.SchemaVersion,
		EntityKind:    "person",
		EntityID:      "7b8f0c1e-0000-4000-8000-000000000001",
		CorrelationID: "req-1",
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:          json.RawMessage(`{"loser_id":"a"}`),
	}
	require.NoError(t, producer.Handle(context.Background(), event))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, event.EntityID, string(msg.Key))
	assert.Equal(t, "entity.merged", header(msg, "event_type"))
	assert.Equal(t, "person", header(msg, "entity_kind"))
	assert.Equal(t, "req-1", header(msg, "correlation_id"))

	var decoded events.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.EventType, decoded.EventType)
	assert.JSONEq(t, `{"loser_id":"a"}`, string(decoded.Data))
}

func TestHandle_ReturnsWriterError(t *testing.T) {
	writer := &captureWriter{err: errors.New("broker unavailable")}
	producer := fernkafka.NewProducerWithWriter(writer, "identity-events", logging.Nop())

	err := producer.Handle(context.Background(), events.Event{EventType: events.EventTypePersonCreated})
	assert.Error(t, err)
	assert.Equal(t, "kafka", producer.Name())

	require.NoError(t, producer.Close())
	assert.True(t, writer.closed)
}
