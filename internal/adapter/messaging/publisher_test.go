package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/canteen/internal/core/domain"
)

type fakeProducer struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeProducer) WriteMessage(ctx context.Context, msg kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewKafkaPublisher(producer)

	event := domain.Event{
		Type:       domain.EventOrderConfirmed,
		OrderID:    "o1",
		Status:     domain.OrderStatusConfirmed,
		Token:      "AB12CD",
		StationID:  "grill",
		OccurredAt: time.Date(2026, 4, 2, 12, 30, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(context.Background(), event))
	require.Len(t, producer.messages, 1)

	msg := producer.messages[0]
	assert.Equal(t, "o1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "OrderConfirmed", string(msg.Headers[0].Value))

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event, decoded)

	require.NoError(t, pub.Close())
	assert.True(t, producer.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	pub := NewKafkaPublisher(&fakeProducer{err: errors.New("leader not available")})

	err := pub.Publish(context.Background(), domain.Event{Type: domain.EventOrderFailed, OrderID: "o2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "o2")
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, ParseBrokers(""))
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	require.NoError(t, pub.Publish(context.Background(), domain.Event{Type: domain.EventOrderReserved, OrderID: "o3"}))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "order event", entry.Message)
	assert.Equal(t, "o3", entry.ContextMap()["order_id"])
}
