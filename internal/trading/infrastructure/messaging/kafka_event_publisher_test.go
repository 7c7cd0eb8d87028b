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
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/pkg/mq"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishTradeRecorded(t *testing.T) {
	w := &recordingWriter{}
	pub := NewKafkaOrderEventPublisher(mq.NewProducer(w), "order-events")

	event := domain.OrderTradeRecordedEvent{
		EventID:          "evt-1",
		ExchangeOrderID:  "EX-1",
		Pair:             domain.MustParseCurrencyPair("BTC/USDT"),
		TradeID:          "T1",
		Amount:           domain.MustAmount("0.5", "BTC"),
		Price:            domain.MustAmount("65000", "USDT"),
		CumulativeAmount: domain.MustAmount("0.5", "BTC"),
		AveragePrice:     domain.MustAmount("65000", "USDT"),
		Status:           domain.OrderStatusPartiallyFilled,
		OccurredOn:       time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, pub.PublishTradeRecorded(context.Background(), event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "order-events", msg.Topic)
	assert.Equal(t, "EX-1", string(msg.Key))

	var got struct {
		Type    string                         `json:"type"`
		EventID string                         `json:"event_id"`
		Payload domain.OrderTradeRecordedEvent `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, EventTypeTradeRecorded, got.Type)
	assert.Equal(t, "evt-1", got.EventID)
	assert.True(t, got.Payload.AveragePrice.Equal(event.AveragePrice))
	assert.Equal(t, "BTC/USDT", got.Payload.Pair.String())
}

func TestPublishStatusChangedFallsBackToEventKey(t *testing.T) {
	w := &recordingWriter{}
	pub := NewKafkaOrderEventPublisher(mq.NewProducer(w), "order-events")

	err := pub.PublishStatusChanged(context.Background(), domain.OrderStatusChangedEvent{
		EventID:   "evt-2",
		Pair:      domain.MustParseCurrencyPair("BTC/USDT"),
		OldStatus: domain.OrderStatusPendingNew,
		NewStatus: domain.OrderStatusRejected,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "evt-2", string(w.msgs[0].Key))
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	pub := NewKafkaOrderEventPublisher(mq.NewProducer(&recordingWriter{err: boom}), "order-events")

	err := pub.PublishStatusChanged(context.Background(), domain.OrderStatusChangedEvent{
		EventID: "evt-3",
		Pair:    domain.MustParseCurrencyPair("BTC/USDT"),
	})
	assert.ErrorIs(t, err, boom)
}
