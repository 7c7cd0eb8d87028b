package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/tradingbot/internal/trading/application"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/pkg/mq"
)

type mockTracker struct {
	mock.Mock
}

func (m *mockTracker) Track(ctx context.Context, p domain.OrderParams) (*domain.Order, error) {
	args := m.Called(ctx, p)
	o, _ := args.Get(0).(*domain.Order)
	return o, args.Error(1)
}

func (m *mockTracker) Acknowledge(ctx context.Context, id uint64, exchangeOrderID string) (*domain.Order, error) {
	args := m.Called(ctx, id, exchangeOrderID)
	o, _ := args.Get(0).(*domain.Order)
	return o, args.Error(1)
}

func (m *mockTracker) RecordTrade(ctx context.Context, t domain.Trade) (*domain.Order, error) {
	args := m.Called(ctx, t)
	o, _ := args.Get(0).(*domain.Order)
	return o, args.Error(1)
}

func (m *mockTracker) ApplyStatus(ctx context.Context, exchangeOrderID string, s domain.OrderStatus) (*domain.Order, error) {
	args := m.Called(ctx, exchangeOrderID, s)
	o, _ := args.Get(0).(*domain.Order)
	return o, args.Error(1)
}

func newHandler(tr Tracker) *ExchangeOrderHandler {
	return NewExchangeOrderHandler(tr, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func message(value string) kafka.Message {
	return kafka.Message{Topic: "exchange-orders", Value: []byte(value)}
}

func TestHandleFill(t *testing.T) {
	tr := &mockTracker{}
	tr.On("RecordTrade", mock.Anything, mock.MatchedBy(func(trade domain.Trade) bool {
		return trade.ID() == "T1" &&
			trade.OrderID() == "EX-1" &&
			trade.Amount().Equal(domain.MustAmount("0.25", "BTC")) &&
			trade.Price().Equal(domain.MustAmount("64000", "USD")) &&
			trade.Timestamp().Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	})).Return(nil, nil).Once()

	err := newHandler(tr).Handle(context.Background(), message(`{
		"type":"fill","exchange_order_id":"EX-1","trade_id":"T1",
		"amount":{"value":"0.25","currency":"btc"},
		"price":{"value":"64000","currency":"USD"},
		"timestamp":"2024-06-01T10:00:00Z"}`))
	require.NoError(t, err)
	tr.AssertExpectations(t)
}

func TestHandleOrder(t *testing.T) {
	tr := &mockTracker{}
	tr.On("Track", mock.Anything, mock.MatchedBy(func(p domain.OrderParams) bool {
		return p.ExchangeOrderID == "EX-2" &&
			p.Type == domain.OrderTypeAsk &&
			p.Pair.String() == "BTC/USD" &&
			p.Amount.Equal(domain.MustAmount("1", "BTC")) &&
			p.LimitPrice.Equal(domain.MustAmount("70000", "USD")) &&
			p.MarketPrice.IsEmpty()
	})).Return(nil, nil).Once()

	err := newHandler(tr).Handle(context.Background(), message(`{
		"type":"order","exchange_order_id":"EX-2","order_type":"ASK","pair":"btc-usd",
		"amount":{"value":"1","currency":"BTC"},
		"limit_price":{"value":"70000","currency":"USD"},
		"market_price":null,
		"timestamp":"2024-06-01T09:00:00Z"}`))
	require.NoError(t, err)
	tr.AssertExpectations(t)
}

func TestHandleAckAndStatus(t *testing.T) {
	tr := &mockTracker{}
	tr.On("Acknowledge", mock.Anything, uint64(12), "EX-3").Return(nil, nil).Once()
	tr.On("ApplyStatus", mock.Anything, "EX-3", domain.OrderStatusCanceled).Return(nil, nil).Once()
	h := newHandler(tr)

	require.NoError(t, h.Handle(context.Background(), message(`{"type":"ack","local_id":12,"exchange_order_id":"EX-3"}`)))
	require.NoError(t, h.Handle(context.Background(), message(`{"type":"status","exchange_order_id":"EX-3","status":"CANCELED"}`)))
	tr.AssertExpectations(t)
}

func TestHandlePoisonMessages(t *testing.T) {
	tests := []struct {
		name  string
		value string
		setup func(*mockTracker)
		cause error
	}{
		{name: "malformed json", value: `{"type":`},
		{name: "unknown type", value: `{"type":"funding"}`, cause: ErrUnknownMessage},
		{name: "bad pair", value: `{"type":"order","pair":"BTCUSD"}`, cause: domain.ErrMalformedPair},
		{name: "invalid trade", value: `{"type":"fill","exchange_order_id":"EX-1","trade_id":"T1"}`, cause: domain.ErrMissingCurrency},
		{name: "unknown status", value: `{"type":"status","exchange_order_id":"EX-1","status":"EXPIRED"}`, cause: domain.ErrInvalidStatus},
		{
			name:  "lifecycle rejection",
			value: `{"type":"status","exchange_order_id":"EX-1","status":"NEW"}`,
			setup: func(tr *mockTracker) {
				tr.On("ApplyStatus", mock.Anything, "EX-1", domain.OrderStatusNew).
					Return(nil, &domain.LifecycleError{OrderID: "EX-1", Status: domain.OrderStatusFilled, Err: domain.ErrTerminalOrder})
			},
			cause: domain.ErrTerminalOrder,
		},
		{
			name:  "unknown order",
			value: `{"type":"status","exchange_order_id":"EX-404","status":"CANCELED"}`,
			setup: func(tr *mockTracker) {
				tr.On("ApplyStatus", mock.Anything, "EX-404", domain.OrderStatusCanceled).Return(nil, application.ErrOrderNotTracked)
			},
			cause: application.ErrOrderNotTracked,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &mockTracker{}
			if tt.setup != nil {
				tt.setup(tr)
			}
			err := newHandler(tr).Handle(context.Background(), message(tt.value))
			require.ErrorIs(t, err, mq.ErrPoison)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestHandleInfrastructureErrorIsRetryable(t *testing.T) {
	dbDown := errors.New("connection refused")
	tr := &mockTracker{}
	tr.On("ApplyStatus", mock.Anything, "EX-1", domain.OrderStatusCanceled).Return(nil, dbDown)

	err := newHandler(tr).Handle(context.Background(), message(`{"type":"status","exchange_order_id":"EX-1","status":"CANCELED"}`))
	assert.ErrorIs(t, err, dbDown)
	assert.NotErrorIs(t, err, mq.ErrPoison)
}
