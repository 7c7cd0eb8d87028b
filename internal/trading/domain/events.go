package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OrderTradeRecordedEvent 订单记录了一笔新成交
type OrderTradeRecordedEvent struct {
	EventID          string         `json:"event_id"`
	ExchangeOrderID  string         `json:"exchange_order_id"`
	Pair             CurrencyPair   `json:"pair"`
	TradeID          string         `json:"trade_id"`
	Amount           CurrencyAmount `json:"amount"`
	Price            CurrencyAmount `json:"price"`
	CumulativeAmount CurrencyAmount `json:"cumulative_amount"`
	AveragePrice     CurrencyAmount `json:"average_price"`
	Status           OrderStatus    `json:"status"`
	OccurredOn       time.Time      `json:"occurred_on"`
}

// OrderStatusChangedEvent 订单状态变更
type OrderStatusChangedEvent struct {
	EventID         string       `json:"event_id"`
	ExchangeOrderID string       `json:"exchange_order_id"`
	Pair            CurrencyPair `json:"pair"`
	OldStatus       OrderStatus  `json:"old_status"`
	NewStatus       OrderStatus  `json:"new_status"`
	OccurredOn      time.Time    `json:"occurred_on"`
}

// NewTradeRecordedEvent 基于成交后的订单快照构造事件
func NewTradeRecordedEvent(s OrderState, t Trade, at time.Time) OrderTradeRecordedEvent {
	return OrderTradeRecordedEvent{
		EventID:          uuid.NewString(),
		ExchangeOrderID:  s.ExchangeOrderID,
		Pair:             s.Pair,
		TradeID:          t.ID(),
		Amount:           t.Amount(),
		Price:            t.Price(),
		CumulativeAmount: s.CumulativeAmount,
		AveragePrice:     s.AveragePrice,
		Status:           s.Status,
		OccurredOn:       at,
	}
}

// NewStatusChangedEvent 构造状态变更事件
func NewStatusChangedEvent(s OrderState, old OrderStatus, at time.Time) OrderStatusChangedEvent {
	return OrderStatusChangedEvent{
		EventID:         uuid.NewString(),
		ExchangeOrderID: s.ExchangeOrderID,
		Pair:            s.Pair,
		OldStatus:       old,
		NewStatus:       s.Status,
		OccurredOn:      at,
	}
}

// EventPublisher 订单事件发布者接口
type EventPublisher interface {
	// PublishTradeRecorded 发布成交记录事件
	PublishTradeRecorded(ctx context.Context, event OrderTradeRecordedEvent) error

	// PublishStatusChanged 发布订单状态变更事件
	PublishStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error
}
