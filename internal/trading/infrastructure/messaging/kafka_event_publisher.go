// Package messaging 把订单领域事件发布到 Kafka。
package messaging

import (
	"context"
	"fmt"

	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/pkg/mq"
)

// 事件类型，写入消息体的 type 字段
const (
	EventTypeTradeRecorded = "OrderTradeRecordedEvent"
	EventTypeStatusChanged = "OrderStatusChangedEvent"
)

// Envelope 订单事件消息体
type Envelope struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Payload any    `json:"payload"`
}

// KafkaOrderEventPublisher 实现 domain.EventPublisher。
// 以交易所订单号为消息键，保证同一订单的事件进入同一分区、按序消费。
type KafkaOrderEventPublisher struct {
	producer *mq.Producer
	topic    string
}

// NewKafkaOrderEventPublisher 创建订单事件发布者
func NewKafkaOrderEventPublisher(producer *mq.Producer, topic string) *KafkaOrderEventPublisher {
	return &KafkaOrderEventPublisher{producer: producer, topic: topic}
}

var _ domain.EventPublisher = (*KafkaOrderEventPublisher)(nil)

// PublishTradeRecorded 发布成交记录事件
func (p *KafkaOrderEventPublisher) PublishTradeRecorded(ctx context.Context, event domain.OrderTradeRecordedEvent) error {
	return p.publish(ctx, event.ExchangeOrderID, Envelope{Type: EventTypeTradeRecorded, EventID: event.EventID, Payload: event})
}

// PublishStatusChanged 发布订单状态变更事件
func (p *KafkaOrderEventPublisher) PublishStatusChanged(ctx context.Context, event domain.OrderStatusChangedEvent) error {
	return p.publish(ctx, event.ExchangeOrderID, Envelope{Type: EventTypeStatusChanged, EventID: event.EventID, Payload: event})
}

func (p *KafkaOrderEventPublisher) publish(ctx context.Context, key string, env Envelope) error {
	if key == "" {
		key = env.EventID
	}
	if err := p.producer.SendJSON(ctx, p.topic, key, env); err != nil {
		return fmt.Errorf("failed to publish %s: %w", env.Type, err)
	}
	return nil
}
