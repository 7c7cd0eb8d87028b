// Package consumer 把交易所订单回报消息转换为订单跟踪操作。
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/tradingbot/internal/trading/application"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/pkg/mq"
)

// 回报消息类型
const (
	MessageOrder  = "order"
	MessageAck    = "ack"
	MessageFill   = "fill"
	MessageStatus = "status"
)

// ErrUnknownMessage 无法识别的消息类型
var ErrUnknownMessage = errors.New("unknown exchange message type")

// ExchangeMessage 交易所回报消息体
type ExchangeMessage struct {
	Type            string `json:"type"`
	ExchangeOrderID string `json:"exchange_order_id"`
	// ack 消息指向本地订单代理键
	LocalID uint64 `json:"local_id,omitempty"`

	// order
	OrderType     string                `json:"order_type,omitempty"`
	Pair          string                `json:"pair,omitempty"`
	StrategyID    string                `json:"strategy_id,omitempty"`
	Amount        domain.CurrencyAmount `json:"amount"`
	LimitPrice    domain.CurrencyAmount `json:"limit_price"`
	MarketPrice   domain.CurrencyAmount `json:"market_price"`
	Leverage      string                `json:"leverage,omitempty"`
	UserReference string                `json:"user_reference,omitempty"`

	// fill
	TradeID string                `json:"trade_id,omitempty"`
	Price   domain.CurrencyAmount `json:"price"`

	// status
	Status string `json:"status,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Tracker 处理器依赖的订单跟踪操作
type Tracker interface {
	Track(ctx context.Context, params domain.OrderParams) (*domain.Order, error)
	Acknowledge(ctx context.Context, id uint64, exchangeOrderID string) (*domain.Order, error)
	RecordTrade(ctx context.Context, trade domain.Trade) (*domain.Order, error)
	ApplyStatus(ctx context.Context, exchangeOrderID string, status domain.OrderStatus) (*domain.Order, error)
}

var _ Tracker = (*application.OrderTracker)(nil)

// ExchangeOrderHandler 实现 mq.Handler。
// 无法解析或被领域规则拒绝的消息标记为 mq.ErrPoison，由消费循环转入死信队列；
// 其余错误（存储不可用等）原样返回，消息不提交。
type ExchangeOrderHandler struct {
	tracker Tracker
	logger  *slog.Logger
}

// NewExchangeOrderHandler 创建回报消息处理器
func NewExchangeOrderHandler(tracker Tracker, logger *slog.Logger) *ExchangeOrderHandler {
	return &ExchangeOrderHandler{tracker: tracker, logger: logger.With("module", "exchange_order_handler")}
}

var _ mq.Handler = (*ExchangeOrderHandler)(nil)

// Handle 实现 mq.Handler
func (h *ExchangeOrderHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var m ExchangeMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal exchange message", "offset", msg.Offset, "error", err)
		return fmt.Errorf("%w: %w", mq.ErrPoison, err)
	}

	err := h.dispatch(ctx, m)
	if err == nil {
		return nil
	}
	if poisonous(err) {
		h.logger.WarnContext(ctx, "exchange message rejected",
			"type", m.Type,
			"exchange_order_id", m.ExchangeOrderID,
			"trade_id", m.TradeID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", mq.ErrPoison, err)
	}
	return err
}

// poisonous 重试同一条消息无法成功的错误。
// 成交先于订单消息到达时返回 ErrOrderNotTracked，该消息进入死信；订单登记后用
// order-tracker -replay-dead-letters 把死信发回原 topic 重新处理。
func poisonous(err error) bool {
	return domain.IsDomainError(err) ||
		errors.Is(err, application.ErrOrderNotTracked) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, ErrUnknownMessage)
}

func (h *ExchangeOrderHandler) dispatch(ctx context.Context, m ExchangeMessage) error {
	switch m.Type {
	case MessageOrder:
		pair, err := domain.ParseCurrencyPair(m.Pair)
		if err != nil {
			return err
		}
		_, err = h.tracker.Track(ctx, domain.OrderParams{
			ExchangeOrderID: m.ExchangeOrderID,
			Type:            domain.OrderType(m.OrderType),
			Pair:            pair,
			StrategyID:      m.StrategyID,
			Amount:          m.Amount,
			LimitPrice:      m.LimitPrice,
			MarketPrice:     m.MarketPrice,
			Leverage:        m.Leverage,
			UserReference:   m.UserReference,
			CreatedAt:       m.Timestamp,
		})
		return err
	case MessageAck:
		_, err := h.tracker.Acknowledge(ctx, m.LocalID, m.ExchangeOrderID)
		return err
	case MessageFill:
		trade, err := domain.NewTrade(m.TradeID, m.ExchangeOrderID, m.Amount, m.Price, m.Timestamp)
		if err != nil {
			return err
		}
		_, err = h.tracker.RecordTrade(ctx, trade)
		return err
	case MessageStatus:
		status := domain.OrderStatus(m.Status)
		if !status.Valid() {
			return &domain.ValidationError{Field: "status", Value: m.Status, Err: domain.ErrInvalidStatus}
		}
		_, err := h.tracker.ApplyStatus(ctx, m.ExchangeOrderID, status)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}
