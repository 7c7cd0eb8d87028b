package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/pkg/logging"
	"github.com/wyfcoding/tradingbot/pkg/metrics"
)

// ErrOrderNotTracked 按交易所订单号找不到订单
var ErrOrderNotTracked = errors.New("order not tracked")

// OrderTracker 订单跟踪服务。
// 同一订单的变更串行执行：加锁 → 加载 → 应用 → 保存 → 发布事件。
type OrderTracker struct {
	repo      domain.OrderRepository
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
	tolerance decimal.Decimal
	locks     *keyedMutex
	now       func() time.Time
}

// TrackerOption 订单跟踪服务选项
type TrackerOption func(*OrderTracker)

// WithPublisher 设置事件发布者
func WithPublisher(p domain.EventPublisher) TrackerOption {
	return func(t *OrderTracker) { t.publisher = p }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) TrackerOption {
	return func(t *OrderTracker) { t.metrics = m }
}

// WithOverfillTolerance 设置新建订单的超额成交容差
func WithOverfillTolerance(d decimal.Decimal) TrackerOption {
	return func(t *OrderTracker) { t.tolerance = d }
}

// WithClock 替换时钟，用于测试
func WithClock(now func() time.Time) TrackerOption {
	return func(t *OrderTracker) { t.now = now }
}

// NewOrderTracker 创建订单跟踪服务
func NewOrderTracker(repo domain.OrderRepository, opts ...TrackerOption) *OrderTracker {
	t := &OrderTracker{
		repo:      repo,
		tolerance: domain.DefaultOverfillTolerance,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track 登记一个本地创建或从交易所获知的订单。
// 带交易所订单号且已存在时直接返回已有订单。
func (t *OrderTracker) Track(ctx context.Context, params domain.OrderParams) (*domain.Order, error) {
	if params.OverfillTolerance == nil {
		tolerance := t.tolerance
		params.OverfillTolerance = &tolerance
	}
	if params.ExchangeOrderID != "" {
		unlock := t.locks.Lock(params.ExchangeOrderID)
		defer unlock()

		existing, err := t.repo.FindByExchangeOrderID(ctx, params.ExchangeOrderID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logging.Debug(ctx, "order already tracked", "exchange_order_id", params.ExchangeOrderID, "id", existing.ID())
			return existing, nil
		}
	}

	order, err := domain.NewOrder(params)
	if err != nil {
		return nil, err
	}
	id, err := t.repo.Save(ctx, order)
	if err != nil {
		return nil, err
	}

	logging.Info(ctx, "order tracked",
		"id", id,
		"exchange_order_id", params.ExchangeOrderID,
		"pair", params.Pair.String(),
		"type", string(params.Type),
		"status", string(order.Status()),
	)
	return order, nil
}

// Acknowledge 记录交易所对本地订单的确认
func (t *OrderTracker) Acknowledge(ctx context.Context, id uint64, exchangeOrderID string) (*domain.Order, error) {
	unlock := t.locks.Lock("local:" + strconv.FormatUint(id, 10))
	defer unlock()
	unlockExchange := t.locks.Lock(exchangeOrderID)
	defer unlockExchange()

	order, err := t.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	old := order.Status()
	if err := order.Acknowledge(exchangeOrderID); err != nil {
		t.reject(ctx, "acknowledge", err)
		return nil, err
	}
	if _, err := t.repo.Save(ctx, order); err != nil {
		return nil, err
	}
	t.afterMutation(ctx, order, old, nil)
	return order, nil
}

// RecordTrade 把一笔成交追加到所属订单。
// 重复成交直接返回订单且不产生事件；生命周期拒绝以 *domain.LifecycleError 返回。
func (t *OrderTracker) RecordTrade(ctx context.Context, trade domain.Trade) (*domain.Order, error) {
	unlock := t.locks.Lock(trade.OrderID())
	defer unlock()

	order, err := t.find(ctx, trade.OrderID())
	if err != nil {
		return nil, err
	}
	old := order.Status()
	added, err := order.AddTrade(trade)
	if err != nil {
		t.reject(ctx, "record_trade", err)
		return nil, err
	}
	if !added {
		logging.Debug(ctx, "duplicate trade ignored", "exchange_order_id", trade.OrderID(), "trade_id", trade.ID())
		return order, nil
	}
	if _, err := t.repo.Save(ctx, order); err != nil {
		return nil, err
	}
	if t.metrics != nil {
		t.metrics.TradesRecorded.Inc()
	}
	t.afterMutation(ctx, order, old, &trade)
	return order, nil
}

// ApplyStatus 应用交易所推送的订单状态
func (t *OrderTracker) ApplyStatus(ctx context.Context, exchangeOrderID string, status domain.OrderStatus) (*domain.Order, error) {
	unlock := t.locks.Lock(exchangeOrderID)
	defer unlock()

	order, err := t.find(ctx, exchangeOrderID)
	if err != nil {
		return nil, err
	}
	old := order.Status()
	if err := order.ApplyStatus(status); err != nil {
		t.reject(ctx, "apply_status", err)
		return nil, err
	}
	if old == order.Status() {
		return order, nil
	}
	if _, err := t.repo.Save(ctx, order); err != nil {
		return nil, err
	}
	t.afterMutation(ctx, order, old, nil)
	return order, nil
}

// Get 按交易所订单号查询订单
func (t *OrderTracker) Get(ctx context.Context, exchangeOrderID string) (*domain.Order, error) {
	return t.find(ctx, exchangeOrderID)
}

// Open 列出货币对上仍在挂单的订单
func (t *OrderTracker) Open(ctx context.Context, pair domain.CurrencyPair) ([]*domain.Order, error) {
	return t.repo.ListOpen(ctx, pair)
}

func (t *OrderTracker) find(ctx context.Context, exchangeOrderID string) (*domain.Order, error) {
	order, err := t.repo.FindByExchangeOrderID(ctx, exchangeOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotTracked, exchangeOrderID)
	}
	return order, nil
}

func (t *OrderTracker) reject(ctx context.Context, op string, err error) {
	var le *domain.LifecycleError
	if !errors.As(err, &le) {
		logging.Warn(ctx, "order mutation invalid", "op", op, "error", err)
		return
	}
	if t.metrics != nil {
		t.metrics.LifecycleRejections.WithLabelValues(le.Reason()).Inc()
	}
	logging.Warn(ctx, "order mutation rejected",
		"op", op,
		"exchange_order_id", le.OrderID,
		"trade_id", le.TradeID,
		"status", string(le.Status),
		"reason", le.Reason(),
	)
}

// afterMutation 在保存成功后发布事件。事件发布失败只记录日志，订单状态以存储为准。
func (t *OrderTracker) afterMutation(ctx context.Context, order *domain.Order, old domain.OrderStatus, trade *domain.Trade) {
	state := order.Snapshot()
	if state.Status != old && state.Status.IsTerminal() && t.metrics != nil {
		t.metrics.OrdersTerminal.WithLabelValues(string(state.Status)).Inc()
	}
	if t.publisher == nil {
		return
	}

	at := t.now()
	if trade != nil {
		if err := t.publisher.PublishTradeRecorded(ctx, domain.NewTradeRecordedEvent(state, *trade, at)); err != nil {
			logging.Error(ctx, "failed to publish trade recorded event", "exchange_order_id", state.ExchangeOrderID, "trade_id", trade.ID(), "error", err)
		}
	}
	if state.Status != old {
		if err := t.publisher.PublishStatusChanged(ctx, domain.NewStatusChangedEvent(state, old, at)); err != nil {
			logging.Error(ctx, "failed to publish status changed event", "exchange_order_id", state.ExchangeOrderID, "error", err)
		}
	}
}
