package domain

import (
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// AveragePriceScale 均价保留的小数位，与存储列 decimal(32,18) 一致
const AveragePriceScale = 18

// DefaultOverfillTolerance 默认的超额成交容差
var DefaultOverfillTolerance = decimal.New(1, -8)

// OrderParams 创建订单所需参数
type OrderParams struct {
	// 交易所订单号，交易所确认前可以为空
	ExchangeOrderID string
	Type            OrderType
	Pair            CurrencyPair
	// 创建该订单的策略
	StrategyID  string
	Amount      CurrencyAmount
	LimitPrice  CurrencyAmount
	MarketPrice CurrencyAmount
	Leverage    string
	// 下单时用户提供的引用号
	UserReference string
	CreatedAt     time.Time
	// 超额成交容差，nil 时使用 DefaultOverfillTolerance，零表示不允许超额
	OverfillTolerance *decimal.Decimal
}

// Order 订单聚合根。
// status、累计成交量、成交均价与成交集合可变，其余字段创建后冻结。
// 累计成交量与均价始终由成交集合推导；内部互斥锁保证追加成交与重算是一个原子步骤。
type Order struct {
	mu sync.RWMutex
	Identity

	exchangeOrderID string
	orderType       OrderType
	pair            CurrencyPair
	strategyID      string
	amount          CurrencyAmount
	limitPrice      CurrencyAmount
	marketPrice     CurrencyAmount
	leverage        string
	userReference   string
	createdAt       time.Time
	tolerance       decimal.Decimal

	status       OrderStatus
	cumulative   CurrencyAmount
	averagePrice CurrencyAmount
	trades       []Trade
}

// NewOrder 创建订单。带交易所订单号时直接为 NEW，否则为 PENDING_NEW。
func NewOrder(p OrderParams) (*Order, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}

	status := OrderStatusPendingNew
	if p.ExchangeOrderID != "" {
		status = OrderStatusNew
	}
	tolerance := DefaultOverfillTolerance
	if p.OverfillTolerance != nil {
		tolerance = *p.OverfillTolerance
	}

	return &Order{
		exchangeOrderID: p.ExchangeOrderID,
		orderType:       p.Type,
		pair:            p.Pair,
		strategyID:      p.StrategyID,
		amount:          p.Amount,
		limitPrice:      p.LimitPrice,
		marketPrice:     p.MarketPrice,
		leverage:        p.Leverage,
		userReference:   p.UserReference,
		createdAt:       p.CreatedAt.UTC(),
		tolerance:       tolerance,
		status:          status,
		cumulative:      ZeroAmount(p.Amount.Currency()),
	}, nil
}

func validateParams(p OrderParams) error {
	switch {
	case !p.Type.Valid():
		return &ValidationError{Field: "type", Value: string(p.Type), Err: ErrInvalidOrderType}
	case p.Pair.IsZero():
		return &ValidationError{Field: "currency_pair", Err: ErrRequired}
	case p.Amount.IsEmpty():
		return &ValidationError{Field: "amount", Err: ErrMissingCurrency}
	case !p.Amount.Value().IsPositive():
		return &ValidationError{Field: "amount", Value: p.Amount.String(), Err: ErrNonPositive}
	case p.CreatedAt.IsZero():
		return &ValidationError{Field: "created_at", Err: ErrRequired}
	case p.OverfillTolerance != nil && p.OverfillTolerance.IsNegative():
		return &ValidationError{Field: "overfill_tolerance", Value: p.OverfillTolerance.String(), Err: ErrInvalidNumber}
	}
	return nil
}

// OrderState 订单的只读快照，用于读取方、持久化与比较
type OrderState struct {
	ID               uint64
	RecordedAt       time.Time
	UpdatedAt        time.Time
	ExchangeOrderID  string
	Type             OrderType
	Pair             CurrencyPair
	StrategyID       string
	Amount           CurrencyAmount
	AveragePrice     CurrencyAmount
	LimitPrice       CurrencyAmount
	MarketPrice      CurrencyAmount
	Leverage         string
	Status           OrderStatus
	CumulativeAmount CurrencyAmount
	UserReference    string
	CreatedAt        time.Time
	// 按时间升序
	Trades []Trade
}

// RestoreOrder 从存储快照重建订单，tolerance 原样生效，零表示不允许超额。
// 累计成交量与均价由成交重新推导，与快照中的值不一致时返回 ErrInconsistentFill。
func RestoreOrder(s OrderState, tolerance decimal.Decimal) (*Order, error) {
	if !s.Status.Valid() {
		return nil, &ValidationError{Field: "status", Value: string(s.Status), Err: ErrInvalidStatus}
	}
	o, err := NewOrder(OrderParams{
		ExchangeOrderID:   s.ExchangeOrderID,
		Type:              s.Type,
		Pair:              s.Pair,
		StrategyID:        s.StrategyID,
		Amount:            s.Amount,
		LimitPrice:        s.LimitPrice,
		MarketPrice:       s.MarketPrice,
		Leverage:          s.Leverage,
		UserReference:     s.UserReference,
		CreatedAt:         s.CreatedAt,
		OverfillTolerance: &tolerance,
	})
	if err != nil {
		return nil, err
	}
	o.Identity = RestoreIdentity(s.ID, s.RecordedAt, s.UpdatedAt)
	o.status = s.Status

	trades := slices.Clone(s.Trades)
	slices.SortStableFunc(trades, func(a, b Trade) int { return a.timestamp.Compare(b.timestamp) })

	cumulative, average, err := o.totals(trades)
	if err != nil {
		return nil, err
	}
	if !cumulative.Equal(s.CumulativeAmount) && !(s.CumulativeAmount.IsEmpty() && len(trades) == 0) {
		return nil, o.lifecycleError("", ErrInconsistentFill)
	}
	if !s.AveragePrice.IsEmpty() && !average.Equal(s.AveragePrice) {
		return nil, o.lifecycleError("", ErrInconsistentFill)
	}
	o.trades = trades
	o.cumulative = cumulative
	o.averagePrice = average
	return o, nil
}

// totals 校验成交并计算累计成交量与加权均价
func (o *Order) totals(trades []Trade) (CurrencyAmount, CurrencyAmount, error) {
	cumulative := ZeroAmount(o.amount.Currency())
	if len(trades) == 0 {
		return cumulative, CurrencyAmount{}, nil
	}

	priceCurrency := o.expectedPriceCurrency()
	notional := decimal.Zero
	for _, t := range trades {
		if err := o.checkTradeCurrencies(t, priceCurrency); err != nil {
			return CurrencyAmount{}, CurrencyAmount{}, err
		}
		if priceCurrency == "" {
			priceCurrency = t.price.Currency()
		}
		cumulative = CurrencyAmount{value: cumulative.value.Add(t.amount.value), currency: cumulative.currency}
		notional = notional.Add(t.amount.value.Mul(t.price.value))
	}
	average := CurrencyAmount{
		value:    notional.DivRound(cumulative.value, AveragePriceScale),
		currency: priceCurrency,
	}
	return cumulative, average, nil
}

// expectedPriceCurrency 成交价币种以已有均价为准，其次是限价与下单时市价
func (o *Order) expectedPriceCurrency() CurrencyCode {
	switch {
	case !o.averagePrice.IsEmpty():
		return o.averagePrice.Currency()
	case !o.limitPrice.IsEmpty():
		return o.limitPrice.Currency()
	case !o.marketPrice.IsEmpty():
		return o.marketPrice.Currency()
	}
	return ""
}

func (o *Order) checkTradeCurrencies(t Trade, priceCurrency CurrencyCode) error {
	if t.amount.Currency() != o.amount.Currency() {
		return o.lifecycleError(t.id, ErrCurrencyMismatch)
	}
	if priceCurrency != "" && t.price.Currency() != priceCurrency {
		return o.lifecycleError(t.id, ErrCurrencyMismatch)
	}
	return nil
}

func (o *Order) lifecycleError(tradeID string, err error) *LifecycleError {
	return &LifecycleError{OrderID: o.exchangeOrderID, TradeID: tradeID, Status: o.status, Err: err}
}

// AddTrade 追加一笔成交并重算累计成交量、均价与状态。
// 累计量恰好等于或在容差内超过委托量时为 FILLED，低于委托量时为 PARTIALLY_FILLED。
// 已记录过的成交编号被忽略并返回 false，终态订单上的重复投递同样被忽略；任何失败都不改变订单。
func (o *Order) AddTrade(t Trade) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.exchangeOrderID == "" {
		return false, o.lifecycleError(t.id, ErrNotAcknowledged)
	}
	if t.orderID != o.exchangeOrderID {
		return false, o.lifecycleError(t.id, ErrForeignTrade)
	}
	if slices.ContainsFunc(o.trades, func(existing Trade) bool { return existing.id == t.id }) {
		return false, nil
	}
	if o.status.IsTerminal() {
		return false, o.lifecycleError(t.id, ErrTerminalOrder)
	}
	if err := o.checkTradeCurrencies(t, o.expectedPriceCurrency()); err != nil {
		return false, err
	}

	filled := o.cumulative.value.Add(t.amount.value)
	if filled.GreaterThan(o.amount.value.Add(o.tolerance)) {
		return false, o.lifecycleError(t.id, ErrOverfill)
	}

	trades := slices.Clone(o.trades)
	pos := slices.IndexFunc(trades, func(existing Trade) bool { return existing.timestamp.After(t.timestamp) })
	if pos < 0 {
		pos = len(trades)
	}
	trades = slices.Insert(trades, pos, t)

	cumulative, average, err := o.totals(trades)
	if err != nil {
		return false, err
	}

	o.trades = trades
	o.cumulative = cumulative
	o.averagePrice = average
	switch {
	case cumulative.value.GreaterThanOrEqual(o.amount.value):
		o.status = OrderStatusFilled
	case cumulative.value.IsPositive():
		o.status = OrderStatusPartiallyFilled
	}
	return true, nil
}

// Acknowledge 记录交易所订单号，PENDING_NEW 推进到 NEW。
// 同一编号重复确认是幂等的。
func (o *Order) Acknowledge(exchangeOrderID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if exchangeOrderID == "" {
		return &ValidationError{Field: "exchange_order_id", Err: ErrRequired}
	}
	if o.exchangeOrderID != "" && o.exchangeOrderID != exchangeOrderID {
		return o.lifecycleError("", ErrAlreadyAcknowledged)
	}
	if o.exchangeOrderID == "" && o.status.IsTerminal() {
		return o.lifecycleError("", ErrTerminalOrder)
	}
	o.exchangeOrderID = exchangeOrderID
	if o.status == OrderStatusPendingNew {
		o.status = OrderStatusNew
	}
	return nil
}

// ApplyStatus 应用交易所推送的状态（NEW、CANCELED、REJECTED）。
// 成交派生的状态只能由 AddTrade 产生；回退或终态后的变更被拒绝；重复状态为空操作。
func (o *Order) ApplyStatus(next OrderStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if next == o.status {
		return nil
	}
	switch {
	case next == OrderStatusPartiallyFilled || next == OrderStatusFilled:
		return o.lifecycleError("", ErrFillDerivedStatus)
	case o.status.IsTerminal():
		return o.lifecycleError("", ErrTerminalOrder)
	case !o.status.CanTransitionTo(next):
		return o.lifecycleError("", ErrStatusRegression)
	case next == OrderStatusNew && o.exchangeOrderID == "":
		return o.lifecycleError("", ErrNotAcknowledged)
	}
	o.status = next
	return nil
}

// Cancel 交易所确认撤单
func (o *Order) Cancel() error { return o.ApplyStatus(OrderStatusCanceled) }

// Reject 交易所拒单
func (o *Order) Reject() error { return o.ApplyStatus(OrderStatusRejected) }

// AssignID 在首次落库后分配代理键
func (o *Order) AssignID(id uint64, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Identity.AssignID(id, at)
}

// Touch 更新审计时间
func (o *Order) Touch(at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Identity.Touch(at)
}

func (o *Order) ID() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.Identity.ID()
}

func (o *Order) Assigned() bool { return o.ID() != 0 }

// Snapshot 返回一致的只读快照
func (o *Order) Snapshot() OrderState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return OrderState{
		ID:               o.Identity.id,
		RecordedAt:       o.Identity.recordedAt,
		UpdatedAt:        o.Identity.updatedAt,
		ExchangeOrderID:  o.exchangeOrderID,
		Type:             o.orderType,
		Pair:             o.pair,
		StrategyID:       o.strategyID,
		Amount:           o.amount,
		AveragePrice:     o.averagePrice,
		LimitPrice:       o.limitPrice,
		MarketPrice:      o.marketPrice,
		Leverage:         o.leverage,
		Status:           o.status,
		CumulativeAmount: o.cumulative,
		UserReference:    o.userReference,
		CreatedAt:        o.createdAt,
		Trades:           slices.Clone(o.trades),
	}
}

func (o *Order) ExchangeOrderID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.exchangeOrderID
}

func (o *Order) Status() OrderStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func (o *Order) CumulativeAmount() CurrencyAmount {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cumulative
}

func (o *Order) AveragePrice() CurrencyAmount {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.averagePrice
}

// Trades 按时间升序返回成交副本
func (o *Order) Trades() []Trade {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.trades)
}

// RemainingAmount 尚未成交的数量，超额成交时为零
func (o *Order) RemainingAmount() CurrencyAmount {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rest := o.amount.value.Sub(o.cumulative.value)
	if rest.IsNegative() {
		rest = decimal.Zero
	}
	return CurrencyAmount{value: rest, currency: o.amount.currency}
}

func (o *Order) IsTerminal() bool { return o.Status().IsTerminal() }

// 以下字段创建后不可变，无需加锁

func (o *Order) Type() OrderType                    { return o.orderType }
func (o *Order) Pair() CurrencyPair                 { return o.pair }
func (o *Order) StrategyID() string                 { return o.strategyID }
func (o *Order) RequestedAmount() CurrencyAmount    { return o.amount }
func (o *Order) LimitPrice() CurrencyAmount         { return o.limitPrice }
func (o *Order) MarketPrice() CurrencyAmount        { return o.marketPrice }
func (o *Order) Leverage() string                   { return o.leverage }
func (o *Order) UserReference() string              { return o.userReference }
func (o *Order) CreatedAt() time.Time               { return o.createdAt }
func (o *Order) OverfillTolerance() decimal.Decimal { return o.tolerance }
