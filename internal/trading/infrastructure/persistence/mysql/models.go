// Package mysql 提供订单与 K 线仓储的 GORM 实现，同时支持 MySQL 与 PostgreSQL。
package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"gorm.io/gorm"
)

// OrderModel 订单表映射。交易所确认前 exchange_order_id 为 NULL，不参与唯一约束。
type OrderModel struct {
	gorm.Model
	ExchangeOrderID *string             `gorm:"column:exchange_order_id;type:varchar(64);uniqueIndex;comment:交易所订单号"`
	Type            string              `gorm:"column:type;type:varchar(8);not null;comment:BID/ASK"`
	Pair            string              `gorm:"column:pair;type:varchar(32);index;not null;comment:货币对"`
	StrategyID      string              `gorm:"column:strategy_id;type:varchar(64);index;comment:下单策略"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:decimal(32,18);not null;comment:委托数量"`
	AmountCurrency  string              `gorm:"column:amount_currency;type:varchar(16);not null"`
	LimitPrice      decimal.NullDecimal `gorm:"column:limit_price;type:decimal(32,18)"`
	LimitCurrency   string              `gorm:"column:limit_currency;type:varchar(16)"`
	MarketPrice     decimal.NullDecimal `gorm:"column:market_price;type:decimal(32,18);comment:下单时市价"`
	MarketCurrency  string              `gorm:"column:market_currency;type:varchar(16)"`
	AveragePrice    decimal.NullDecimal `gorm:"column:average_price;type:decimal(32,18);comment:成交均价"`
	AverageCurrency string              `gorm:"column:average_currency;type:varchar(16)"`
	Cumulative      decimal.Decimal     `gorm:"column:cumulative_amount;type:decimal(32,18);not null;comment:累计成交数量"`
	Leverage        string              `gorm:"column:leverage;type:varchar(16)"`
	Status          string              `gorm:"column:status;type:varchar(20);index;not null"`
	UserReference   string              `gorm:"column:user_reference;type:varchar(64)"`
	PlacedAt        time.Time           `gorm:"column:placed_at;not null;comment:订单创建时间"`
	Trades          []TradeModel        `gorm:"foreignKey:OrderRefID"`
}

// TableName 指定表名
func (OrderModel) TableName() string {
	return "bot_orders"
}

// TradeModel 成交表映射，同一订单内 trade_id 唯一
type TradeModel struct {
	ID              uint            `gorm:"primarykey"`
	OrderRefID      uint            `gorm:"column:order_ref_id;uniqueIndex:idx_order_trade;not null"`
	TradeID         string          `gorm:"column:trade_id;type:varchar(64);uniqueIndex:idx_order_trade;not null"`
	ExchangeOrderID string          `gorm:"column:exchange_order_id;type:varchar(64);index;not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null"`
	AmountCurrency  string          `gorm:"column:amount_currency;type:varchar(16);not null"`
	Price           decimal.Decimal `gorm:"column:price;type:decimal(32,18);not null"`
	PriceCurrency   string          `gorm:"column:price_currency;type:varchar(16);not null"`
	ExecutedAt      time.Time       `gorm:"column:executed_at;index;not null"`
	CreatedAt       time.Time
}

func (TradeModel) TableName() string { return "bot_trades" }

// CandleModel K 线表映射，(pair, bucket_start) 唯一
type CandleModel struct {
	ID          uint            `gorm:"primarykey"`
	Pair        string          `gorm:"column:pair;type:varchar(32);uniqueIndex:idx_pair_bucket;not null"`
	BucketStart time.Time       `gorm:"column:bucket_start;uniqueIndex:idx_pair_bucket;not null"`
	Open        decimal.Decimal `gorm:"column:open;type:decimal(32,18);not null"`
	High        decimal.Decimal `gorm:"column:high;type:decimal(32,18);not null"`
	Low         decimal.Decimal `gorm:"column:low;type:decimal(32,18);not null"`
	Close       decimal.Decimal `gorm:"column:close;type:decimal(32,18);not null"`
	Volume      decimal.Decimal `gorm:"column:volume;type:decimal(32,18);not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CandleModel) TableName() string { return "bot_candles" }

// AutoMigrate 创建或更新全部表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&OrderModel{}, &TradeModel{}, &CandleModel{})
}

func nullAmount(a domain.CurrencyAmount) (decimal.NullDecimal, string) {
	if a.IsEmpty() {
		return decimal.NullDecimal{}, ""
	}
	return decimal.NewNullDecimal(a.Value()), a.Currency().String()
}

func amountFrom(value decimal.NullDecimal, currency string) (domain.CurrencyAmount, error) {
	if !value.Valid || currency == "" {
		return domain.CurrencyAmount{}, nil
	}
	return domain.NewCurrencyAmount(value.Decimal, domain.CurrencyCode(currency))
}

// FromDomain 用订单快照填充模型，不含成交
func (m *OrderModel) FromDomain(s domain.OrderState) {
	m.ID = uint(s.ID)
	if s.ExchangeOrderID != "" {
		id := s.ExchangeOrderID
		m.ExchangeOrderID = &id
	}
	m.Type = string(s.Type)
	m.Pair = s.Pair.String()
	m.StrategyID = s.StrategyID
	m.Amount = s.Amount.Value()
	m.AmountCurrency = s.Amount.Currency().String()
	m.LimitPrice, m.LimitCurrency = nullAmount(s.LimitPrice)
	m.MarketPrice, m.MarketCurrency = nullAmount(s.MarketPrice)
	m.AveragePrice, m.AverageCurrency = nullAmount(s.AveragePrice)
	m.Cumulative = s.CumulativeAmount.Value()
	m.Leverage = s.Leverage
	m.Status = string(s.Status)
	m.UserReference = s.UserReference
	m.PlacedAt = s.CreatedAt
}

// ToState 把模型还原为订单快照
func (m *OrderModel) ToState() (domain.OrderState, error) {
	pair, err := domain.ParseCurrencyPair(m.Pair)
	if err != nil {
		return domain.OrderState{}, err
	}
	amount, err := domain.NewCurrencyAmount(m.Amount, domain.CurrencyCode(m.AmountCurrency))
	if err != nil {
		return domain.OrderState{}, err
	}
	limit, err := amountFrom(m.LimitPrice, m.LimitCurrency)
	if err != nil {
		return domain.OrderState{}, err
	}
	market, err := amountFrom(m.MarketPrice, m.MarketCurrency)
	if err != nil {
		return domain.OrderState{}, err
	}
	average, err := amountFrom(m.AveragePrice, m.AverageCurrency)
	if err != nil {
		return domain.OrderState{}, err
	}
	cumulative, err := domain.NewCurrencyAmount(m.Cumulative, domain.CurrencyCode(m.AmountCurrency))
	if err != nil {
		return domain.OrderState{}, err
	}

	trades := make([]domain.Trade, 0, len(m.Trades))
	for i := range m.Trades {
		t, err := m.Trades[i].ToDomain()
		if err != nil {
			return domain.OrderState{}, err
		}
		trades = append(trades, t)
	}

	s := domain.OrderState{
		ID:               uint64(m.ID),
		RecordedAt:       m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		Type:             domain.OrderType(m.Type),
		Pair:             pair,
		StrategyID:       m.StrategyID,
		Amount:           amount,
		AveragePrice:     average,
		LimitPrice:       limit,
		MarketPrice:      market,
		Leverage:         m.Leverage,
		Status:           domain.OrderStatus(m.Status),
		CumulativeAmount: cumulative,
		UserReference:    m.UserReference,
		CreatedAt:        m.PlacedAt,
		Trades:           trades,
	}
	if m.ExchangeOrderID != nil {
		s.ExchangeOrderID = *m.ExchangeOrderID
	}
	return s, nil
}

// FromDomain 填充成交模型
func (m *TradeModel) FromDomain(orderRefID uint, t domain.Trade) {
	m.OrderRefID = orderRefID
	m.TradeID = t.ID()
	m.ExchangeOrderID = t.OrderID()
	m.Amount = t.Amount().Value()
	m.AmountCurrency = t.Amount().Currency().String()
	m.Price = t.Price().Value()
	m.PriceCurrency = t.Price().Currency().String()
	m.ExecutedAt = t.Timestamp()
}

func (m *TradeModel) ToDomain() (domain.Trade, error) {
	amount, err := domain.NewCurrencyAmount(m.Amount, domain.CurrencyCode(m.AmountCurrency))
	if err != nil {
		return domain.Trade{}, err
	}
	price, err := domain.NewCurrencyAmount(m.Price, domain.CurrencyCode(m.PriceCurrency))
	if err != nil {
		return domain.Trade{}, err
	}
	return domain.NewTrade(m.TradeID, m.ExchangeOrderID, amount, price, m.ExecutedAt)
}

func (m *CandleModel) FromDomain(c *domain.Candle) {
	m.Pair = c.Pair().String()
	m.BucketStart = c.BucketStart()
	m.Open = c.Open()
	m.High = c.High()
	m.Low = c.Low()
	m.Close = c.Close()
	m.Volume = c.Volume()
}

// sameFacts 已存储行与 K 线的 OHLCV 是否一致，业务键由调用方保证相同
func (m *CandleModel) sameFacts(c *domain.Candle) bool {
	return m.Open.Equal(c.Open()) &&
		m.High.Equal(c.High()) &&
		m.Low.Equal(c.Low()) &&
		m.Close.Equal(c.Close()) &&
		m.Volume.Equal(c.Volume())
}

// ToDomain 重新校验后还原 K 线，并恢复代理键
func (m *CandleModel) ToDomain() (*domain.Candle, error) {
	pair, err := domain.ParseCurrencyPair(m.Pair)
	if err != nil {
		return nil, err
	}
	c, err := domain.NewCandle(pair, m.Open, m.High, m.Low, m.Close, m.Volume, m.BucketStart)
	if err != nil {
		return nil, err
	}
	c.Identity = domain.RestoreIdentity(uint64(m.ID), m.CreatedAt, m.UpdatedAt)
	return c, nil
}
