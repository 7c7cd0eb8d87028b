package domain

import (
	"encoding/json"
	"time"
)

// Trade 交易所回报的一笔成交，属于且仅属于一个订单，创建后不可变。
// orderID 是对所属订单交易所编号的非持有反向引用。
type Trade struct {
	id        string
	orderID   string
	amount    CurrencyAmount
	price     CurrencyAmount
	timestamp time.Time
}

// NewTrade 创建成交，数量与价格都必须为正
func NewTrade(id, orderID string, amount, price CurrencyAmount, timestamp time.Time) (Trade, error) {
	switch {
	case id == "":
		return Trade{}, &ValidationError{Field: "trade_id", Err: ErrRequired}
	case orderID == "":
		return Trade{}, &ValidationError{Field: "order_id", Value: id, Err: ErrRequired}
	case amount.IsEmpty():
		return Trade{}, &ValidationError{Field: "amount", Value: id, Err: ErrMissingCurrency}
	case !amount.Value().IsPositive():
		return Trade{}, &ValidationError{Field: "amount", Value: amount.String(), Err: ErrNonPositive}
	case price.IsEmpty():
		return Trade{}, &ValidationError{Field: "price", Value: id, Err: ErrMissingCurrency}
	case !price.Value().IsPositive():
		return Trade{}, &ValidationError{Field: "price", Value: price.String(), Err: ErrNonPositive}
	case timestamp.IsZero():
		return Trade{}, &ValidationError{Field: "timestamp", Value: id, Err: ErrRequired}
	}
	return Trade{
		id:        id,
		orderID:   orderID,
		amount:    amount,
		price:     price,
		timestamp: timestamp.UTC(),
	}, nil
}

func (t Trade) ID() string             { return t.id }
func (t Trade) OrderID() string        { return t.orderID }
func (t Trade) Amount() CurrencyAmount { return t.amount }
func (t Trade) Price() CurrencyAmount  { return t.price }
func (t Trade) Timestamp() time.Time   { return t.timestamp }

// Equal 逐字段比较
func (t Trade) Equal(o Trade) bool {
	return t.id == o.id &&
		t.orderID == o.orderID &&
		t.amount.Equal(o.amount) &&
		t.price.Equal(o.price) &&
		t.timestamp.Equal(o.timestamp)
}

type tradeJSON struct {
	ID        string         `json:"id"`
	OrderID   string         `json:"order_id"`
	Amount    CurrencyAmount `json:"amount"`
	Price     CurrencyAmount `json:"price"`
	Timestamp time.Time      `json:"timestamp"`
}

func (t Trade) MarshalJSON() ([]byte, error) {
	return json.Marshal(tradeJSON{ID: t.id, OrderID: t.orderID, Amount: t.amount, Price: t.price, Timestamp: t.timestamp})
}

func (t *Trade) UnmarshalJSON(data []byte) error {
	var raw tradeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	built, err := NewTrade(raw.ID, raw.OrderID, raw.Amount, raw.Price, raw.Timestamp)
	if err != nil {
		return err
	}
	*t = built
	return nil
}
