package domain

import (
	"cmp"
	"encoding/json"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Candle 一个货币对在一个时间桶内的 OHLCV 数据。
// 历史事实，构造后不可修改；只有代理键会在首次落库时分配。
type Candle struct {
	Identity
	pair        CurrencyPair
	open        decimal.Decimal
	high        decimal.Decimal
	low         decimal.Decimal
	close       decimal.Decimal
	volume      decimal.Decimal
	bucketStart time.Time
}

// NewCandle 校验 OHLCV 不变量后创建 K 线，bucketStart 统一转为 UTC
func NewCandle(pair CurrencyPair, o, h, l, c, v decimal.Decimal, bucketStart time.Time) (*Candle, error) {
	if pair.IsZero() {
		return nil, &ValidationError{Field: ColumnCurrencyPair, Err: ErrRequired}
	}
	if bucketStart.IsZero() {
		return nil, &ValidationError{Field: ColumnTimestamp, Err: ErrRequired}
	}
	switch {
	case h.LessThan(l):
		return nil, &ValidationError{Field: ColumnHigh, Value: h.String(), Err: ErrHighBelowLow}
	case l.IsNegative():
		return nil, &ValidationError{Field: ColumnLow, Value: l.String(), Err: ErrNegativePrice}
	case o.LessThan(l) || o.GreaterThan(h):
		return nil, &ValidationError{Field: ColumnOpen, Value: o.String(), Err: ErrOpenOutOfRange}
	case c.LessThan(l) || c.GreaterThan(h):
		return nil, &ValidationError{Field: ColumnClose, Value: c.String(), Err: ErrCloseOutOfRange}
	case v.IsNegative():
		return nil, &ValidationError{Field: ColumnVolume, Value: v.String(), Err: ErrNegativeVolume}
	}

	return &Candle{
		pair:        pair,
		open:        o,
		high:        h,
		low:         l,
		close:       c,
		volume:      v,
		bucketStart: bucketStart.UTC(),
	}, nil
}

func (c *Candle) Pair() CurrencyPair      { return c.pair }
func (c *Candle) Open() decimal.Decimal   { return c.open }
func (c *Candle) High() decimal.Decimal   { return c.high }
func (c *Candle) Low() decimal.Decimal    { return c.low }
func (c *Candle) Close() decimal.Decimal  { return c.close }
func (c *Candle) Volume() decimal.Decimal { return c.volume }
func (c *Candle) BucketStart() time.Time  { return c.bucketStart }

// BusinessKey 返回 (货币对, 时间桶起点)
func (c *Candle) BusinessKey() CandleKey {
	return CandleKey{Pair: c.pair, BucketStart: c.bucketStart}
}

// CandleKey K 线的业务键
type CandleKey struct {
	Pair        CurrencyPair
	BucketStart time.Time
}

// SortCandles 按时间桶起点升序排序，同一时间按货币对排序
func SortCandles(candles []*Candle) {
	slices.SortStableFunc(candles, func(a, b *Candle) int {
		if c := a.bucketStart.Compare(b.bucketStart); c != 0 {
			return c
		}
		return cmp.Compare(a.pair.String(), b.pair.String())
	})
}

type candleJSON struct {
	Pair        CurrencyPair    `json:"pair"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	BucketStart time.Time       `json:"bucket_start"`
}

// MarshalJSON 只编码业务字段
func (c *Candle) MarshalJSON() ([]byte, error) {
	return json.Marshal(candleJSON{
		Pair:        c.pair,
		Open:        c.open,
		High:        c.high,
		Low:         c.low,
		Close:       c.close,
		Volume:      c.volume,
		BucketStart: c.bucketStart,
	})
}

// UnmarshalJSON 解码时重新校验不变量
func (c *Candle) UnmarshalJSON(data []byte) error {
	var raw candleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	built, err := NewCandle(raw.Pair, raw.Open, raw.High, raw.Low, raw.Close, raw.Volume, raw.BucketStart)
	if err != nil {
		return err
	}
	*c = *built
	return nil
}
