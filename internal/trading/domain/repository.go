package domain

import (
	"context"
	"time"
)

// OrderRepository 订单仓储接口。
// 代理键只在第一次保存成功时分配，之后不变也不复用。
type OrderRepository interface {
	// Load 按代理键加载订单，不存在时返回 ErrNotFound
	Load(ctx context.Context, id uint64) (*Order, error)
	// Save 保存订单及其成交，返回代理键
	Save(ctx context.Context, order *Order) (uint64, error)
	// FindByExchangeOrderID 按业务键查找，不存在时返回 nil, nil
	FindByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*Order, error)
	// ListOpen 列出仍在交易所挂单的订单
	ListOpen(ctx context.Context, pair CurrencyPair) ([]*Order, error)
}

// CandleRepository K 线仓储接口
type CandleRepository interface {
	// Load 按代理键加载，不存在时返回 ErrNotFound
	Load(ctx context.Context, id uint64) (*Candle, error)
	// SaveBatch 批量保存并为每根 K 线分配代理键。
	// 业务键已存在且 OHLCV 相同的行沿用已有代理键；OHLCV 不同的行不落库、不分配代理键，作为冲突返回。
	SaveBatch(ctx context.Context, candles []*Candle) (conflicts []*Candle, err error)
	// FindByBusinessKey 按 (货币对, 时间桶起点) 查找，不存在时返回 nil, nil
	FindByBusinessKey(ctx context.Context, pair CurrencyPair, bucketStart time.Time) (*Candle, error)
	// Range 查询 [from, to) 区间内的 K 线，按时间升序
	Range(ctx context.Context, pair CurrencyPair, from, to time.Time) ([]*Candle, error)
}

// CandleCache K 线读缓存
type CandleCache interface {
	// Append 追加 K 线到对应货币对的序列
	Append(ctx context.Context, candles []*Candle) error
	// Range 读取 [from, to) 区间，未命中时返回空切片
	Range(ctx context.Context, pair CurrencyPair, from, to time.Time) ([]*Candle, error)
}
