package domain

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// 相等性分两种，调用方需显式选择：
//   - IdentityEquals：比较存储代理键，用于存储层去重，未分配代理键的实体彼此不相等
//   - BusinessEquals：比较业务字段，用于判断是否为同一个现实对象，与代理键无关
//
// Order 的业务键是交易所订单号，K 线的业务键是 (货币对, 时间桶起点)。

// OrderIdentityEquals 两个订单的代理键均已分配且相同
func OrderIdentityEquals(a, b *Order) bool {
	if a == nil || b == nil {
		return false
	}
	ida, idb := a.ID(), b.ID()
	return ida != 0 && ida == idb
}

// OrderBusinessEquals 比较全部业务字段，不含代理键与成交明细
func OrderBusinessEquals(a, b *Order) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a == b {
		return true
	}
	sa, sb := a.Snapshot(), b.Snapshot()
	return sa.ExchangeOrderID == sb.ExchangeOrderID &&
		sa.Type == sb.Type &&
		sa.Pair == sb.Pair &&
		sa.Amount.Equal(sb.Amount) &&
		sa.AveragePrice.Equal(sb.AveragePrice) &&
		sa.LimitPrice.Equal(sb.LimitPrice) &&
		sa.MarketPrice.Equal(sb.MarketPrice) &&
		sa.Leverage == sb.Leverage &&
		sa.Status == sb.Status &&
		sa.CumulativeAmount.Equal(sb.CumulativeAmount) &&
		sa.UserReference == sb.UserReference &&
		sa.CreatedAt.Equal(sb.CreatedAt)
}

// OrderHash 只由交易所订单号派生，在订单其余字段变化时保持稳定
func OrderHash(o *Order) uint64 {
	return xxhash.Sum64String(o.ExchangeOrderID())
}

// CandleIdentityEquals 两根 K 线的代理键均已分配且相同
func CandleIdentityEquals(a, b *Candle) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID() != 0 && a.ID() == b.ID()
}

// CandleBusinessEquals 业务键与 OHLCV 全部相同
func CandleBusinessEquals(a, b *Candle) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.pair == b.pair &&
		a.bucketStart.Equal(b.bucketStart) &&
		a.open.Equal(b.open) &&
		a.high.Equal(b.high) &&
		a.low.Equal(b.low) &&
		a.close.Equal(b.close) &&
		a.volume.Equal(b.volume)
}

// CandleHash 由业务键派生，与 CandleBusinessEquals 一致
func CandleHash(c *Candle) uint64 {
	return xxhash.Sum64String(candleKeyString(c.BusinessKey()))
}

func candleKeyString(k CandleKey) string {
	return k.Pair.String() + "@" + strconv.FormatInt(k.BucketStart.Unix(), 10)
}
