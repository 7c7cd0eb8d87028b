package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
)

func newCache(t *testing.T, opts ...Option) (*CandleCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCandleCache(client, opts...), mr
}

func candle(t *testing.T, pair string, ts int64, closePrice string) *domain.Candle {
	t.Helper()
	c, err := domain.NewCandle(domain.MustParseCurrencyPair(pair),
		decimal.NewFromInt(10), decimal.NewFromInt(12), decimal.NewFromInt(9),
		decimal.RequireFromString(closePrice), decimal.NewFromInt(1), time.Unix(ts, 0))
	require.NoError(t, err)
	return c
}

func TestCandleCacheAppendAndRange(t *testing.T) {
	cache, mr := newCache(t)
	ctx := context.Background()
	btc := domain.MustParseCurrencyPair("BTC/USDT")

	first := candle(t, "BTC/USDT", 60, "11")
	require.NoError(t, first.AssignID(3, time.Unix(1000, 0).UTC()))
	require.NoError(t, cache.Append(ctx, []*domain.Candle{
		candle(t, "BTC/USDT", 180, "11.5"),
		first,
		candle(t, "BTC/USDT", 120, "10.5"),
		candle(t, "ETH/USDT", 120, "10"),
	}))

	got, err := cache.Range(ctx, btc, time.Unix(60, 0), time.Unix(180, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(60), got[0].BucketStart().Unix())
	assert.True(t, domain.CandleBusinessEquals(first, got[0]))
	assert.Equal(t, uint64(3), got[0].ID())
	assert.Equal(t, int64(120), got[1].BucketStart().Unix())

	assert.True(t, mr.Exists("tradingbot:candles:BTC/USDT"))
	assert.Greater(t, mr.TTL("tradingbot:candles:BTC/USDT"), time.Duration(0))
}

func TestCandleCacheReplacesSameBucket(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()
	btc := domain.MustParseCurrencyPair("BTC/USDT")

	require.NoError(t, cache.Append(ctx, []*domain.Candle{candle(t, "BTC/USDT", 60, "11")}))
	require.NoError(t, cache.Append(ctx, []*domain.Candle{candle(t, "BTC/USDT", 60, "10")}))

	got, err := cache.Range(ctx, btc, time.Unix(0, 0), time.Unix(1000, 0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Close().Equal(decimal.NewFromInt(10)))
}

func TestCandleCacheTrimsToMaxLen(t *testing.T) {
	cache, _ := newCache(t, WithMaxLen(2), WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, cache.Append(ctx, []*domain.Candle{
		candle(t, "BTC/USDT", 60, "11"),
		candle(t, "BTC/USDT", 120, "11"),
		candle(t, "BTC/USDT", 180, "11"),
	}))

	got, err := cache.Range(ctx, domain.MustParseCurrencyPair("BTC/USDT"), time.Unix(0, 0), time.Unix(1000, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(120), got[0].BucketStart().Unix())
}

func TestCandleCacheMiss(t *testing.T) {
	cache, _ := newCache(t)
	got, err := cache.Range(context.Background(), domain.MustParseCurrencyPair("XRP/EUR"), time.Unix(0, 0), time.Unix(100, 0))
	require.NoError(t, err)
	assert.Empty(t, got)
}
