// Package redis 提供 K 线序列的 Redis 读缓存。
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
)

const (
	defaultPrefix = "tradingbot:candles:"
	defaultTTL    = 24 * time.Hour
	defaultMaxLen = 5000
)

// CandleCache 每个货币对一个有序集合，score 为时间桶起点的 epoch 秒。
// 同一时间桶只保留最后写入的一根。
type CandleCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	maxLen int64
}

// Option 缓存选项
type Option func(*CandleCache)

// WithTTL 设置键过期时间
func WithTTL(ttl time.Duration) Option {
	return func(c *CandleCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxLen 设置每个货币对保留的最大根数
func WithMaxLen(n int64) Option {
	return func(c *CandleCache) {
		if n > 0 {
			c.maxLen = n
		}
	}
}

// NewCandleCache 创建基于 Redis 的 K 线读缓存
func NewCandleCache(client redis.UniversalClient, opts ...Option) *CandleCache {
	c := &CandleCache{
		client: client,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
		maxLen: defaultMaxLen,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ domain.CandleCache = (*CandleCache)(nil)

type cachedCandle struct {
	ID         uint64         `json:"id,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
	Candle     *domain.Candle `json:"candle"`
}

func (c *CandleCache) key(pair domain.CurrencyPair) string {
	return c.prefix + pair.String()
}

// Append 写入 K 线，按货币对分组后在一个事务管道中执行
func (c *CandleCache) Append(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	touched := make(map[string]struct{})
	for _, candle := range candles {
		data, err := json.Marshal(cachedCandle{ID: candle.ID(), RecordedAt: candle.RecordedAt(), Candle: candle})
		if err != nil {
			return fmt.Errorf("failed to marshal candle: %w", err)
		}
		key := c.key(candle.Pair())
		score := strconv.FormatInt(candle.BucketStart().Unix(), 10)
		pipe.ZRemRangeByScore(ctx, key, score, score)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(candle.BucketStart().Unix()), Member: data})
		touched[key] = struct{}{}
	}
	for key := range touched {
		pipe.ZRemRangeByRank(ctx, key, 0, -c.maxLen-1)
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append candles to redis: %w", err)
	}
	return nil
}

// Range 读取 [from, to) 内的 K 线，按时间升序
func (c *CandleCache) Range(ctx context.Context, pair domain.CurrencyPair, from, to time.Time) ([]*domain.Candle, error) {
	values, err := c.client.ZRangeByScore(ctx, c.key(pair), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: "(" + strconv.FormatInt(to.Unix(), 10),
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to range candles from redis: %w", err)
	}

	candles := make([]*domain.Candle, 0, len(values))
	for _, val := range values {
		var entry cachedCandle
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candle: %w", err)
		}
		if entry.Candle == nil {
			continue
		}
		entry.Candle.Identity = domain.RestoreIdentity(entry.ID, entry.RecordedAt, entry.RecordedAt)
		candles = append(candles, entry.Candle)
	}
	return candles, nil
}
