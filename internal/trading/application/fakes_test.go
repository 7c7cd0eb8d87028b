package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
)

// memoryOrderRepo 以快照保存订单，加载时经 RestoreOrder 重建
type memoryOrderRepo struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]domain.OrderState
	saves  int
	err    error
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{rows: make(map[uint64]domain.OrderState)}
}

func (r *memoryOrderRepo) Save(_ context.Context, o *domain.Order) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.saves++
	if !o.Assigned() {
		r.nextID++
		if err := o.AssignID(r.nextID, time.Now().UTC()); err != nil {
			return 0, err
		}
	}
	r.rows[o.ID()] = o.Snapshot()
	return o.ID(), nil
}

func (r *memoryOrderRepo) Load(_ context.Context, id uint64) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return domain.RestoreOrder(s, domain.DefaultOverfillTolerance)
}

func (r *memoryOrderRepo) FindByExchangeOrderID(_ context.Context, exchangeOrderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.ExchangeOrderID == exchangeOrderID {
			return domain.RestoreOrder(s, domain.DefaultOverfillTolerance)
		}
	}
	return nil, nil
}

func (r *memoryOrderRepo) ListOpen(_ context.Context, pair domain.CurrencyPair) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, s := range r.rows {
		if s.Status.IsOpen() && (pair.IsZero() || s.Pair == pair) {
			o, err := domain.RestoreOrder(s, domain.DefaultOverfillTolerance)
			if err != nil {
				return nil, err
			}
			out = append(out, o)
		}
	}
	return out, nil
}

type memoryCandleRepo struct {
	mu      sync.Mutex
	nextID  uint64
	rows    map[string]*domain.Candle
	batches int
	ranges  int
	err     error
}

func newMemoryCandleRepo() *memoryCandleRepo {
	return &memoryCandleRepo{rows: make(map[string]*domain.Candle)}
}

func candleKey(pair domain.CurrencyPair, at time.Time) string {
	return pair.String() + "@" + at.UTC().Format(time.RFC3339)
}

func (r *memoryCandleRepo) SaveBatch(_ context.Context, candles []*domain.Candle) ([]*domain.Candle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.batches++
	var conflicts []*domain.Candle
	for _, c := range candles {
		if c.Assigned() {
			continue
		}
		key := candleKey(c.Pair(), c.BucketStart())
		if existing, ok := r.rows[key]; ok {
			if !domain.CandleBusinessEquals(existing, c) {
				conflicts = append(conflicts, c)
				continue
			}
			if err := c.AssignID(existing.ID(), existing.RecordedAt()); err != nil {
				return conflicts, err
			}
			continue
		}
		r.nextID++
		if err := c.AssignID(r.nextID, time.Now().UTC()); err != nil {
			return conflicts, err
		}
		r.rows[key] = c
	}
	return conflicts, nil
}

func (r *memoryCandleRepo) Load(_ context.Context, id uint64) (*domain.Candle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.rows {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryCandleRepo) FindByBusinessKey(_ context.Context, pair domain.CurrencyPair, at time.Time) (*domain.Candle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[candleKey(pair, at)], nil
}

func (r *memoryCandleRepo) Range(_ context.Context, pair domain.CurrencyPair, from, to time.Time) ([]*domain.Candle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranges++
	var out []*domain.Candle
	for _, c := range r.rows {
		if c.Pair() == pair && !c.BucketStart().Before(from) && c.BucketStart().Before(to) {
			out = append(out, c)
		}
	}
	domain.SortCandles(out)
	return out, nil
}

type memoryCandleCache struct {
	mu      sync.Mutex
	candles []*domain.Candle
	err     error
}

func (c *memoryCandleCache) Append(_ context.Context, candles []*domain.Candle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.candles = append(c.candles, candles...)
	return nil
}

func (c *memoryCandleCache) Range(_ context.Context, pair domain.CurrencyPair, from, to time.Time) ([]*domain.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var out []*domain.Candle
	for _, cd := range c.candles {
		if cd.Pair() == pair && !cd.BucketStart().Before(from) && cd.BucketStart().Before(to) {
			out = append(out, cd)
		}
	}
	return out, nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishTradeRecorded(ctx context.Context, e domain.OrderTradeRecordedEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockPublisher) PublishStatusChanged(ctx context.Context, e domain.OrderStatusChangedEvent) error {
	return m.Called(ctx, e).Error(0)
}

var errBoom = errors.New("boom")
