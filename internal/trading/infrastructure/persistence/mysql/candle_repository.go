package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/pkg/database"
	"github.com/wyfcoding/tradingbot/pkg/logging"
	"gorm.io/gorm"
)

// DefaultCandleBatchSize 单条 INSERT 语句写入的最大行数
const DefaultCandleBatchSize = 500

type candleRepositoryImpl struct {
	db        *gorm.DB
	batchSize int
}

// NewCandleRepository 创建 K 线仓储实例
func NewCandleRepository(db *gorm.DB, batchSize int) domain.CandleRepository {
	if batchSize <= 0 {
		batchSize = DefaultCandleBatchSize
	}
	return &candleRepositoryImpl{db: db, batchSize: batchSize}
}

// SaveBatch 实现 domain.CandleRepository.SaveBatch。
// 业务键冲突的行保持原样，写入后按业务键回查已存储的行：OHLCV 一致时分配其代理键，否则作为冲突返回。
func (r *candleRepositoryImpl) SaveBatch(ctx context.Context, candles []*domain.Candle) ([]*domain.Candle, error) {
	pending := make([]*domain.Candle, 0, len(candles))
	for _, c := range candles {
		if !c.Assigned() {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	models := make([]CandleModel, len(pending))
	for i, c := range pending {
		models[i].FromDomain(c)
	}

	var stored []CandleModel
	err := database.WithTx(ctx, r.db, func(txCtx context.Context) error {
		tx := database.Conn(txCtx, r.db)
		if err := tx.Clauses(database.UpsertColumns([]string{"pair", "bucket_start"}, nil)).
			CreateInBatches(&models, r.batchSize).Error; err != nil {
			return err
		}
		var err error
		stored, err = r.lookupKeys(tx, pending)
		return err
	})
	if err != nil {
		logging.Error(ctx, "candle_repository.save_batch failed", "count", len(pending), "error", err)
		return nil, fmt.Errorf("failed to save candles: %w", err)
	}

	index := make(map[string]CandleModel, len(stored))
	for _, m := range stored {
		index[businessKey(m.Pair, m.BucketStart)] = m
	}
	var conflicts []*domain.Candle
	for _, c := range pending {
		m, ok := index[businessKey(c.Pair().String(), c.BucketStart())]
		if !ok {
			return conflicts, fmt.Errorf("candle %s@%s not found after insert", c.Pair(), c.BucketStart().Format(time.RFC3339))
		}
		if !m.sameFacts(c) {
			conflicts = append(conflicts, c)
			continue
		}
		if err := c.AssignID(uint64(m.ID), m.CreatedAt); err != nil {
			return conflicts, err
		}
	}
	if len(conflicts) > 0 {
		logging.Warn(ctx, "candle_repository.save_batch conflicts", "count", len(conflicts))
	}
	return conflicts, nil
}

func businessKey(pair string, bucketStart time.Time) string {
	return fmt.Sprintf("%s@%d", pair, bucketStart.Unix())
}

// lookupKeys 按货币对分组，在各自时间范围内查询已存储的行
func (r *candleRepositoryImpl) lookupKeys(tx *gorm.DB, candles []*domain.Candle) ([]CandleModel, error) {
	type span struct{ from, to time.Time }
	spans := make(map[string]span)
	for _, c := range candles {
		key := c.Pair().String()
		s, ok := spans[key]
		if !ok {
			s = span{from: c.BucketStart(), to: c.BucketStart()}
		}
		if c.BucketStart().Before(s.from) {
			s.from = c.BucketStart()
		}
		if c.BucketStart().After(s.to) {
			s.to = c.BucketStart()
		}
		spans[key] = s
	}

	var out []CandleModel
	for pair, s := range spans {
		var rows []CandleModel
		err := tx.Where("pair = ? AND bucket_start >= ? AND bucket_start <= ?", pair, s.from, s.to).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Load 实现 domain.CandleRepository.Load
func (r *candleRepositoryImpl) Load(ctx context.Context, id uint64) (*domain.Candle, error) {
	var model CandleModel
	if err := database.Conn(ctx, r.db).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		logging.Error(ctx, "candle_repository.load failed", "id", id, "error", err)
		return nil, fmt.Errorf("failed to load candle: %w", err)
	}
	return model.ToDomain()
}

// FindByBusinessKey 实现 domain.CandleRepository.FindByBusinessKey
func (r *candleRepositoryImpl) FindByBusinessKey(ctx context.Context, pair domain.CurrencyPair, bucketStart time.Time) (*domain.Candle, error) {
	var model CandleModel
	err := database.Conn(ctx, r.db).
		Where("pair = ? AND bucket_start = ?", pair.String(), bucketStart.UTC()).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "candle_repository.find_by_business_key failed", "pair", pair.String(), "bucket_start", bucketStart, "error", err)
		return nil, fmt.Errorf("failed to find candle: %w", err)
	}
	return model.ToDomain()
}

// Range 实现 domain.CandleRepository.Range
func (r *candleRepositoryImpl) Range(ctx context.Context, pair domain.CurrencyPair, from, to time.Time) ([]*domain.Candle, error) {
	var models []CandleModel
	err := database.Conn(ctx, r.db).
		Where("pair = ? AND bucket_start >= ? AND bucket_start < ?", pair.String(), from.UTC(), to.UTC()).
		Order("bucket_start asc").
		Find(&models).Error
	if err != nil {
		logging.Error(ctx, "candle_repository.range failed", "pair", pair.String(), "error", err)
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}

	candles := make([]*domain.Candle, 0, len(models))
	for i := range models {
		c, err := models[i].ToDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to map candle %d: %w", models[i].ID, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}
