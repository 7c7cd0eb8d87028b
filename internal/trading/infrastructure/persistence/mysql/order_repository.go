package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/pkg/database"
	"github.com/wyfcoding/tradingbot/pkg/logging"
	"gorm.io/gorm"
)

// orderRepositoryImpl 是 domain.OrderRepository 的 GORM 实现。
// 订单与其成交在同一事务内写入；成交只追加，按 (order_ref_id, trade_id) 去重。
type orderRepositoryImpl struct {
	db        *gorm.DB
	tolerance decimal.Decimal
}

// NewOrderRepository 创建订单仓储实例，tolerance 用于还原订单时的超额成交容差
func NewOrderRepository(db *gorm.DB, tolerance decimal.Decimal) domain.OrderRepository {
	return &orderRepositoryImpl{db: db, tolerance: tolerance}
}

// Save 实现 domain.OrderRepository.Save
func (r *orderRepositoryImpl) Save(ctx context.Context, order *domain.Order) (uint64, error) {
	state := order.Snapshot()
	model := &OrderModel{}
	model.FromDomain(state)

	err := database.WithTx(ctx, r.db, func(txCtx context.Context) error {
		tx := database.Conn(txCtx, r.db)
		if model.ID == 0 {
			if err := tx.Omit("Trades").Create(model).Error; err != nil {
				return err
			}
		} else {
			res := tx.Model(&OrderModel{}).Where("id = ?", model.ID).Updates(map[string]any{
				"exchange_order_id": model.ExchangeOrderID,
				"status":            model.Status,
				"cumulative_amount": model.Cumulative,
				"average_price":     model.AveragePrice,
				"average_currency":  model.AverageCurrency,
			})
			if res.Error != nil {
				return res.Error
			}
		}

		if len(state.Trades) == 0 {
			return nil
		}
		trades := make([]TradeModel, len(state.Trades))
		for i, t := range state.Trades {
			trades[i].FromDomain(model.ID, t)
		}
		return tx.Clauses(database.UpsertColumns([]string{"order_ref_id", "trade_id"}, nil)).Create(&trades).Error
	})
	if err != nil {
		logging.Error(ctx, "order_repository.save failed", "exchange_order_id", state.ExchangeOrderID, "error", err)
		return 0, fmt.Errorf("failed to save order: %w", err)
	}

	if !order.Assigned() {
		if err := order.AssignID(uint64(model.ID), model.CreatedAt); err != nil {
			return 0, err
		}
	} else {
		order.Touch(time.Now().UTC())
	}
	return uint64(model.ID), nil
}

// Load 实现 domain.OrderRepository.Load
func (r *orderRepositoryImpl) Load(ctx context.Context, id uint64) (*domain.Order, error) {
	var model OrderModel
	if err := r.withTrades(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		logging.Error(ctx, "order_repository.load failed", "id", id, "error", err)
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return r.toDomain(&model)
}

// FindByExchangeOrderID 实现 domain.OrderRepository.FindByExchangeOrderID
func (r *orderRepositoryImpl) FindByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*domain.Order, error) {
	var model OrderModel
	err := r.withTrades(ctx).Where("exchange_order_id = ?", exchangeOrderID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "order_repository.find_by_exchange_order_id failed", "exchange_order_id", exchangeOrderID, "error", err)
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return r.toDomain(&model)
}

// ListOpen 实现 domain.OrderRepository.ListOpen，pair 为零值时返回全部货币对
func (r *orderRepositoryImpl) ListOpen(ctx context.Context, pair domain.CurrencyPair) ([]*domain.Order, error) {
	var models []OrderModel
	db := r.withTrades(ctx).Where("status IN ?", []string{string(domain.OrderStatusNew), string(domain.OrderStatusPartiallyFilled)})
	if !pair.IsZero() {
		db = db.Where("pair = ?", pair.String())
	}
	// 按创建时间正序，便于回放
	if err := db.Order("placed_at asc").Find(&models).Error; err != nil {
		logging.Error(ctx, "order_repository.list_open failed", "pair", pair.String(), "error", err)
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}

	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		o, err := r.toDomain(&models[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (r *orderRepositoryImpl) withTrades(ctx context.Context) *gorm.DB {
	return database.Conn(ctx, r.db).Preload("Trades", func(db *gorm.DB) *gorm.DB {
		return db.Order("executed_at asc")
	})
}

func (r *orderRepositoryImpl) toDomain(m *OrderModel) (*domain.Order, error) {
	state, err := m.ToState()
	if err != nil {
		return nil, fmt.Errorf("failed to map order %d: %w", m.ID, err)
	}
	o, err := domain.RestoreOrder(state, r.tolerance)
	if err != nil {
		return nil, fmt.Errorf("failed to restore order %d: %w", m.ID, err)
	}
	return o, nil
}
