package mysql

import (
	"context"
	"errors"

	"github.com/wyfcoding/paymentplatform/internal/trader/domain"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// traderRepository 交易员仓储实现
type traderRepository struct {
	db *gorm.DB
}

// NewTraderRepository 创建并返回一个新的 traderRepository 实例。
func NewTraderRepository(db *gorm.DB) domain.TraderRepository {
	return &traderRepository{db: db}
}

// Save 保存或更新交易员
func (r *traderRepository) Save(ctx context.Context, trader *domain.Trader) error {
	return r.getDB(ctx).WithContext(ctx).Save(trader).Error
}

// Get 根据交易员 ID 获取交易员
func (r *traderRepository) Get(ctx context.Context, traderID string) (*domain.Trader, error) {
	var trader domain.Trader
	if err := r.getDB(ctx).WithContext(ctx).Where("trader_id = ?", traderID).First(&trader).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTraderNotFound
		}
		return nil, err
	}
	return &trader, nil
}

// GetForUpdate 在当前事务内以行锁获取交易员
func (r *traderRepository) GetForUpdate(ctx context.Context, traderID string) (*domain.Trader, error) {
	var trader domain.Trader
	err := r.getDB(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("trader_id = ?", traderID).
		First(&trader).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTraderNotFound
		}
		return nil, err
	}
	return &trader, nil
}

// ApplyDelta 以单条带守卫的 UPDATE 原子应用余额增量。
// WHERE 子句保证所有结果字段非负，读改写不跨数据库往返。
func (r *traderRepository) ApplyDelta(ctx context.Context, traderID string, delta domain.BalanceDelta) error {
	if delta.IsZero() {
		return nil
	}

	db := r.getDB(ctx).WithContext(ctx)

	result := db.Model(&domain.Trader{}).
		Where("trader_id = ?", traderID).
		Where("trust_balance + ? >= 0", delta.TrustBalance).
		Where("frozen_usdt + ? >= 0", delta.FrozenUsdt).
		Where("deposit + ? >= 0", delta.Deposit).
		Where("profit_from_deals + ? >= 0", delta.ProfitFromDeals).
		Where("profit_from_payouts + ? >= 0", delta.ProfitFromPayouts).
		Updates(map[string]any{
			"trust_balance":       gorm.Expr("trust_balance + ?", delta.TrustBalance),
			"frozen_usdt":         gorm.Expr("frozen_usdt + ?", delta.FrozenUsdt),
			"deposit":             gorm.Expr("deposit + ?", delta.Deposit),
			"profit_from_deals":   gorm.Expr("profit_from_deals + ?", delta.ProfitFromDeals),
			"profit_from_payouts": gorm.Expr("profit_from_payouts + ?", delta.ProfitFromPayouts),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&domain.Trader{}).Where("trader_id = ?", traderID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrTraderNotFound
		}
		return domain.ErrInsufficientBalance
	}
	return nil
}

func (r *traderRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}
