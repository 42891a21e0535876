package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"

	"github.com/wyfcoding/paymentplatform/internal/aggregator/domain"
)

// aggregatorRepository 聚合器仓储实现
type aggregatorRepository struct {
	db *gorm.DB
}

// NewAggregatorRepository 创建并返回一个新的 aggregatorRepository 实例。
func NewAggregatorRepository(db *gorm.DB) domain.AggregatorRepository {
	return &aggregatorRepository{db: db}
}

// Save 保存或更新聚合器
func (r *aggregatorRepository) Save(ctx context.Context, agg *domain.Aggregator) error {
	return r.getDB(ctx).WithContext(ctx).Save(agg).Error
}

// Get 按聚合器 ID 获取
func (r *aggregatorRepository) Get(ctx context.Context, aggregatorID string) (*domain.Aggregator, error) {
	var agg domain.Aggregator
	if err := r.getDB(ctx).WithContext(ctx).Where("aggregator_id = ?", aggregatorID).First(&agg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAggregatorNotFound
		}
		return nil, err
	}
	return &agg, nil
}

// ListRoutable 列出可路由的聚合器：启用且配置了接入地址，排除已尝试的
func (r *aggregatorRepository) ListRoutable(ctx context.Context, excludeIDs []string) ([]*domain.Aggregator, error) {
	query := r.getDB(ctx).WithContext(ctx).
		Where("is_active = ? AND base_url <> ''", true)
	if len(excludeIDs) > 0 {
		query = query.Where("aggregator_id NOT IN ?", excludeIDs)
	}

	var aggs []*domain.Aggregator
	if err := query.Order("priority DESC, aggregator_id ASC").Find(&aggs).Error; err != nil {
		return nil, err
	}
	return aggs, nil
}

// Hold 乐观冻结：frozen_balance += cost，可用余额不足不生效
func (r *aggregatorRepository) Hold(ctx context.Context, aggregatorID string, cost decimal.Decimal) error {
	result := r.getDB(ctx).WithContext(ctx).Model(&domain.Aggregator{}).
		Where("aggregator_id = ?", aggregatorID).
		Where("balance_usdt - frozen_balance >= ?", cost).
		Update("frozen_balance", gorm.Expr("frozen_balance + ?", cost))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.getDB(ctx).WithContext(ctx).Model(&domain.Aggregator{}).
			Where("aggregator_id = ?", aggregatorID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrAggregatorNotFound
		}
		return domain.ErrInsufficientBalance
	}
	return nil
}

// ReleaseHold 释放冻结：frozen_balance -= cost
func (r *aggregatorRepository) ReleaseHold(ctx context.Context, aggregatorID string, cost decimal.Decimal) error {
	result := r.getDB(ctx).WithContext(ctx).Model(&domain.Aggregator{}).
		Where("aggregator_id = ?", aggregatorID).
		Where("frozen_balance >= ?", cost).
		Update("frozen_balance", gorm.Expr("frozen_balance - ?", cost))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAggregatorNotFound
	}
	return nil
}

// CommitHold 冻结转实扣，并累计平台分成与当日承接量
func (r *aggregatorRepository) CommitHold(ctx context.Context, aggregatorID string, cost, profitShare, dealVolume decimal.Decimal) error {
	result := r.getDB(ctx).WithContext(ctx).Model(&domain.Aggregator{}).
		Where("aggregator_id = ?", aggregatorID).
		Where("frozen_balance >= ? AND balance_usdt >= ?", cost, cost).
		Updates(map[string]any{
			"frozen_balance":       gorm.Expr("frozen_balance - ?", cost),
			"balance_usdt":         gorm.Expr("balance_usdt - ?", cost),
			"profit_share_usdt":    gorm.Expr("profit_share_usdt + ?", profitShare),
			"current_daily_volume": gorm.Expr("current_daily_volume + ?", dealVolume),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

// MarkDispatched 记录派发时间
func (r *aggregatorRepository) MarkDispatched(ctx context.Context, aggregatorID string, at time.Time) error {
	return r.getDB(ctx).WithContext(ctx).Model(&domain.Aggregator{}).
		Where("aggregator_id = ?", aggregatorID).
		Update("last_dispatch_at", at).Error
}

// ResetDailyVolumes 清零当日承接量
func (r *aggregatorRepository) ResetDailyVolumes(ctx context.Context) error {
	return r.getDB(ctx).WithContext(ctx).Model(&domain.Aggregator{}).
		Where("current_daily_volume > 0").
		Update("current_daily_volume", decimal.Zero).Error
}

func (r *aggregatorRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}
