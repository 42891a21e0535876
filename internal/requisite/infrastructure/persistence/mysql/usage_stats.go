package mysql

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentplatform/internal/requisite/domain"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
)

// usageStats 从交易表推导收款方式的在途使用统计
type usageStats struct {
	db *gorm.DB
}

// NewUsageStats 创建并返回一个新的 usageStats 实例。
func NewUsageStats(db *gorm.DB) domain.UsageStats {
	return &usageStats{db: db}
}

// HasActiveWithAmount 同收款方式、完全同额度的 CREATED/IN_PROGRESS 交易是否存在
func (s *usageStats) HasActiveWithAmount(ctx context.Context, detailID string, amount decimal.Decimal) (bool, error) {
	var count int64
	err := s.getDB(ctx).WithContext(ctx).
		Table("transactions").
		Where("bank_detail_id = ?", detailID).
		Where("amount = ?", amount).
		Where("status IN ?", []string{"CREATED", "IN_PROGRESS"}).
		Count(&count).Error
	return count > 0, err
}

// CountToday 当日非取消操作数
func (s *usageStats) CountToday(ctx context.Context, detailID string, now time.Time) (int64, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var count int64
	err := s.getDB(ctx).WithContext(ctx).
		Table("transactions").
		Where("bank_detail_id = ?", detailID).
		Where("status <> ?", "CANCELED").
		Where("created_at >= ?", dayStart).
		Count(&count).Error
	return count, err
}

// CountInFlight 进行中 + 已完成操作数
func (s *usageStats) CountInFlight(ctx context.Context, detailID string) (int64, error) {
	var count int64
	err := s.getDB(ctx).WithContext(ctx).
		Table("transactions").
		Where("bank_detail_id = ?", detailID).
		Where("status IN ?", []string{"IN_PROGRESS", "READY"}).
		Count(&count).Error
	return count, err
}

// SumInFlight 进行中 + 已完成金额合计
func (s *usageStats) SumInFlight(ctx context.Context, detailID string) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := s.getDB(ctx).WithContext(ctx).
		Table("transactions").
		Select("SUM(amount)").
		Where("bank_detail_id = ?", detailID).
		Where("status IN ?", []string{"IN_PROGRESS", "READY"}).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

// CreatedWithin 冷却窗口内是否创建过非取消/非过期交易
func (s *usageStats) CreatedWithin(ctx context.Context, detailID string, window time.Duration) (bool, error) {
	var count int64
	err := s.getDB(ctx).WithContext(ctx).
		Table("transactions").
		Where("bank_detail_id = ?", detailID).
		Where("status NOT IN ?", []string{"CANCELED", "EXPIRED"}).
		Where("created_at >= ?", time.Now().Add(-window)).
		Count(&count).Error
	return count > 0, err
}

func (s *usageStats) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return s.db
}
