package mysql

import (
	"context"
	"errors"

	"github.com/wyfcoding/paymentplatform/internal/traffic/domain"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
)

// trafficRepository 流量关系仓储实现
type trafficRepository struct {
	db *gorm.DB
}

// NewTrafficRepository 创建并返回一个新的 trafficRepository 实例。
func NewTrafficRepository(db *gorm.DB) domain.TrafficRepository {
	return &trafficRepository{db: db}
}

func (r *trafficRepository) Save(ctx context.Context, record *domain.TrafficRecord) error {
	return r.getDB(ctx).WithContext(ctx).Save(record).Error
}

func (r *trafficRepository) Get(ctx context.Context, traderID, merchantID string) (*domain.TrafficRecord, error) {
	var record domain.TrafficRecord
	err := r.getDB(ctx).WithContext(ctx).
		Where("trader_id = ? AND merchant_id = ?", traderID, merchantID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTrafficNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *trafficRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}
