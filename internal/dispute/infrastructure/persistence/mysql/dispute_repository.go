package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"

	"github.com/wyfcoding/paymentplatform/internal/dispute/domain"
)

// openStatuses 未决争议的状态集合
var openStatuses = []domain.Status{domain.StatusOpen, domain.StatusInProgress}

// disputeRepository 争议仓储实现
type disputeRepository struct {
	db *gorm.DB
}

// NewDisputeRepository 创建并返回一个新的 disputeRepository 实例。
func NewDisputeRepository(db *gorm.DB) domain.DisputeRepository {
	return &disputeRepository{db: db}
}

// Create 创建争议；transaction_id 唯一键冲突映射为 ErrDisputeExists
func (r *disputeRepository) Create(ctx context.Context, dispute *domain.DealDispute) error {
	err := r.getDB(ctx).WithContext(ctx).Create(dispute).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDisputeExists
		}
		return err
	}
	return nil
}

// Get 按争议 ID 获取
func (r *disputeRepository) Get(ctx context.Context, disputeID string) (*domain.DealDispute, error) {
	var dispute domain.DealDispute
	if err := r.getDB(ctx).WithContext(ctx).Where("dispute_id = ?", disputeID).First(&dispute).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDisputeNotFound
		}
		return nil, err
	}
	return &dispute, nil
}

// GetByTransaction 按交易 ID 获取
func (r *disputeRepository) GetByTransaction(ctx context.Context, transactionID string) (*domain.DealDispute, error) {
	var dispute domain.DealDispute
	if err := r.getDB(ctx).WithContext(ctx).Where("transaction_id = ?", transactionID).First(&dispute).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDisputeNotFound
		}
		return nil, err
	}
	return &dispute, nil
}

// List 按状态分页列出争议
func (r *disputeRepository) List(ctx context.Context, status domain.Status, page, limit int) ([]*domain.DealDispute, int64, error) {
	query := r.getDB(ctx).WithContext(ctx).Model(&domain.DealDispute{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var disputes []*domain.DealDispute
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&disputes).Error
	if err != nil {
		return nil, 0, err
	}
	return disputes, total, nil
}

// HasOpenDispute 交易上是否存在未决争议
func (r *disputeRepository) HasOpenDispute(ctx context.Context, transactionID string) (bool, error) {
	var count int64
	err := r.getDB(ctx).WithContext(ctx).Model(&domain.DealDispute{}).
		Where("transaction_id = ? AND status IN ?", transactionID, openStatuses).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkResolved 条件更新：WHERE status IN 未决态，保证并发裁决只有一个生效
func (r *disputeRepository) MarkResolved(ctx context.Context, disputeID string, status domain.Status, resolution string, resolvedAt time.Time) error {
	result := r.getDB(ctx).WithContext(ctx).
		Model(&domain.DealDispute{}).
		Where("dispute_id = ? AND status IN ?", disputeID, openStatuses).
		Updates(map[string]any{
			"status":      status,
			"resolution":  resolution,
			"resolved_at": resolvedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.getDB(ctx).WithContext(ctx).Model(&domain.DealDispute{}).
			Where("dispute_id = ?", disputeID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrDisputeNotFound
		}
		return domain.ErrAlreadyResolved
	}
	return nil
}

// Reopen 裁决落地后交易流转失败时的回退
func (r *disputeRepository) Reopen(ctx context.Context, disputeID string) error {
	return r.getDB(ctx).WithContext(ctx).
		Model(&domain.DealDispute{}).
		Where("dispute_id = ?", disputeID).
		Updates(map[string]any{
			"status":      domain.StatusOpen,
			"resolution":  "",
			"resolved_at": nil,
		}).Error
}

// Delete 删除争议
func (r *disputeRepository) Delete(ctx context.Context, disputeID string) error {
	return r.getDB(ctx).WithContext(ctx).
		Where("dispute_id = ?", disputeID).
		Delete(&domain.DealDispute{}).Error
}

func (r *disputeRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}
