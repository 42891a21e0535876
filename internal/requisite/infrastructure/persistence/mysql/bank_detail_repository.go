package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentplatform/internal/requisite/domain"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
)

// bankDetailRepository 收款方式仓储实现
type bankDetailRepository struct {
	db *gorm.DB
}

// NewBankDetailRepository 创建并返回一个新的 bankDetailRepository 实例。
func NewBankDetailRepository(db *gorm.DB) domain.BankDetailRepository {
	return &bankDetailRepository{db: db}
}

func (r *bankDetailRepository) Create(ctx context.Context, detail *domain.BankDetail) error {
	return r.getDB(ctx).WithContext(ctx).Create(detail).Error
}

func (r *bankDetailRepository) Save(ctx context.Context, detail *domain.BankDetail) error {
	return r.getDB(ctx).WithContext(ctx).Save(detail).Error
}

func (r *bankDetailRepository) Get(ctx context.Context, detailID string) (*domain.BankDetail, error) {
	var detail domain.BankDetail
	if err := r.getDB(ctx).WithContext(ctx).Where("detail_id = ?", detailID).First(&detail).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBankDetailNotFound
		}
		return nil, err
	}
	return &detail, nil
}

func (r *bankDetailRepository) ListByTrader(ctx context.Context, traderID string, page, limit int) ([]*domain.BankDetail, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	db := r.getDB(ctx).WithContext(ctx).Model(&domain.BankDetail{}).Where("trader_id = ?", traderID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var details []*domain.BankDetail
	err := db.Order("created_at desc").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&details).Error
	if err != nil {
		return nil, 0, err
	}
	return details, total, nil
}

// Archive 归档（软删除），收款方式不做物理删除
func (r *bankDetailRepository) Archive(ctx context.Context, detailID string) error {
	result := r.getDB(ctx).WithContext(ctx).Model(&domain.BankDetail{}).
		Where("detail_id = ?", detailID).
		Updates(map[string]any{
			"is_archived": true,
			"is_active":   false,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrBankDetailNotFound
	}
	return nil
}

// candidateRow 候选池查询的扫描目标
type candidateRow struct {
	domain.BankDetail
	TraderMinAmount decimal.Decimal `gorm:"column:trader_min_amount"`
	TraderMaxAmount decimal.Decimal `gorm:"column:trader_max_amount"`
}

// FindEligible 基础候选池查询。
// 设备条件：无关联设备或设备已归档视为手动 (BT) 方式放行，
// 否则要求设备在线且工作中。按 updated_at 升序保证轮换公平。
func (r *bankDetailRepository) FindEligible(ctx context.Context, methodType string) ([]*domain.Candidate, error) {
	var rows []candidateRow
	err := r.getDB(ctx).WithContext(ctx).
		Table("bank_details").
		Select("bank_details.*, traders.min_amount_per_requisite AS trader_min_amount, traders.max_amount_per_requisite AS trader_max_amount").
		Joins("JOIN traders ON traders.trader_id = bank_details.trader_id").
		Joins("LEFT JOIN devices ON devices.device_id = bank_details.device_id").
		Where("bank_details.is_active = ? AND bank_details.is_archived = ?", true, false).
		Where("bank_details.deleted_at IS NULL").
		Where("bank_details.method_type = ?", methodType).
		Where("traders.banned = ? AND traders.traffic_enabled = ?", false, true).
		Where("traders.deposit >= ?", 1000).
		Where("bank_details.device_id IS NULL OR devices.device_id IS NULL OR devices.is_archived = ? OR (devices.is_online = ? AND devices.is_working = ?)", true, true, true).
		Order("bank_details.updated_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]*domain.Candidate, len(rows))
	for i, row := range rows {
		candidates[i] = &domain.Candidate{
			BankDetail:      row.BankDetail,
			TraderMinAmount: row.TraderMinAmount,
			TraderMaxAmount: row.TraderMaxAmount,
		}
	}
	return candidates, nil
}

// TouchForSelection 命中副作用：updated_at 刷到当前时间把该方式排到公平队列末尾，
// current_total_amount 用于限额追踪
func (r *bankDetailRepository) TouchForSelection(ctx context.Context, detailID string, amount decimal.Decimal) error {
	result := r.getDB(ctx).WithContext(ctx).Model(&domain.BankDetail{}).
		Where("detail_id = ?", detailID).
		Updates(map[string]any{
			"current_total_amount": gorm.Expr("current_total_amount + ?", amount),
			"updated_at":           time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrBankDetailNotFound
	}
	return nil
}

func (r *bankDetailRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}
