package mysql

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentplatform/internal/merchant/domain"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
)

// merchantRepository 商户仓储实现
type merchantRepository struct {
	db *gorm.DB
}

// NewMerchantRepository 创建并返回一个新的 merchantRepository 实例。
func NewMerchantRepository(db *gorm.DB) domain.MerchantRepository {
	return &merchantRepository{db: db}
}

// Save 保存或更新商户
func (r *merchantRepository) Save(ctx context.Context, merchant *domain.Merchant) error {
	return r.getDB(ctx).WithContext(ctx).Save(merchant).Error
}

// Get 根据商户 ID 获取商户
func (r *merchantRepository) Get(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	var merchant domain.Merchant
	if err := r.getDB(ctx).WithContext(ctx).Where("merchant_id = ?", merchantID).First(&merchant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMerchantNotFound
		}
		return nil, err
	}
	return &merchant, nil
}

// CreditBalance 原子增加商户余额
func (r *merchantRepository) CreditBalance(ctx context.Context, merchantID string, amount decimal.Decimal) error {
	result := r.getDB(ctx).WithContext(ctx).Model(&domain.Merchant{}).
		Where("merchant_id = ?", merchantID).
		Where("balance_usdt + ? >= 0", amount).
		Update("balance_usdt", gorm.Expr("balance_usdt + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrMerchantNotFound
	}
	return nil
}

func (r *merchantRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

// methodRepository 支付方式仓储实现
type methodRepository struct {
	db *gorm.DB
}

// NewMethodRepository 创建并返回一个新的 methodRepository 实例。
func NewMethodRepository(db *gorm.DB) domain.MethodRepository {
	return &methodRepository{db: db}
}

func (r *methodRepository) Save(ctx context.Context, method *domain.PaymentMethod) error {
	return r.getDB(ctx).WithContext(ctx).Save(method).Error
}

func (r *methodRepository) Get(ctx context.Context, methodID string) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	if err := r.getDB(ctx).WithContext(ctx).Where("method_id = ?", methodID).First(&method).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMethodNotFound
		}
		return nil, err
	}
	return &method, nil
}

func (r *methodRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}
