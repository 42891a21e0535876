// 包 domain 商户与支付方式的领域模型
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrMerchantNotFound 商户不存在
	ErrMerchantNotFound = errors.New("merchant not found")
	// ErrMethodNotFound 支付方式不存在
	ErrMethodNotFound = errors.New("payment method not found")
)

// Merchant 商户实体
type Merchant struct {
	gorm.Model
	// 商户 ID (业务主键)，全局唯一
	MerchantID string `gorm:"column:merchant_id;type:varchar(32);uniqueIndex;not null" json:"merchant_id"`
	// 商户余额 (USDT)，仅在交易结算 (READY) 时按交易存储汇率入账
	BalanceUsdt decimal.Decimal `gorm:"column:balance_usdt;type:decimal(20,2);default:0;not null" json:"balance_usdt"`
	// 商户是否自带卢布口径汇率；false 时由汇率源提供
	CountInRubEquivalent bool `gorm:"column:count_in_rub_equivalent;default:false;not null" json:"count_in_rub_equivalent"`
	// 成功回调地址
	SuccessURI string `gorm:"column:success_uri;type:varchar(512)" json:"success_uri"`
	// 失败回调地址
	FailURI string `gorm:"column:fail_uri;type:varchar(512)" json:"fail_uri"`
	// 通用回调地址
	CallbackURI string `gorm:"column:callback_uri;type:varchar(512)" json:"callback_uri"`
}

// TableName 表名
func (Merchant) TableName() string {
	return "merchants"
}

// PaymentMethod 支付方式
type PaymentMethod struct {
	gorm.Model
	// 支付方式 ID (业务主键)
	MethodID string `gorm:"column:method_id;type:varchar(32);uniqueIndex;not null" json:"method_id"`
	// 方式类型（如 c2c, sbp）
	MethodType string `gorm:"column:method_type;type:varchar(20);not null" json:"method_type"`
	// 收款佣金百分比，用于商户入账换算
	CommissionPayin decimal.Decimal `gorm:"column:commission_payin;type:decimal(8,4);default:0;not null" json:"commission_payin"`
	// 付款佣金百分比
	CommissionPayout decimal.Decimal `gorm:"column:commission_payout;type:decimal(8,4);default:0;not null" json:"commission_payout"`
	// 交易员收益兜底百分比，trader-merchant 流量未配置时使用
	FeePercent decimal.Decimal `gorm:"column:fee_percent;type:decimal(8,4);default:0;not null" json:"fee_percent"`
}

// TableName 表名
func (PaymentMethod) TableName() string {
	return "payment_methods"
}

// MerchantRepository 商户仓储接口
type MerchantRepository interface {
	// Save 保存或更新商户
	Save(ctx context.Context, merchant *Merchant) error
	// Get 根据商户 ID 获取商户
	Get(ctx context.Context, merchantID string) (*Merchant, error)
	// CreditBalance 原子增加商户余额
	CreditBalance(ctx context.Context, merchantID string, amount decimal.Decimal) error
}

// MethodRepository 支付方式仓储接口
type MethodRepository interface {
	Save(ctx context.Context, method *PaymentMethod) error
	Get(ctx context.Context, methodID string) (*PaymentMethod, error)
}
