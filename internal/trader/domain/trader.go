// 包 domain 交易员（流动性提供方）的领域模型
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrTraderNotFound 交易员不存在
	ErrTraderNotFound = errors.New("trader not found")
	// ErrInsufficientBalance 余额不足以完成冻结或扣减
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrConcurrencyConflict 乐观锁冲突，调用方应有限次重试
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Trader 交易员实体
// 四类余额是相互独立的账目，不是派生值：
// trust_balance 为可用抵押余额，frozen_usdt 为进行中 IN 交易占用的冻结额，
// deposit 为 trust_balance 不足时的二级资金来源，profit_* 为已实现收益。
type Trader struct {
	gorm.Model
	// 交易员 ID (业务主键)，全局唯一
	TraderID string `gorm:"column:trader_id;type:varchar(32);uniqueIndex;not null" json:"trader_id"`
	// 可用抵押余额 (USDT)
	TrustBalance decimal.Decimal `gorm:"column:trust_balance;type:decimal(20,2);default:0;not null" json:"trust_balance"`
	// 当前冻结余额 (USDT)
	FrozenUsdt decimal.Decimal `gorm:"column:frozen_usdt;type:decimal(20,2);default:0;not null" json:"frozen_usdt"`
	// 保证金，trust_balance 不足时的扣减来源
	Deposit decimal.Decimal `gorm:"column:deposit;type:decimal(20,2);default:0;not null" json:"deposit"`
	// 收款交易已实现收益
	ProfitFromDeals decimal.Decimal `gorm:"column:profit_from_deals;type:decimal(20,2);default:0;not null" json:"profit_from_deals"`
	// 付款交易已实现收益
	ProfitFromPayouts decimal.Decimal `gorm:"column:profit_from_payouts;type:decimal(20,2);default:0;not null" json:"profit_from_payouts"`
	// 单笔交易金额下限（卢布），作用于该交易员全部收款方式
	MinAmountPerRequisite decimal.Decimal `gorm:"column:min_amount_per_requisite;type:decimal(20,2);default:0;not null" json:"min_amount_per_requisite"`
	// 单笔交易金额上限（卢布），0 表示不限
	MaxAmountPerRequisite decimal.Decimal `gorm:"column:max_amount_per_requisite;type:decimal(20,2);default:0;not null" json:"max_amount_per_requisite"`
	// 是否接收新交易流量
	TrafficEnabled bool `gorm:"column:traffic_enabled;default:true;not null" json:"traffic_enabled"`
	// 是否被封禁
	Banned bool `gorm:"column:banned;default:false;not null" json:"banned"`
}

// TableName 表名
func (Trader) TableName() string {
	return "traders"
}

// BalanceDelta 余额增量值对象
// 一次原子更新中对各余额字段的带符号增量，替代运行时拼接的字段映射。
type BalanceDelta struct {
	TrustBalance      decimal.Decimal
	FrozenUsdt        decimal.Decimal
	Deposit           decimal.Decimal
	ProfitFromDeals   decimal.Decimal
	ProfitFromPayouts decimal.Decimal
}

// IsZero 增量是否为空
func (d BalanceDelta) IsZero() bool {
	return d.TrustBalance.IsZero() && d.FrozenUsdt.IsZero() && d.Deposit.IsZero() &&
		d.ProfitFromDeals.IsZero() && d.ProfitFromPayouts.IsZero()
}

// TraderRepository 交易员仓储接口
type TraderRepository interface {
	// Save 保存或更新交易员
	Save(ctx context.Context, trader *Trader) error
	// Get 根据交易员 ID 获取交易员
	Get(ctx context.Context, traderID string) (*Trader, error)
	// GetForUpdate 在当前事务内以行锁获取交易员
	GetForUpdate(ctx context.Context, traderID string) (*Trader, error)
	// ApplyDelta 以单条带守卫的 UPDATE 原子应用余额增量；
	// 任一结果字段为负时不生效并返回 ErrInsufficientBalance
	ApplyDelta(ctx context.Context, traderID string, delta BalanceDelta) error
}
