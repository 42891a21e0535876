// 包 domain 外部聚合器（兜底路由目标）的领域模型
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrAggregatorNotFound 聚合器不存在
	ErrAggregatorNotFound = errors.New("aggregator not found")
	// ErrInsufficientBalance 聚合器可用余额不足以承接成本
	ErrInsufficientBalance = errors.New("insufficient aggregator balance")
	// ErrPartnerNoRequisite 合作方明确回复无可用收款方式；按"换下一家"处理，不是致命错误
	ErrPartnerNoRequisite = errors.New("partner has no requisite")
)

// Variant 合作方接入协议
type Variant string

const (
	VariantStandard        Variant = "STANDARD"
	VariantChase           Variant = "CHASE"
	VariantChaseCompatible Variant = "CHASE_COMPATIBLE"
	VariantPSPWare         Variant = "PSPWARE"
)

// Aggregator 聚合器实体
type Aggregator struct {
	gorm.Model
	// 聚合器 ID (业务主键)
	AggregatorID string `gorm:"column:aggregator_id;type:varchar(32);uniqueIndex;not null" json:"aggregator_id"`
	Name         string `gorm:"column:name;type:varchar(64);not null" json:"name"`
	// 轮换优先级；> 50 进入高优先级带
	Priority int `gorm:"column:priority;default:0;not null" json:"priority"`
	// 可用余额 (USDT)
	BalanceUsdt decimal.Decimal `gorm:"column:balance_usdt;type:decimal(20,2);default:0;not null" json:"balance_usdt"`
	// 乐观冻结中的余额 (USDT)，派发前占用、接受后转为实扣
	FrozenBalance decimal.Decimal `gorm:"column:frozen_balance;type:decimal(20,2);default:0;not null" json:"frozen_balance"`
	// 当日已承接量（卢布）
	CurrentDailyVolume decimal.Decimal `gorm:"column:current_daily_volume;type:decimal(20,2);default:0;not null" json:"current_daily_volume"`
	// 当日承接量上限（卢布），0 表示不限
	MaxDailyVolume decimal.Decimal `gorm:"column:max_daily_volume;type:decimal(20,2);default:0;not null" json:"max_daily_volume"`
	// 低于该余额不参与路由
	MinBalance decimal.Decimal `gorm:"column:min_balance;type:decimal(20,2);default:0;not null" json:"min_balance"`
	// 是否要求缴纳保险保证金
	RequiresInsuranceDeposit bool `gorm:"column:requires_insurance_deposit;default:false;not null" json:"requires_insurance_deposit"`
	// 已缴纳的保险保证金 (USDT)
	DepositUsdt decimal.Decimal `gorm:"column:deposit_usdt;type:decimal(20,2);default:0;not null" json:"deposit_usdt"`
	// 平台累计分成 (USDT)
	ProfitShareUsdt decimal.Decimal `gorm:"column:profit_share_usdt;type:decimal(20,2);default:0;not null" json:"profit_share_usdt"`
	// 接入地址；未配置则不参与路由
	BaseURL string `gorm:"column:base_url;type:varchar(255)" json:"base_url"`
	APIKey  string `gorm:"column:api_key;type:varchar(128)" json:"-"`
	// 接入协议变体
	Variant Variant `gorm:"column:variant;type:varchar(20);default:STANDARD;not null" json:"variant"`
	// 聚合器收取的费率百分比
	FeePercent decimal.Decimal `gorm:"column:fee_percent;type:decimal(10,4);default:0;not null" json:"fee_percent"`
	// 计算承接成本使用的汇率源
	RateSource string `gorm:"column:rate_source;type:varchar(16);default:rapira;not null" json:"rate_source"`
	IsActive   bool   `gorm:"column:is_active;default:true;not null" json:"is_active"`
	// 最近一次派发时间，用于 1 秒防锤击过滤
	LastDispatchAt *time.Time `gorm:"column:last_dispatch_at" json:"last_dispatch_at"`
}

// TableName 表名
func (Aggregator) TableName() string {
	return "aggregators"
}

// DealRequest 派发给合作方的交易请求
type DealRequest struct {
	TransactionID string
	OrderID       string
	Amount        decimal.Decimal
	Rate          decimal.Decimal
	MethodType    string
	CallbackURL   string
	ExpiredAt     time.Time
	// 商户费率百分比，用于平台分成计算
	MerchantFeePercent decimal.Decimal
}

// DealResult 合作方接单结果
type DealResult struct {
	// 合作方订单号，用于后续回调关联
	PartnerOrderID string
	// 合作方原始响应，仅供审计
	RawResponse string
}

// RoutingResult 路由结果
type RoutingResult struct {
	Success bool
	// 接单的聚合器；失败时为空
	Aggregator     *Aggregator
	PartnerOrderID string
	RawResponse    string
	// 平台分成 (USDT)：商户费减聚合器费
	PlatformProfit decimal.Decimal
	// 实际派发过（已发出请求）的聚合器 ID
	TriedAggregators []string
}

// AggregatorAdapter 合作方接入适配器，按 Variant 解析为具体实现
type AggregatorAdapter interface {
	// CreateDeal 向合作方派发交易；NO_REQUISITE 类响应返回 ErrPartnerNoRequisite
	CreateDeal(ctx context.Context, agg *Aggregator, req DealRequest) (*DealResult, error)
}

// AggregatorRepository 聚合器仓储接口
type AggregatorRepository interface {
	// Save 保存或更新聚合器
	Save(ctx context.Context, agg *Aggregator) error
	// Get 按聚合器 ID 获取
	Get(ctx context.Context, aggregatorID string) (*Aggregator, error)
	// ListRoutable 列出可路由的聚合器：启用且配置了接入地址，排除指定 ID
	ListRoutable(ctx context.Context, excludeIDs []string) ([]*Aggregator, error)
	// Hold 乐观冻结承接成本：frozen_balance += cost；
	// 可用余额 (balance - frozen) 不足时返回 ErrInsufficientBalance
	Hold(ctx context.Context, aggregatorID string, cost decimal.Decimal) error
	// ReleaseHold 释放冻结：frozen_balance -= cost
	ReleaseHold(ctx context.Context, aggregatorID string, cost decimal.Decimal) error
	// CommitHold 接单后把冻结转为实扣并入账分成与当日承接量
	CommitHold(ctx context.Context, aggregatorID string, cost, profitShare, dealVolume decimal.Decimal) error
	// MarkDispatched 记录派发时间，供防锤击过滤
	MarkDispatched(ctx context.Context, aggregatorID string, at time.Time) error
	// ResetDailyVolumes 清零当日承接量（由外部定时任务驱动）
	ResetDailyVolumes(ctx context.Context) error
}
