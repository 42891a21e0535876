// 包 domain 收款方式（银行卡/电话号码）的领域模型
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrBankDetailNotFound 收款方式不存在
var ErrBankDetailNotFound = errors.New("bank detail not found")

// BankDetail 交易员收款方式实体
// device_id 为空或设备已归档表示手动 (BT) 收款方式，允许参与路由。
type BankDetail struct {
	gorm.Model
	// 收款方式 ID (业务主键)
	DetailID string `gorm:"column:detail_id;type:varchar(32);uniqueIndex;not null" json:"detail_id"`
	// 所属交易员 ID
	TraderID string `gorm:"column:trader_id;type:varchar(32);index;not null" json:"trader_id"`
	// 支付方式类型（c2c, sbp 等）
	MethodType string `gorm:"column:method_type;type:varchar(20);index;not null" json:"method_type"`
	// 银行标识
	BankType string `gorm:"column:bank_type;type:varchar(32)" json:"bank_type"`
	// 卡号
	CardNumber string `gorm:"column:card_number;type:varchar(32)" json:"card_number"`
	// 电话号码
	PhoneNumber string `gorm:"column:phone_number;type:varchar(32)" json:"phone_number"`
	// 持有人姓名
	Owner string `gorm:"column:owner;type:varchar(128)" json:"owner"`
	// 单笔金额下限（卢布）
	MinAmount decimal.Decimal `gorm:"column:min_amount;type:decimal(20,2);default:0;not null" json:"min_amount"`
	// 单笔金额上限（卢布）
	MaxAmount decimal.Decimal `gorm:"column:max_amount;type:decimal(20,2);default:0;not null" json:"max_amount"`
	// 两笔交易之间的冷却间隔（分钟），0 表示不限
	IntervalMinutes int `gorm:"column:interval_minutes;default:0;not null" json:"interval_minutes"`
	// 并发操作上限（进行中 + 已完成），0 表示不限
	OperationLimit int `gorm:"column:operation_limit;default:0;not null" json:"operation_limit"`
	// 在途金额上限（卢布），0 表示不限
	SumLimit decimal.Decimal `gorm:"column:sum_limit;type:decimal(20,2);default:0;not null" json:"sum_limit"`
	// 每日操作数上限，0 表示不限
	MaxCountTransactions int `gorm:"column:max_count_transactions;default:0;not null" json:"max_count_transactions"`
	// 累计成交金额（卢布），路由侧作为命中副作用更新
	CurrentTotalAmount decimal.Decimal `gorm:"column:current_total_amount;type:decimal(20,2);default:0;not null" json:"current_total_amount"`
	// 关联设备 ID，空表示手动 (BT) 收款方式
	DeviceID *string `gorm:"column:device_id;type:varchar(32);index" json:"device_id"`
	// 是否启用
	IsActive bool `gorm:"column:is_active;default:true;not null" json:"is_active"`
	// 是否归档（软删除）
	IsArchived bool `gorm:"column:is_archived;default:false;not null" json:"is_archived"`
}

// TableName 表名
func (BankDetail) TableName() string {
	return "bank_details"
}

// Device 收款设备实体
type Device struct {
	gorm.Model
	// 设备 ID (业务主键)
	DeviceID string `gorm:"column:device_id;type:varchar(32);uniqueIndex;not null" json:"device_id"`
	// 所属交易员 ID
	TraderID string `gorm:"column:trader_id;type:varchar(32);index;not null" json:"trader_id"`
	// 是否在线
	IsOnline bool `gorm:"column:is_online;default:false;not null" json:"is_online"`
	// 是否工作中
	IsWorking bool `gorm:"column:is_working;default:false;not null" json:"is_working"`
	// 是否归档
	IsArchived bool `gorm:"column:is_archived;default:false;not null" json:"is_archived"`
}

// TableName 表名
func (Device) TableName() string {
	return "devices"
}

// Candidate 候选收款方式
// 基础池查询的结果，附带所属交易员的全局单笔限额。
type Candidate struct {
	BankDetail
	// 交易员全局单笔下限
	TraderMinAmount decimal.Decimal
	// 交易员全局单笔上限，0 表示不限
	TraderMaxAmount decimal.Decimal
}

// BankDetailRepository 收款方式仓储接口
type BankDetailRepository interface {
	// Create 创建收款方式
	Create(ctx context.Context, detail *BankDetail) error
	// Save 保存或更新收款方式
	Save(ctx context.Context, detail *BankDetail) error
	// Get 根据 ID 获取收款方式
	Get(ctx context.Context, detailID string) (*BankDetail, error)
	// ListByTrader 按交易员列出收款方式
	ListByTrader(ctx context.Context, traderID string, page, limit int) ([]*BankDetail, int64, error)
	// Archive 归档（软删除）
	Archive(ctx context.Context, detailID string) error
	// FindEligible 基础候选池：启用、未归档、方式类型匹配、所属交易员
	// 未封禁且 deposit >= 1000 且流量开启、设备在线或为空（手动方式）；
	// 按 updated_at 升序返回以保证轮换公平
	FindEligible(ctx context.Context, methodType string) ([]*Candidate, error)
	// TouchForSelection 命中副作用：刷新 updated_at 并累计成交金额
	TouchForSelection(ctx context.Context, detailID string, amount decimal.Decimal) error
}

// UsageStats 收款方式在途使用统计
// 由交易表推导，路由过滤管道消费。
type UsageStats interface {
	// HasActiveWithAmount 是否已有同额度的 CREATED/IN_PROGRESS 交易（防撞单）
	HasActiveWithAmount(ctx context.Context, detailID string, amount decimal.Decimal) (bool, error)
	// CountToday 当日非取消操作数
	CountToday(ctx context.Context, detailID string, now time.Time) (int64, error)
	// CountInFlight 进行中 + 已完成操作数
	CountInFlight(ctx context.Context, detailID string) (int64, error)
	// SumInFlight 进行中 + 已完成金额合计（卢布）
	SumInFlight(ctx context.Context, detailID string) (decimal.Decimal, error)
	// CreatedWithin 冷却窗口内是否创建过非取消/非过期交易
	CreatedWithin(ctx context.Context, detailID string, window time.Duration) (bool, error)
}
