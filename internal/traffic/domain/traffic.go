// 包 domain 交易员-商户流量关系的领域模型
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrTrafficNotFound 流量关系不存在
var ErrTrafficNotFound = errors.New("traffic record not found")

// TrafficRecord 交易员-商户流量关系
// 路由时决定该交易员是否接收该商户的交易；结算时决定交易员收益百分比。
type TrafficRecord struct {
	gorm.Model
	// 交易员 ID
	TraderID string `gorm:"column:trader_id;type:varchar(32);uniqueIndex:idx_trader_merchant;not null" json:"trader_id"`
	// 商户 ID
	MerchantID string `gorm:"column:merchant_id;type:varchar(32);uniqueIndex:idx_trader_merchant;not null" json:"merchant_id"`
	// 是否启用
	Enabled bool `gorm:"column:enabled;default:true;not null" json:"enabled"`
	// 交易员收益百分比，结算时解析
	TraderRewardPercent decimal.Decimal `gorm:"column:trader_reward_percent;type:decimal(8,4);default:0;not null" json:"trader_reward_percent"`
	// 平台费百分比
	PlatformFeePercent decimal.Decimal `gorm:"column:platform_fee_percent;type:decimal(8,4);default:0;not null" json:"platform_fee_percent"`
	// 路由优先级权重
	Priority decimal.Decimal `gorm:"column:priority;type:decimal(8,4);default:1;not null" json:"priority"`
}

// TableName 表名
func (TrafficRecord) TableName() string {
	return "traffic_records"
}

// TrafficRepository 流量关系仓储接口
type TrafficRepository interface {
	// Save 保存或更新流量关系
	Save(ctx context.Context, record *TrafficRecord) error
	// Get 获取指定交易员-商户的流量关系
	Get(ctx context.Context, traderID, merchantID string) (*TrafficRecord, error)
}
