// 包 domain 交易争议的领域模型
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/pkg/idgen"
)

var (
	// ErrDisputeNotFound 争议不存在
	ErrDisputeNotFound = errors.New("dispute not found")
	// ErrDisputeExists 交易上已有未决争议
	ErrDisputeExists = errors.New("transaction already has an open dispute")
	// ErrAlreadyResolved 争议已裁决，裁决只能落地一次
	ErrAlreadyResolved = errors.New("dispute already resolved")
)

// Status 争议状态
type Status string

const (
	// StatusOpen 已开启，等待处理
	StatusOpen Status = "OPEN"
	// StatusInProgress 处理中
	StatusInProgress Status = "IN_PROGRESS"
	// StatusResolvedSuccess 裁决成立：交易按完成结算
	StatusResolvedSuccess Status = "RESOLVED_SUCCESS"
	// StatusResolvedFail 裁决不成立：冻结额返还交易员
	StatusResolvedFail Status = "RESOLVED_FAIL"
)

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusResolvedSuccess || s == StatusResolvedFail
}

// DealDispute 交易争议实体，与交易 1:1
// 未决争议阻断该交易的普通状态流转，裁决是唯一出口且只落地一次。
type DealDispute struct {
	gorm.Model
	// 争议 ID (业务主键)
	DisputeID string `gorm:"column:dispute_id;type:varchar(32);uniqueIndex;not null" json:"dispute_id"`
	// 关联交易 ID，一笔交易同一时间最多一个未决争议
	TransactionID string `gorm:"column:transaction_id;type:varchar(32);uniqueIndex;not null" json:"transaction_id"`
	// 发起方商户 ID
	MerchantID string `gorm:"column:merchant_id;type:varchar(32);index;not null" json:"merchant_id"`
	// 争议缘由（付款人凭证描述等）
	Reason string `gorm:"column:reason;type:varchar(512)" json:"reason"`
	// 裁决说明
	Resolution string `gorm:"column:resolution;type:varchar(512)" json:"resolution"`
	// 争议状态
	Status Status `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	// 裁决时间
	ResolvedAt *time.Time `gorm:"column:resolved_at" json:"resolved_at"`
}

// TableName 表名
func (DealDispute) TableName() string {
	return "deal_disputes"
}

// NewDealDispute 创建争议
func NewDealDispute(transactionID, merchantID, reason string) *DealDispute {
	return &DealDispute{
		DisputeID:     fmt.Sprintf("DSP-%d", idgen.GenID()),
		TransactionID: transactionID,
		MerchantID:    merchantID,
		Reason:        reason,
		Status:        StatusOpen,
	}
}

// DisputeRepository 争议仓储接口
type DisputeRepository interface {
	// Create 创建争议；同交易已有未决争议时返回 ErrDisputeExists
	Create(ctx context.Context, dispute *DealDispute) error
	// Get 根据争议 ID 获取争议
	Get(ctx context.Context, disputeID string) (*DealDispute, error)
	// GetByTransaction 根据交易 ID 获取争议
	GetByTransaction(ctx context.Context, transactionID string) (*DealDispute, error)
	// List 按状态分页列出争议，status 为空列出全部
	List(ctx context.Context, status Status, page, limit int) ([]*DealDispute, int64, error)
	// HasOpenDispute 交易上是否存在未决争议
	HasOpenDispute(ctx context.Context, transactionID string) (bool, error)
	// MarkResolved 争议仍未决时原子落地裁决；
	// 已裁决返回 ErrAlreadyResolved，保证裁决恰好一次
	MarkResolved(ctx context.Context, disputeID string, status Status, resolution string, resolvedAt time.Time) error
	// Reopen 裁决落地后交易流转失败时的回退
	Reopen(ctx context.Context, disputeID string) error
	// Delete 删除争议（开启争议的补偿路径）
	Delete(ctx context.Context, disputeID string) error
}
