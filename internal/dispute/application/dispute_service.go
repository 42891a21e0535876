// 包 application 争议处理的用例逻辑
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/pkg/logging"

	"github.com/wyfcoding/paymentplatform/internal/dispute/domain"
	txndomain "github.com/wyfcoding/paymentplatform/internal/transaction/domain"
)

// TransitionApplier 争议路径的交易状态落地入口。
// 走裁决专用入口而非普通入口：普通入口会被未决争议本身阻断。
type TransitionApplier interface {
	ApplyResolution(ctx context.Context, transactionID string, target txndomain.Status) (*txndomain.Transaction, error)
}

// OpenDisputeCommand 开启争议命令
type OpenDisputeCommand struct {
	TransactionID string
	MerchantID    string
	Reason        string
}

// ResolveDisputeCommand 裁决争议命令
type ResolveDisputeCommand struct {
	DisputeID string
	// 裁决成立：交易按完成结算；不成立：冻结额返还交易员
	Accept     bool
	Resolution string
}

// DisputeService 争议处理服务
type DisputeService struct {
	disputeRepo domain.DisputeRepository
	txnRepo     txndomain.TransactionRepository
	applier     TransitionApplier
}

// NewDisputeService 创建争议处理服务
func NewDisputeService(disputeRepo domain.DisputeRepository, txnRepo txndomain.TransactionRepository, applier TransitionApplier) *DisputeService {
	return &DisputeService{
		disputeRepo: disputeRepo,
		txnRepo:     txnRepo,
		applier:     applier,
	}
}

// Open 开启争议：交易必须处于进行中，同一交易同时只允许一个未决争议。
// 交易随即流转到 DISPUTE，冻结额保持冻结直至裁决。
func (s *DisputeService) Open(ctx context.Context, cmd OpenDisputeCommand) (*domain.DealDispute, error) {
	txn, err := s.txnRepo.Get(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != txndomain.StatusInProgress {
		return nil, fmt.Errorf("%w: %s -> %s", txndomain.ErrInvalidTransition, txn.Status, txndomain.StatusDispute)
	}

	open, err := s.disputeRepo.HasOpenDispute(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, domain.ErrDisputeExists
	}

	dispute := domain.NewDealDispute(cmd.TransactionID, cmd.MerchantID, cmd.Reason)
	if err := s.disputeRepo.Create(ctx, dispute); err != nil {
		return nil, err
	}

	if _, err := s.applier.ApplyResolution(ctx, cmd.TransactionID, txndomain.StatusDispute); err != nil {
		// 交易未能进入 DISPUTE，争议记录随之撤销
		if delErr := s.disputeRepo.Delete(ctx, dispute.DisputeID); delErr != nil {
			logging.Error(ctx, "Failed to roll back dispute after transition failure",
				"dispute_id", dispute.DisputeID,
				"transaction_id", cmd.TransactionID,
				"error", delErr,
			)
		}
		return nil, err
	}

	logging.Info(ctx, "Dispute opened",
		"dispute_id", dispute.DisputeID,
		"transaction_id", cmd.TransactionID,
		"merchant_id", cmd.MerchantID,
	)
	return dispute, nil
}

// Resolve 裁决争议，恰好一次。
// 先以守卫更新占有裁决权，再落地交易流转；并发的第二次裁决会在
// 占有阶段收到 ErrAlreadyResolved，不会产生第二次账目变更。
func (s *DisputeService) Resolve(ctx context.Context, cmd ResolveDisputeCommand) (*domain.DealDispute, error) {
	dispute, err := s.disputeRepo.Get(ctx, cmd.DisputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status.IsTerminal() {
		return nil, domain.ErrAlreadyResolved
	}

	status := domain.StatusResolvedFail
	target := txndomain.StatusCanceled
	if cmd.Accept {
		status = domain.StatusResolvedSuccess
		target = txndomain.StatusReady
	}

	resolvedAt := time.Now()
	if err := s.disputeRepo.MarkResolved(ctx, cmd.DisputeID, status, cmd.Resolution, resolvedAt); err != nil {
		return nil, err
	}

	if _, err := s.applier.ApplyResolution(ctx, dispute.TransactionID, target); err != nil {
		// 账目未动，争议回到未决态等待重试
		if reopenErr := s.disputeRepo.Reopen(ctx, cmd.DisputeID); reopenErr != nil {
			logging.Error(ctx, "Failed to reopen dispute after transition failure",
				"dispute_id", cmd.DisputeID,
				"transaction_id", dispute.TransactionID,
				"error", reopenErr,
			)
		}
		return nil, err
	}

	dispute.Status = status
	dispute.Resolution = cmd.Resolution
	dispute.ResolvedAt = &resolvedAt

	logging.Info(ctx, "Dispute resolved",
		"dispute_id", dispute.DisputeID,
		"transaction_id", dispute.TransactionID,
		"status", status,
	)
	return dispute, nil
}

// Get 查询争议
func (s *DisputeService) Get(ctx context.Context, disputeID string) (*domain.DealDispute, error) {
	return s.disputeRepo.Get(ctx, disputeID)
}

// List 按状态分页列出争议
func (s *DisputeService) List(ctx context.Context, status domain.Status, page, limit int) ([]*domain.DealDispute, int64, error) {
	return s.disputeRepo.List(ctx, status, page, limit)
}
