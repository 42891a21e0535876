package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"

	"github.com/wyfcoding/paymentplatform/internal/requisite/domain"
)

// CreateBankDetailCommand 创建收款方式命令
type CreateBankDetailCommand struct {
	TraderID             string
	MethodType           string
	BankType             string
	CardNumber           string
	PhoneNumber          string
	Owner                string
	MinAmount            decimal.Decimal
	MaxAmount            decimal.Decimal
	IntervalMinutes      int
	OperationLimit       int
	SumLimit             decimal.Decimal
	MaxCountTransactions int
	DeviceID             *string
}

// UpdateBankDetailCommand 更新收款方式命令，nil 字段不变更
type UpdateBankDetailCommand struct {
	MinAmount            *decimal.Decimal
	MaxAmount            *decimal.Decimal
	IntervalMinutes      *int
	OperationLimit       *int
	SumLimit             *decimal.Decimal
	MaxCountTransactions *int
	IsActive             *bool
}

// BankDetailService 收款方式管理服务
type BankDetailService struct {
	detailRepo domain.BankDetailRepository
}

// NewBankDetailService 创建收款方式管理服务
func NewBankDetailService(detailRepo domain.BankDetailRepository) *BankDetailService {
	return &BankDetailService{detailRepo: detailRepo}
}

// Create 创建收款方式
func (s *BankDetailService) Create(ctx context.Context, cmd CreateBankDetailCommand) (*domain.BankDetail, error) {
	if cmd.TraderID == "" {
		return nil, fmt.Errorf("trader_id is required")
	}
	if cmd.MethodType == "" {
		return nil, fmt.Errorf("method_type is required")
	}
	if cmd.MaxAmount.IsPositive() && cmd.MinAmount.GreaterThan(cmd.MaxAmount) {
		return nil, fmt.Errorf("min_amount %s exceeds max_amount %s", cmd.MinAmount, cmd.MaxAmount)
	}

	detail := &domain.BankDetail{
		DetailID:             fmt.Sprintf("BD-%d", idgen.GenID()),
		TraderID:             cmd.TraderID,
		MethodType:           cmd.MethodType,
		BankType:             cmd.BankType,
		CardNumber:           cmd.CardNumber,
		PhoneNumber:          cmd.PhoneNumber,
		Owner:                cmd.Owner,
		MinAmount:            cmd.MinAmount,
		MaxAmount:            cmd.MaxAmount,
		IntervalMinutes:      cmd.IntervalMinutes,
		OperationLimit:       cmd.OperationLimit,
		SumLimit:             cmd.SumLimit,
		MaxCountTransactions: cmd.MaxCountTransactions,
		DeviceID:             cmd.DeviceID,
		IsActive:             true,
	}
	if err := s.detailRepo.Create(ctx, detail); err != nil {
		return nil, err
	}

	logging.Info(ctx, "Bank detail created",
		"detail_id", detail.DetailID,
		"trader_id", detail.TraderID,
		"method_type", detail.MethodType,
	)
	return detail, nil
}

// Update 更新收款方式限额与开关
func (s *BankDetailService) Update(ctx context.Context, detailID string, cmd UpdateBankDetailCommand) (*domain.BankDetail, error) {
	detail, err := s.detailRepo.Get(ctx, detailID)
	if err != nil {
		return nil, err
	}

	if cmd.MinAmount != nil {
		detail.MinAmount = *cmd.MinAmount
	}
	if cmd.MaxAmount != nil {
		detail.MaxAmount = *cmd.MaxAmount
	}
	if cmd.IntervalMinutes != nil {
		detail.IntervalMinutes = *cmd.IntervalMinutes
	}
	if cmd.OperationLimit != nil {
		detail.OperationLimit = *cmd.OperationLimit
	}
	if cmd.SumLimit != nil {
		detail.SumLimit = *cmd.SumLimit
	}
	if cmd.MaxCountTransactions != nil {
		detail.MaxCountTransactions = *cmd.MaxCountTransactions
	}
	if cmd.IsActive != nil {
		detail.IsActive = *cmd.IsActive
	}
	if detail.MaxAmount.IsPositive() && detail.MinAmount.GreaterThan(detail.MaxAmount) {
		return nil, fmt.Errorf("min_amount %s exceeds max_amount %s", detail.MinAmount, detail.MaxAmount)
	}

	if err := s.detailRepo.Save(ctx, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// Archive 归档收款方式，归档后不再参与路由
func (s *BankDetailService) Archive(ctx context.Context, detailID string) error {
	if err := s.detailRepo.Archive(ctx, detailID); err != nil {
		return err
	}
	logging.Info(ctx, "Bank detail archived", "detail_id", detailID)
	return nil
}

// Get 查询收款方式
func (s *BankDetailService) Get(ctx context.Context, detailID string) (*domain.BankDetail, error) {
	return s.detailRepo.Get(ctx, detailID)
}

// ListByTrader 按交易员分页列出收款方式
func (s *BankDetailService) ListByTrader(ctx context.Context, traderID string, page, limit int) ([]*domain.BankDetail, int64, error) {
	return s.detailRepo.ListByTrader(ctx, traderID, page, limit)
}
