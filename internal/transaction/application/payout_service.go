package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/logging"

	merchantdomain "github.com/wyfcoding/paymentplatform/internal/merchant/domain"
	traderdomain "github.com/wyfcoding/paymentplatform/internal/trader/domain"
	"github.com/wyfcoding/paymentplatform/internal/transaction/domain"
)

// CreatePayoutCommand 创建付款交易命令
type CreatePayoutCommand struct {
	MerchantID string
	OrderID    string
	MethodID   string
	// 承接出金的交易员，由后台指派
	TraderID string
	Amount   decimal.Decimal
	// 交易时效，零值取默认
	ExpiresIn time.Duration
}

// PayoutService 付款交易创建服务。
// 付款交易创建时不冻结，结算 (READY) 时一次性从交易员 trust_balance 扣减
// 并入账付款收益；结算副作用由状态流转服务统一执行。
type PayoutService struct {
	txnRepo       domain.TransactionRepository
	traderRepo    traderdomain.TraderRepository
	merchantRepo  merchantdomain.MerchantRepository
	methodRepo    merchantdomain.MethodRepository
	oracle        RateOracle
	cfg           PayinConfig
	defaultExpiry time.Duration
}

// NewPayoutService 创建付款交易服务
func NewPayoutService(
	txnRepo domain.TransactionRepository,
	traderRepo traderdomain.TraderRepository,
	merchantRepo merchantdomain.MerchantRepository,
	methodRepo merchantdomain.MethodRepository,
	oracle RateOracle,
	cfg PayinConfig,
) *PayoutService {
	expiry := cfg.DefaultExpiry
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	return &PayoutService{
		txnRepo:       txnRepo,
		traderRepo:    traderRepo,
		merchantRepo:  merchantRepo,
		methodRepo:    methodRepo,
		oracle:        oracle,
		cfg:           cfg,
		defaultExpiry: expiry,
	}
}

// CreatePayout 创建付款交易
func (s *PayoutService) CreatePayout(ctx context.Context, cmd CreatePayoutCommand) (*domain.Transaction, error) {
	if cmd.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be positive, got %s", cmd.Amount)
	}

	if _, err := s.merchantRepo.Get(ctx, cmd.MerchantID); err != nil {
		return nil, err
	}
	if _, err := s.methodRepo.Get(ctx, cmd.MethodID); err != nil {
		return nil, err
	}
	trader, err := s.traderRepo.Get(ctx, cmd.TraderID)
	if err != nil {
		return nil, err
	}
	if trader.Banned {
		return nil, fmt.Errorf("trader %s is banned", cmd.TraderID)
	}

	rate, err := s.oracle.RateWithMarkup(ctx, s.cfg.RateSource, s.cfg.KkkPercent, s.cfg.KkkOperation)
	if err != nil {
		return nil, err
	}

	expiresIn := cmd.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = s.defaultExpiry
	}

	txn := domain.NewTransaction(cmd.MerchantID, cmd.OrderID, "", cmd.MethodID, domain.TypeOut, cmd.Amount, rate, time.Now().Add(expiresIn))
	txn.KkkPercent = s.cfg.KkkPercent
	txn.KkkOperation = string(s.cfg.KkkOperation)
	txn.TraderID = cmd.TraderID
	if err := txn.Start(ctx); err != nil {
		return nil, err
	}
	if err := s.txnRepo.Create(ctx, txn); err != nil {
		return nil, err
	}

	logging.Info(ctx, "Payout transaction created",
		"transaction_id", txn.TransactionID,
		"merchant_id", cmd.MerchantID,
		"trader_id", cmd.TraderID,
		"amount", cmd.Amount.String(),
	)
	return txn, nil
}
