// 包 application 余额冻结引擎的用例逻辑
package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentplatform/internal/trader/domain"
	"github.com/wyfcoding/paymentplatform/pkg/money"
	"github.com/wyfcoding/pkg/logging"
)

// FreezingResult 冻结计算结果
type FreezingResult struct {
	// 按存储汇率换算并向上取整的本金 (USDT)
	FrozenUsdtAmount decimal.Decimal
	// 创建时计算的佣金；当前口径为只冻结本金，佣金在结算时计算
	CalculatedCommission decimal.Decimal
	// 实际从 trust_balance 划转到 frozen_usdt 的总额
	TotalRequired decimal.Decimal
}

// FreezingService 余额冻结引擎
// 所有方法都以单条守卫 UPDATE 落账；调用方负责把调用包在交易的工作单元事务内。
type FreezingService struct {
	traderRepo domain.TraderRepository
}

// NewFreezingService 创建余额冻结引擎
func NewFreezingService(traderRepo domain.TraderRepository) *FreezingService {
	return &FreezingService{traderRepo: traderRepo}
}

// ComputeFreezing 计算交易需要冻结的金额
// 本金向上取整：宁可多冻结，不让交易员的承诺超出其抵押。
func (fs *FreezingService) ComputeFreezing(amount, rate decimal.Decimal) (*FreezingResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}
	if rate.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("rate must be positive, got %s", rate)
	}

	frozen := money.UsdtFromFiat(amount, rate)
	commission := decimal.Zero

	return &FreezingResult{
		FrozenUsdtAmount:     frozen,
		CalculatedCommission: commission,
		TotalRequired:        frozen.Add(commission),
	}, nil
}

// Freeze 冻结：trust_balance -= total, frozen_usdt += total
// 可用余额不足时整体失败，不产生半完成的账目变更。
func (fs *FreezingService) Freeze(ctx context.Context, traderID string, total decimal.Decimal) error {
	trader, err := fs.traderRepo.Get(ctx, traderID)
	if err != nil {
		return err
	}
	if trader.TrustBalance.LessThan(total) {
		logging.Warn(ctx, "Insufficient trust balance for freeze",
			"trader_id", traderID,
			"available", trader.TrustBalance.String(),
			"required", total.String(),
		)
		return domain.ErrInsufficientBalance
	}

	err = fs.traderRepo.ApplyDelta(ctx, traderID, domain.BalanceDelta{
		TrustBalance: total.Neg(),
		FrozenUsdt:   total,
	})
	if err != nil {
		return err
	}

	logging.Info(ctx, "Balance frozen", "trader_id", traderID, "amount", total.String())
	return nil
}

// UnfreezeToTrust 解冻并返还：frozen_usdt -= amount, trust_balance += amount
// 用于取消、过期等交易未完成的路径。
func (fs *FreezingService) UnfreezeToTrust(ctx context.Context, traderID string, amount decimal.Decimal) error {
	err := fs.traderRepo.ApplyDelta(ctx, traderID, domain.BalanceDelta{
		TrustBalance: amount,
		FrozenUsdt:   amount.Neg(),
	})
	if err != nil {
		return err
	}
	logging.Info(ctx, "Balance unfrozen to trust", "trader_id", traderID, "amount", amount.String())
	return nil
}

// Release 解冻不返还：frozen_usdt -= amount
// 用于交易完成（商户侧已入账，冻结本金已被消耗）的路径。
func (fs *FreezingService) Release(ctx context.Context, traderID string, amount decimal.Decimal) error {
	err := fs.traderRepo.ApplyDelta(ctx, traderID, domain.BalanceDelta{
		FrozenUsdt: amount.Neg(),
	})
	if err != nil {
		return err
	}
	logging.Info(ctx, "Frozen balance released", "trader_id", traderID, "amount", amount.String())
	return nil
}

// DeductFromTrust 从 trust_balance 扣减，不足部分从 deposit 补足。
// 用于已过期交易的最终结算：过期时已把冻结额临时返还到 trust_balance，
// 最终结算必须从 trust_balance 扣，不得再动 frozen_usdt。
func (fs *FreezingService) DeductFromTrust(ctx context.Context, traderID string, amount decimal.Decimal) error {
	trader, err := fs.traderRepo.GetForUpdate(ctx, traderID)
	if err != nil {
		return err
	}

	fromTrust := amount
	fromDeposit := decimal.Zero
	if trader.TrustBalance.LessThan(amount) {
		fromTrust = trader.TrustBalance
		fromDeposit = amount.Sub(fromTrust)
	}
	if trader.Deposit.LessThan(fromDeposit) {
		logging.Warn(ctx, "Insufficient trust balance and deposit for deduction",
			"trader_id", traderID,
			"trust", trader.TrustBalance.String(),
			"deposit", trader.Deposit.String(),
			"required", amount.String(),
		)
		return domain.ErrInsufficientBalance
	}

	err = fs.traderRepo.ApplyDelta(ctx, traderID, domain.BalanceDelta{
		TrustBalance: fromTrust.Neg(),
		Deposit:      fromDeposit.Neg(),
	})
	if err != nil {
		return err
	}

	logging.Info(ctx, "Deducted from trust balance",
		"trader_id", traderID,
		"from_trust", fromTrust.String(),
		"from_deposit", fromDeposit.String(),
	)
	return nil
}

// CreditDealProfit 入账收款交易收益
func (fs *FreezingService) CreditDealProfit(ctx context.Context, traderID string, profit decimal.Decimal) error {
	if profit.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	return fs.traderRepo.ApplyDelta(ctx, traderID, domain.BalanceDelta{ProfitFromDeals: profit})
}

// ReverseDealProfit 冲销已入账的收款交易收益（READY 之后取消）
func (fs *FreezingService) ReverseDealProfit(ctx context.Context, traderID string, profit decimal.Decimal) error {
	if profit.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	err := fs.traderRepo.ApplyDelta(ctx, traderID, domain.BalanceDelta{ProfitFromDeals: profit.Neg()})
	if errors.Is(err, domain.ErrInsufficientBalance) {
		return fmt.Errorf("profit reversal exceeds accumulated deal profit: %w", err)
	}
	return err
}

// CreditPayoutProfit 入账付款交易收益
func (fs *FreezingService) CreditPayoutProfit(ctx context.Context, traderID string, profit decimal.Decimal) error {
	if profit.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	return fs.traderRepo.ApplyDelta(ctx, traderID, domain.BalanceDelta{ProfitFromPayouts: profit})
}
