// 包 application 交易用例：创建、状态流转、过期清扫
package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/logging"

	"github.com/wyfcoding/paymentplatform/internal/callback"
	merchantdomain "github.com/wyfcoding/paymentplatform/internal/merchant/domain"
	traderapp "github.com/wyfcoding/paymentplatform/internal/trader/application"
	trafficdomain "github.com/wyfcoding/paymentplatform/internal/traffic/domain"
	"github.com/wyfcoding/paymentplatform/internal/transaction/domain"
	"github.com/wyfcoding/paymentplatform/pkg/metrics"
	"github.com/wyfcoding/paymentplatform/pkg/money"
)

// StatusService 交易状态流转服务。
// 每次流转的全部财务副作用在单个数据库事务内落账；
// 回调与事件在提交后异步发出，失败不回滚账目。
type StatusService struct {
	txnRepo      domain.TransactionRepository
	freezing     *traderapp.FreezingService
	merchantRepo merchantdomain.MerchantRepository
	methodRepo   merchantdomain.MethodRepository
	trafficRepo  trafficdomain.TrafficRepository
	disputeGuard domain.DisputeGuard
	notifier     callback.Notifier
	publisher    domain.EventPublisher
	metrics      *metrics.Metrics
}

// NewStatusService 创建状态流转服务
func NewStatusService(
	txnRepo domain.TransactionRepository,
	freezing *traderapp.FreezingService,
	merchantRepo merchantdomain.MerchantRepository,
	methodRepo merchantdomain.MethodRepository,
	trafficRepo trafficdomain.TrafficRepository,
	disputeGuard domain.DisputeGuard,
	notifier callback.Notifier,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
) *StatusService {
	return &StatusService{
		txnRepo:      txnRepo,
		freezing:     freezing,
		merchantRepo: merchantRepo,
		methodRepo:   methodRepo,
		trafficRepo:  trafficRepo,
		disputeGuard: disputeGuard,
		notifier:     notifier,
		publisher:    publisher,
		metrics:      m,
	}
}

// UpdateStatus 交易员/后台发起的普通状态流转。
// 交易存在未决争议时被阻断，争议只能通过争议裁决路径落地。
func (s *StatusService) UpdateStatus(ctx context.Context, transactionID string, target domain.Status) (*domain.Transaction, error) {
	if s.disputeGuard != nil {
		open, err := s.disputeGuard.HasOpenDispute(ctx, transactionID)
		if err != nil {
			return nil, err
		}
		if open {
			return nil, domain.ErrDisputeOpen
		}
	}
	return s.applyTransition(ctx, transactionID, target)
}

// ApplyResolution 争议裁决专用入口，绕过争议阻断
func (s *StatusService) ApplyResolution(ctx context.Context, transactionID string, target domain.Status) (*domain.Transaction, error) {
	return s.applyTransition(ctx, transactionID, target)
}

func (s *StatusService) applyTransition(ctx context.Context, transactionID string, target domain.Status) (*domain.Transaction, error) {
	var (
		txn     *domain.Transaction
		prior   domain.Status
		applied bool
	)

	err := s.txnRepo.WithTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.txnRepo.GetForUpdate(txCtx, transactionID)
		if err != nil {
			return err
		}
		txn = loaded

		// 幂等重放：状态已是目标值时不再应用任何副作用
		if txn.Status == target {
			return nil
		}

		prior = txn.Status
		if err := txn.ApplyStatus(txCtx, target); err != nil {
			return err
		}

		if err := s.applySideEffects(txCtx, txn, prior); err != nil {
			return err
		}

		if err := s.txnRepo.SaveTransition(txCtx, txn, prior); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		logging.Info(ctx, "Transaction status changed",
			"transaction_id", txn.TransactionID,
			"prior", prior,
			"status", txn.Status,
		)
		s.afterCommit(ctx, txn, prior)
	}
	return txn, nil
}

// applySideEffects prior 为流转前状态，txn.Status 已是目标状态
func (s *StatusService) applySideEffects(ctx context.Context, txn *domain.Transaction, prior domain.Status) error {
	switch txn.Status {
	case domain.StatusReady:
		return s.settle(ctx, txn)
	case domain.StatusExpired:
		return s.expire(ctx, txn)
	case domain.StatusCanceled:
		return s.cancel(ctx, txn, prior)
	default:
		// IN_PROGRESS / DISPUTE / MILK 不产生账目副作用
		return nil
	}
}

// settle 结算：交易员收益、商户入账、冻结释放或信任余额扣减
func (s *StatusService) settle(ctx context.Context, txn *domain.Transaction) error {
	fee, err := s.resolveFeePercent(ctx, txn)
	if err != nil {
		return err
	}
	txn.FeeInPercent = fee

	spent := txn.SpentUsdt()
	profit := money.Truncate2(spent.Mul(fee).Div(decimal.NewFromInt(100)))
	txn.TraderProfit = profit

	if txn.TraderID != "" {
		switch txn.Type {
		case domain.TypeIn:
			// 过期后确认：冻结额已临时返还，改从 trust_balance 扣
			if txn.SettlementSource == domain.SettlementFromTrust {
				if err := s.freezing.DeductFromTrust(ctx, txn.TraderID, spent); err != nil {
					return err
				}
			} else {
				if err := s.freezing.Release(ctx, txn.TraderID, txn.FrozenUsdtAmount); err != nil {
					return err
				}
			}
			if err := s.freezing.CreditDealProfit(ctx, txn.TraderID, profit); err != nil {
				return err
			}
		case domain.TypeOut:
			// 付款交易创建时不冻结，结算时一次性从 trust_balance 扣减
			if err := s.freezing.DeductFromTrust(ctx, txn.TraderID, spent); err != nil {
				return err
			}
			if err := s.freezing.CreditPayoutProfit(ctx, txn.TraderID, profit); err != nil {
				return err
			}
		}
	}

	if txn.Type == domain.TypeIn {
		credit, err := s.merchantCredit(ctx, txn)
		if err != nil {
			return err
		}
		if err := s.merchantRepo.CreditBalance(ctx, txn.MerchantID, credit); err != nil {
			return err
		}
	}
	return nil
}

// expire 过期：冻结额临时返还 trust_balance，不动收益
func (s *StatusService) expire(ctx context.Context, txn *domain.Transaction) error {
	if txn.Type != domain.TypeIn || txn.TraderID == "" {
		return nil
	}
	return s.freezing.UnfreezeToTrust(ctx, txn.TraderID, txn.FrozenUsdtAmount)
}

// cancel 取消：副作用取决于离开的状态
func (s *StatusService) cancel(ctx context.Context, txn *domain.Transaction, prior domain.Status) error {
	if txn.Type != domain.TypeIn || txn.TraderID == "" {
		return nil
	}

	switch prior {
	case domain.StatusReady:
		// 结算后取消：冻结早已释放，从 trust_balance 收回本金并冲销收益
		principal := money.Truncate2(txn.Amount.Div(txn.Rate))
		if err := s.freezing.DeductFromTrust(ctx, txn.TraderID, principal); err != nil {
			return err
		}
		return s.freezing.ReverseDealProfit(ctx, txn.TraderID, txn.TraderProfit)
	case domain.StatusExpired:
		// 过期后取消：冲正过期时的临时返还
		return s.freezing.DeductFromTrust(ctx, txn.TraderID, txn.SpentUsdt())
	default:
		// 仍处冻结中 (IN_PROGRESS / MILK)：解冻返还
		if txn.SettlementSource == domain.SettlementFromTrust {
			return s.freezing.DeductFromTrust(ctx, txn.TraderID, txn.SpentUsdt())
		}
		return s.freezing.UnfreezeToTrust(ctx, txn.TraderID, txn.FrozenUsdtAmount)
	}
}

// resolveFeePercent 结算时解析费率：trader-merchant 流量配置优先，兜底支付方式费率
func (s *StatusService) resolveFeePercent(ctx context.Context, txn *domain.Transaction) (decimal.Decimal, error) {
	if txn.TraderID != "" {
		record, err := s.trafficRepo.Get(ctx, txn.TraderID, txn.MerchantID)
		if err == nil && record.TraderRewardPercent.IsPositive() {
			return record.TraderRewardPercent, nil
		}
		if err != nil && !errors.Is(err, trafficdomain.ErrTrafficNotFound) {
			return decimal.Zero, err
		}
	}

	method, err := s.methodRepo.Get(ctx, txn.MethodID)
	if err != nil {
		return decimal.Zero, err
	}
	return method.FeePercent, nil
}

// merchantCredit 商户入账额：amount / (rate * (1 + commissionPayin/100))，
// 使用交易存储的汇率，绝不取实时市场汇率；入账额向下截断。
func (s *StatusService) merchantCredit(ctx context.Context, txn *domain.Transaction) (decimal.Decimal, error) {
	method, err := s.methodRepo.Get(ctx, txn.MethodID)
	if err != nil {
		return decimal.Zero, err
	}

	rate := txn.Rate
	if txn.MerchantRate.IsPositive() {
		rate = txn.MerchantRate
	}
	divisor := rate.Mul(decimal.NewFromInt(1).Add(method.CommissionPayin.Div(decimal.NewFromInt(100))))
	return money.Truncate2(txn.Amount.Div(divisor)), nil
}

// afterCommit 终态指标、商户回调与 Kafka 事件；均为尽力而为
func (s *StatusService) afterCommit(ctx context.Context, txn *domain.Transaction, prior domain.Status) {
	if s.metrics != nil {
		s.metrics.TransactionsTotal.WithLabelValues(string(txn.Status)).Inc()
	}

	event := domain.StatusChangedEvent{
		TransactionID: txn.TransactionID,
		OrderID:       txn.OrderID,
		MerchantID:    txn.MerchantID,
		TraderID:      txn.TraderID,
		Type:          txn.Type,
		PriorStatus:   prior,
		Status:        txn.Status,
		Amount:        txn.Amount,
		Rate:          txn.Rate,
		TraderProfit:  txn.TraderProfit,
		OccurredOn:    time.Now(),
	}

	notifyStatus := txn.Status
	txnCopy := *txn
	go func() {
		bgCtx := context.WithoutCancel(ctx)
		if s.publisher != nil {
			if err := s.publisher.PublishStatusChanged(bgCtx, event); err != nil {
				logging.Error(bgCtx, "Failed to publish status changed event",
					"transaction_id", txnCopy.TransactionID, "error", err)
			}
		}

		if s.notifier == nil || !isNotifiable(notifyStatus) {
			return
		}
		merchant, err := s.merchantRepo.Get(bgCtx, txnCopy.MerchantID)
		if err != nil {
			logging.Error(bgCtx, "Failed to load merchant for callback",
				"merchant_id", txnCopy.MerchantID, "error", err)
			return
		}
		s.notifier.NotifyByStatus(bgCtx, merchant, callback.Event{
			TransactionID: txnCopy.TransactionID,
			OrderID:       txnCopy.OrderID,
			MerchantID:    txnCopy.MerchantID,
			Status:        string(notifyStatus),
			Type:          string(txnCopy.Type),
			Amount:        txnCopy.Amount,
			Rate:          txnCopy.Rate,
			OccurredAt:    time.Now(),
		})
	}()
}

// isNotifiable 终态类状态才通知商户
func isNotifiable(status domain.Status) bool {
	switch status {
	case domain.StatusReady, domain.StatusCanceled, domain.StatusExpired, domain.StatusMilk:
		return true
	default:
		return false
	}
}

// Get 查询交易
func (s *StatusService) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return s.txnRepo.Get(ctx, transactionID)
}

// ExpireOverdue 过期清扫：把已过 expired_at 的进行中交易全部流转到 EXPIRED。
// 单笔失败不影响其余；并发清扫下的状态冲突按已处理跳过。
func (s *StatusService) ExpireOverdue(ctx context.Context, batchSize int) (int, error) {
	overdue, err := s.txnRepo.ListExpired(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, txn := range overdue {
		if _, err := s.UpdateStatus(ctx, txn.TransactionID, domain.StatusExpired); err != nil {
			if errors.Is(err, domain.ErrStatusConflict) || errors.Is(err, domain.ErrDisputeOpen) {
				continue
			}
			logging.Error(ctx, "Failed to expire transaction",
				"transaction_id", txn.TransactionID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}
