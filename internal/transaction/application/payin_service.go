package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/logging"

	aggdomain "github.com/wyfcoding/paymentplatform/internal/aggregator/domain"
	merchantdomain "github.com/wyfcoding/paymentplatform/internal/merchant/domain"
	ratedomain "github.com/wyfcoding/paymentplatform/internal/rate/domain"
	requisiteapp "github.com/wyfcoding/paymentplatform/internal/requisite/application"
	requisitedomain "github.com/wyfcoding/paymentplatform/internal/requisite/domain"
	traderapp "github.com/wyfcoding/paymentplatform/internal/trader/application"
	"github.com/wyfcoding/paymentplatform/internal/transaction/domain"
	"github.com/wyfcoding/paymentplatform/pkg/metrics"
)

// DealRouter 聚合器兜底路由
type DealRouter interface {
	RouteDeal(ctx context.Context, req aggdomain.DealRequest) (*aggdomain.RoutingResult, error)
}

// RateOracle 创建交易时锁定汇率
type RateOracle interface {
	RateWithMarkup(ctx context.Context, source ratedomain.Source, kkkPercent decimal.Decimal, op ratedomain.MarkupOperation) (decimal.Decimal, error)
}

// PayinConfig 收款链路配置
type PayinConfig struct {
	// 汇率源与 KKK 调整
	RateSource   ratedomain.Source
	KkkPercent   decimal.Decimal
	KkkOperation ratedomain.MarkupOperation
	// 聚合器回调的对外地址前缀
	CallbackBaseURL string
	// 未指定时的默认交易时效
	DefaultExpiry time.Duration
}

// CreateInboundCommand 创建收款交易命令
type CreateInboundCommand struct {
	MerchantID string
	OrderID    string
	// 终端付款人标识，可为空；非空时用于幂等去重
	ClientID string
	MethodID string
	Amount   decimal.Decimal
	// 商户自带汇率，商户开启卢布口径时生效
	MerchantRate decimal.Decimal
	// 交易时效，零值取默认
	ExpiresIn time.Duration
}

// InboundResult 创建收款交易结果
type InboundResult struct {
	Transaction *domain.Transaction
	// 匹配到的收款方式；聚合器路径下为空
	Requisite *requisitedomain.BankDetail
	// 幂等去重命中的既有交易
	Reused bool
}

// PayinService 收款交易创建服务：
// 先走收款方式匹配 + 冻结，无匹配或冻结失败时兜底到聚合器路由队列。
type PayinService struct {
	txnRepo      domain.TransactionRepository
	selector     *requisiteapp.Selector
	freezing     *traderapp.FreezingService
	merchantRepo merchantdomain.MerchantRepository
	methodRepo   merchantdomain.MethodRepository
	oracle       RateOracle
	router       DealRouter
	publisher    domain.EventPublisher
	metrics      *metrics.Metrics
	cfg          PayinConfig
}

// NewPayinService 创建收款交易服务
func NewPayinService(
	txnRepo domain.TransactionRepository,
	selector *requisiteapp.Selector,
	freezing *traderapp.FreezingService,
	merchantRepo merchantdomain.MerchantRepository,
	methodRepo merchantdomain.MethodRepository,
	oracle RateOracle,
	router DealRouter,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	cfg PayinConfig,
) *PayinService {
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = 30 * time.Minute
	}
	return &PayinService{
		txnRepo:      txnRepo,
		selector:     selector,
		freezing:     freezing,
		merchantRepo: merchantRepo,
		methodRepo:   methodRepo,
		oracle:       oracle,
		router:       router,
		publisher:    publisher,
		metrics:      m,
		cfg:          cfg,
	}
}

// CreateInbound 创建收款交易。
// 返回 ErrNoRequisite 表示交易员与聚合器两条路径都未能承接，
// 这是预期内的路由结果而非系统故障。
func (s *PayinService) CreateInbound(ctx context.Context, cmd CreateInboundCommand) (*InboundResult, error) {
	if cmd.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be positive, got %s", cmd.Amount)
	}

	merchant, err := s.merchantRepo.Get(ctx, cmd.MerchantID)
	if err != nil {
		return nil, err
	}
	method, err := s.methodRepo.Get(ctx, cmd.MethodID)
	if err != nil {
		return nil, err
	}

	// 同商户同付款人同金额的进行中交易直接复用，防止重复下单
	if cmd.ClientID != "" {
		existing, err := s.txnRepo.FindActiveByClient(ctx, cmd.MerchantID, cmd.ClientID, cmd.Amount)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logging.Info(ctx, "Reusing active transaction for client",
				"transaction_id", existing.TransactionID,
				"merchant_id", cmd.MerchantID,
				"client_id", cmd.ClientID,
			)
			return &InboundResult{Transaction: existing, Reused: true}, nil
		}
	}

	rate, merchantRate, err := s.resolveRate(ctx, merchant, cmd.MerchantRate)
	if err != nil {
		return nil, err
	}

	expiresIn := cmd.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = s.cfg.DefaultExpiry
	}
	expiredAt := time.Now().Add(expiresIn)

	result, err := s.createViaRequisite(ctx, cmd, method, rate, merchantRate, expiredAt)
	if err == nil {
		s.afterCreate(ctx, result.Transaction)
		return result, nil
	}
	if !errors.Is(err, domain.ErrNoRequisite) {
		return nil, err
	}

	result, err = s.createViaAggregator(ctx, cmd, method, rate, merchantRate, expiredAt)
	if err != nil {
		return nil, err
	}
	s.afterCreate(ctx, result.Transaction)
	return result, nil
}

// resolveRate 锁定交易汇率：商户自带卢布口径汇率时优先，
// 否则取汇率源并应用 KKK 调整
func (s *PayinService) resolveRate(ctx context.Context, merchant *merchantdomain.Merchant, merchantRate decimal.Decimal) (rate, usedMerchantRate decimal.Decimal, err error) {
	if merchant.CountInRubEquivalent && merchantRate.IsPositive() {
		return merchantRate, merchantRate, nil
	}
	rate, err = s.oracle.RateWithMarkup(ctx, s.cfg.RateSource, s.cfg.KkkPercent, s.cfg.KkkOperation)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return rate, decimal.Zero, nil
}

// createViaRequisite 交易员路径：匹配、冻结、创建在同一事务内，
// 限额校验与交易落库之间不存在竞态窗口
func (s *PayinService) createViaRequisite(ctx context.Context, cmd CreateInboundCommand, method *merchantdomain.PaymentMethod, rate, merchantRate decimal.Decimal, expiredAt time.Time) (*InboundResult, error) {
	var result *InboundResult

	err := s.txnRepo.WithTx(ctx, func(txCtx context.Context) error {
		detail, err := s.selector.Select(txCtx, cmd.Amount, method.MethodType, cmd.MerchantID)
		if err != nil {
			return err
		}
		if detail == nil {
			return domain.ErrNoRequisite
		}

		freezing, err := s.freezing.ComputeFreezing(cmd.Amount, rate)
		if err != nil {
			return err
		}
		if err := s.freezing.Freeze(txCtx, detail.TraderID, freezing.TotalRequired); err != nil {
			if s.metrics != nil {
				s.metrics.FreezeFailuresTotal.Inc()
			}
			// 余额不足等同无可用收款方式：触发聚合器兜底，不让请求失败
			logging.Warn(txCtx, "Freeze failed, falling back to aggregators",
				"trader_id", detail.TraderID, "error", err)
			return domain.ErrNoRequisite
		}

		txn := domain.NewTransaction(cmd.MerchantID, cmd.OrderID, cmd.ClientID, cmd.MethodID, domain.TypeIn, cmd.Amount, rate, expiredAt)
		txn.MerchantRate = merchantRate
		txn.KkkPercent = s.cfg.KkkPercent
		txn.KkkOperation = string(s.cfg.KkkOperation)
		txn.TraderID = detail.TraderID
		txn.BankDetailID = detail.DetailID
		txn.FrozenUsdtAmount = freezing.FrozenUsdtAmount
		txn.CalculatedCommission = freezing.CalculatedCommission
		if err := txn.Start(txCtx); err != nil {
			return err
		}
		if err := s.txnRepo.Create(txCtx, txn); err != nil {
			return err
		}

		result = &InboundResult{Transaction: txn, Requisite: detail}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// createViaAggregator 聚合器路径：派发在事务外（外部 HTTP 不能占着数据库事务），
// 接单后单独落库
func (s *PayinService) createViaAggregator(ctx context.Context, cmd CreateInboundCommand, method *merchantdomain.PaymentMethod, rate, merchantRate decimal.Decimal, expiredAt time.Time) (*InboundResult, error) {
	txn := domain.NewTransaction(cmd.MerchantID, cmd.OrderID, cmd.ClientID, cmd.MethodID, domain.TypeIn, cmd.Amount, rate, expiredAt)
	txn.MerchantRate = merchantRate
	txn.KkkPercent = s.cfg.KkkPercent
	txn.KkkOperation = string(s.cfg.KkkOperation)

	routing, err := s.router.RouteDeal(ctx, aggdomain.DealRequest{
		TransactionID:      txn.TransactionID,
		OrderID:            cmd.OrderID,
		Amount:             cmd.Amount,
		Rate:               rate,
		MethodType:         method.MethodType,
		CallbackURL:        fmt.Sprintf("%s/api/v1/aggregators/callback/%s", s.cfg.CallbackBaseURL, txn.TransactionID),
		ExpiredAt:          expiredAt,
		MerchantFeePercent: method.CommissionPayin,
	})
	if err != nil {
		return nil, err
	}
	if !routing.Success {
		logging.Warn(ctx, "No requisite and no aggregator accepted",
			"merchant_id", cmd.MerchantID,
			"amount", cmd.Amount.String(),
			"tried", routing.TriedAggregators,
		)
		return nil, domain.ErrNoRequisite
	}

	txn.AggregatorID = routing.Aggregator.AggregatorID
	txn.AggregatorOrderID = routing.PartnerOrderID
	txn.AggregatorResponse = routing.RawResponse
	if err := txn.Start(ctx); err != nil {
		return nil, err
	}
	if err := s.txnRepo.Create(ctx, txn); err != nil {
		return nil, err
	}
	return &InboundResult{Transaction: txn}, nil
}

func (s *PayinService) afterCreate(ctx context.Context, txn *domain.Transaction) {
	if s.metrics != nil {
		s.metrics.TransactionsTotal.WithLabelValues(string(txn.Status)).Inc()
	}
	if s.publisher == nil {
		return
	}

	event := domain.StatusChangedEvent{
		TransactionID: txn.TransactionID,
		OrderID:       txn.OrderID,
		MerchantID:    txn.MerchantID,
		TraderID:      txn.TraderID,
		Type:          txn.Type,
		PriorStatus:   domain.StatusCreated,
		Status:        txn.Status,
		Amount:        txn.Amount,
		Rate:          txn.Rate,
		OccurredOn:    time.Now(),
	}
	go func() {
		bgCtx := context.WithoutCancel(ctx)
		if err := s.publisher.PublishStatusChanged(bgCtx, event); err != nil {
			logging.Error(bgCtx, "Failed to publish transaction created event",
				"transaction_id", event.TransactionID, "error", err)
		}
	}()
}
