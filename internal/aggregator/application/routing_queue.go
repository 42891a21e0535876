// 包 application 聚合器兜底路由队列
package application

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/logging"

	"github.com/wyfcoding/paymentplatform/internal/aggregator/domain"
	ratedomain "github.com/wyfcoding/paymentplatform/internal/rate/domain"
	"github.com/wyfcoding/paymentplatform/pkg/metrics"
	"github.com/wyfcoding/paymentplatform/pkg/money"
)

const (
	// 高优先级带的准入阈值
	highPriorityThreshold = 50
	// 高优先级带每 3 次调用轮换一位，普通带每次轮换
	highBandRotateEvery = 3
	// 同一聚合器两次派发之间的最小间隔
	antiHammerWindow = time.Second
	// 保险保证金的最低要求 (USDT)
	minInsuranceDeposit = 1000
)

// RateOracle 承接成本换算所需的汇率查询
type RateOracle interface {
	BaseRate(ctx context.Context, source ratedomain.Source) (decimal.Decimal, error)
}

// RoutingQueue 聚合器路由队列。
// 轮换计数器是进程内状态：进程启动时清零、单调递增、原子读改写；
// 多实例并发路由时各实例独立轮换，公平性按实例各自收敛。
type RoutingQueue struct {
	repo        domain.AggregatorRepository
	adapters    map[domain.Variant]domain.AggregatorAdapter
	oracle      RateOracle
	metrics     *metrics.Metrics
	maxAttempts int

	normalCalls atomic.Uint64
	highCalls   atomic.Uint64
}

// NewRoutingQueue 创建路由队列
func NewRoutingQueue(repo domain.AggregatorRepository, adapters map[domain.Variant]domain.AggregatorAdapter, oracle RateOracle, m *metrics.Metrics, maxAttempts int) *RoutingQueue {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &RoutingQueue{
		repo:        repo,
		adapters:    adapters,
		oracle:      oracle,
		metrics:     m,
		maxAttempts: maxAttempts,
	}
}

// RouteDeal 轮换派发交易给聚合器，直至接单、尝试耗尽或候选为空。
// 返回的 Success=false 不是系统故障，调用方以 NO_REQUISITE 对外呈现。
func (q *RoutingQueue) RouteDeal(ctx context.Context, req domain.DealRequest) (*domain.RoutingResult, error) {
	tried := make([]string, 0, q.maxAttempts)

	for attempt := 0; attempt < q.maxAttempts; attempt++ {
		candidates, err := q.repo.ListRoutable(ctx, tried)
		if err != nil {
			return nil, err
		}

		pick := q.pickCandidate(ctx, candidates, req.Amount)
		if pick == nil {
			break
		}
		agg := pick.agg

		result, err := q.dispatch(ctx, agg, pick.cost, req)
		tried = append(tried, agg.AggregatorID)
		if err != nil {
			if errors.Is(err, domain.ErrPartnerNoRequisite) {
				logging.Info(ctx, "Partner has no requisite, trying next aggregator",
					"aggregator_id", agg.AggregatorID, "transaction_id", req.TransactionID)
				continue
			}
			logging.Warn(ctx, "Aggregator dispatch failed, trying next",
				"aggregator_id", agg.AggregatorID,
				"transaction_id", req.TransactionID,
				"error", err)
			continue
		}

		profit := platformProfit(req, pick)
		if err := q.repo.CommitHold(ctx, agg.AggregatorID, pick.cost, profit, req.Amount); err != nil {
			// 合作方已接单，本地账目必须落下；失败只能记录待人工对账
			logging.Error(ctx, "Failed to commit aggregator hold after acceptance",
				"aggregator_id", agg.AggregatorID,
				"transaction_id", req.TransactionID,
				"cost", pick.cost.String(),
				"error", err)
		}

		return &domain.RoutingResult{
			Success:          true,
			Aggregator:       agg,
			PartnerOrderID:   result.PartnerOrderID,
			RawResponse:      result.RawResponse,
			PlatformProfit:   profit,
			TriedAggregators: tried[:len(tried)-1],
		}, nil
	}

	if q.metrics != nil {
		q.metrics.RoutingExhaustedTotal.Inc()
	}
	logging.Warn(ctx, "Aggregator routing exhausted",
		"transaction_id", req.TransactionID, "tried", tried)
	return &domain.RoutingResult{Success: false, TriedAggregators: tried}, nil
}

// candidatePick 幸存候选及其成本口径
type candidatePick struct {
	agg *domain.Aggregator
	// 按聚合器自己的汇率源换算的本金 (USDT)
	principalUsdt decimal.Decimal
	// 本金 + 聚合器费，向上取整的总承接成本 (USDT)
	cost decimal.Decimal
}

// pickCandidate 带权轮换后过滤，返回第一个幸存者及其承接成本。
// 过滤掉的聚合器不算"已尝试"：未向其发出过请求。
func (q *RoutingQueue) pickCandidate(ctx context.Context, candidates []*domain.Aggregator, amount decimal.Decimal) *candidatePick {
	for _, agg := range q.rotate(candidates) {
		if agg.RequiresInsuranceDeposit && agg.DepositUsdt.LessThan(decimal.NewFromInt(minInsuranceDeposit)) {
			continue
		}
		if agg.BalanceUsdt.LessThan(agg.MinBalance) {
			continue
		}
		if agg.MaxDailyVolume.IsPositive() && agg.CurrentDailyVolume.GreaterThanOrEqual(agg.MaxDailyVolume) {
			continue
		}
		if agg.LastDispatchAt != nil && time.Since(*agg.LastDispatchAt) < antiHammerWindow {
			continue
		}

		principal, cost, err := q.deliveryCost(ctx, agg, amount)
		if err != nil {
			logging.Warn(ctx, "Failed to compute aggregator delivery cost",
				"aggregator_id", agg.AggregatorID, "error", err)
			continue
		}
		if agg.BalanceUsdt.Sub(agg.FrozenBalance).LessThan(cost) {
			continue
		}
		return &candidatePick{agg: agg, principalUsdt: principal, cost: cost}
	}
	return nil
}

// rotate 按优先级分带轮换：> 50 为高优先级带，每 3 次调用轮换一位并整体排在前面，
// 普通带每次调用轮换一位 — 高优先级获得更多连续流量，同时保证最终公平。
func (q *RoutingQueue) rotate(candidates []*domain.Aggregator) []*domain.Aggregator {
	var high, normal []*domain.Aggregator
	for _, agg := range candidates {
		if agg.Priority > highPriorityThreshold {
			high = append(high, agg)
		} else {
			normal = append(normal, agg)
		}
	}
	sort.SliceStable(high, func(i, j int) bool { return high[i].Priority > high[j].Priority })
	sort.SliceStable(normal, func(i, j int) bool { return normal[i].Priority > normal[j].Priority })

	if len(high) > 0 {
		offset := int((q.highCalls.Add(1)-1)/highBandRotateEvery) % len(high)
		high = append(high[offset:], high[:offset]...)
	}
	if len(normal) > 0 {
		offset := int(q.normalCalls.Add(1)-1) % len(normal)
		normal = append(normal[offset:], normal[:offset]...)
	}
	return append(high, normal...)
}

// deliveryCost 用聚合器自己的汇率源与费率计算承接成本 (USDT)。
// 成本是平台的付款义务，整体向上取整。
func (q *RoutingQueue) deliveryCost(ctx context.Context, agg *domain.Aggregator, amount decimal.Decimal) (principal, cost decimal.Decimal, err error) {
	rate, err := q.oracle.BaseRate(ctx, ratedomain.Source(agg.RateSource))
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	principal = money.UsdtFromFiat(amount, rate)
	feeFactor := decimal.NewFromInt(1).Add(agg.FeePercent.Div(decimal.NewFromInt(100)))
	cost = money.RoundUp2(principal.Mul(feeFactor))
	return principal, cost, nil
}

// platformProfit 平台分成：商户费减聚合器费 (USDT)，向下截断。
// 聚合器费取承接成本与本金之差，与实扣口径一致。
func platformProfit(req domain.DealRequest, pick *candidatePick) decimal.Decimal {
	merchantFee := money.Truncate2(pick.principalUsdt.Mul(req.MerchantFeePercent).Div(decimal.NewFromInt(100)))
	aggregatorFee := pick.cost.Sub(pick.principalUsdt)
	return money.Truncate2(merchantFee.Sub(aggregatorFee))
}

// dispatch 冻结成本、选择协议适配器并派发；任何失败都释放冻结
func (q *RoutingQueue) dispatch(ctx context.Context, agg *domain.Aggregator, cost decimal.Decimal, req domain.DealRequest) (*domain.DealResult, error) {
	if err := q.repo.Hold(ctx, agg.AggregatorID, cost); err != nil {
		return nil, err
	}
	if err := q.repo.MarkDispatched(ctx, agg.AggregatorID, time.Now()); err != nil {
		logging.Warn(ctx, "Failed to record aggregator dispatch time",
			"aggregator_id", agg.AggregatorID, "error", err)
	}

	adapter, ok := q.adapters[agg.Variant]
	if !ok {
		q.releaseHold(ctx, agg, cost)
		return nil, errors.New("no adapter registered for variant " + string(agg.Variant))
	}

	if q.metrics != nil {
		q.metrics.RoutingAttemptsTotal.Inc()
	}
	start := time.Now()
	result, err := adapter.CreateDeal(ctx, agg, req)
	if q.metrics != nil {
		q.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		q.releaseHold(ctx, agg, cost)
		return nil, err
	}
	return result, nil
}

func (q *RoutingQueue) releaseHold(ctx context.Context, agg *domain.Aggregator, cost decimal.Decimal) {
	if err := q.repo.ReleaseHold(ctx, agg.AggregatorID, cost); err != nil {
		logging.Error(ctx, "Failed to release aggregator hold",
			"aggregator_id", agg.AggregatorID, "cost", cost.String(), "error", err)
	}
}
