// 包 application 收款方式选择器的用例逻辑
package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentplatform/internal/requisite/domain"
	trafficdomain "github.com/wyfcoding/paymentplatform/internal/traffic/domain"
	"github.com/wyfcoding/pkg/logging"
)

// Selector 收款方式选择器
// 有序过滤管道，候选按 updated_at 升序遍历，第一个全部通过的候选胜出。
// 未命中返回 (nil, nil)：这是预期的路由结果，调用方回退到聚合器队列。
type Selector struct {
	detailRepo  domain.BankDetailRepository
	trafficRepo trafficdomain.TrafficRepository
	stats       domain.UsageStats
}

// NewSelector 创建收款方式选择器
func NewSelector(detailRepo domain.BankDetailRepository, trafficRepo trafficdomain.TrafficRepository, stats domain.UsageStats) *Selector {
	return &Selector{
		detailRepo:  detailRepo,
		trafficRepo: trafficRepo,
		stats:       stats,
	}
}

// Select 为指定金额与支付方式选择收款方式。
// 所有限额校验在调用方的工作单元事务内执行，提交前即为最终校验。
func (s *Selector) Select(ctx context.Context, amount decimal.Decimal, methodType, merchantID string) (*domain.BankDetail, error) {
	candidates, err := s.detailRepo.FindEligible(ctx, methodType)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		ok, err := s.passes(ctx, candidate, amount, merchantID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if err := s.detailRepo.TouchForSelection(ctx, candidate.DetailID, amount); err != nil {
			return nil, err
		}

		logging.Info(ctx, "Requisite selected",
			"detail_id", candidate.DetailID,
			"trader_id", candidate.TraderID,
			"amount", amount.String(),
		)
		detail := candidate.BankDetail
		return &detail, nil
	}

	logging.Info(ctx, "No requisite matched",
		"method_type", methodType,
		"merchant_id", merchantID,
		"amount", amount.String(),
		"candidates", len(candidates),
	)
	return nil, nil
}

// passes 逐项硬性校验，任一失败即淘汰该候选
func (s *Selector) passes(ctx context.Context, c *domain.Candidate, amount decimal.Decimal, merchantID string) (bool, error) {
	// a. 金额落在收款方式与交易员的单笔限额内
	if amount.LessThan(c.MinAmount) {
		return false, nil
	}
	if c.MaxAmount.IsPositive() && amount.GreaterThan(c.MaxAmount) {
		return false, nil
	}
	if amount.LessThan(c.TraderMinAmount) {
		return false, nil
	}
	if c.TraderMaxAmount.IsPositive() && amount.GreaterThan(c.TraderMaxAmount) {
		return false, nil
	}

	// 商户维度流量开关
	traffic, err := s.trafficRepo.Get(ctx, c.TraderID, merchantID)
	if err != nil {
		if errors.Is(err, trafficdomain.ErrTrafficNotFound) {
			return false, nil
		}
		return false, err
	}
	if !traffic.Enabled {
		return false, nil
	}

	// b. 同收款方式上不得有完全同额度的进行中交易（防撞单：
	// 商户按精确金额对账，重复金额会让付款人无法区分两笔交易）
	dup, err := s.stats.HasActiveWithAmount(ctx, c.DetailID, amount)
	if err != nil {
		return false, err
	}
	if dup {
		return false, nil
	}

	// c. 当日操作数上限
	if c.MaxCountTransactions > 0 {
		count, err := s.stats.CountToday(ctx, c.DetailID, time.Now())
		if err != nil {
			return false, err
		}
		if count >= int64(c.MaxCountTransactions) {
			return false, nil
		}
	}

	// d. 并发操作上限
	if c.OperationLimit > 0 {
		inflight, err := s.stats.CountInFlight(ctx, c.DetailID)
		if err != nil {
			return false, err
		}
		if inflight >= int64(c.OperationLimit) {
			return false, nil
		}
	}

	// e. 在途金额上限（含本候选金额）
	if c.SumLimit.IsPositive() {
		sum, err := s.stats.SumInFlight(ctx, c.DetailID)
		if err != nil {
			return false, err
		}
		if sum.Add(amount).GreaterThan(c.SumLimit) {
			return false, nil
		}
	}

	// f. 冷却间隔
	if c.IntervalMinutes > 0 {
		recent, err := s.stats.CreatedWithin(ctx, c.DetailID, time.Duration(c.IntervalMinutes)*time.Minute)
		if err != nil {
			return false, err
		}
		if recent {
			return false, nil
		}
	}

	return true, nil
}
