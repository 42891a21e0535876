// Package application 实现带缓存的汇率预言机
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/logging"

	"github.com/wyfcoding/paymentplatform/internal/rate/domain"
	"github.com/wyfcoding/paymentplatform/pkg/cache"
)

// RateCache 汇率缓存，由 Redis 实现
type RateCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

type cachedRate struct {
	Rate decimal.Decimal `json:"rate"`
}

// Oracle 汇率预言机实现：按源读穿缓存，KKK 调整在基础汇率之上计算
type Oracle struct {
	providers map[domain.Source]domain.Provider
	cache     RateCache
	ttl       time.Duration
}

// NewOracle 创建汇率预言机
func NewOracle(providers map[domain.Source]domain.Provider, rateCache RateCache, ttl time.Duration) *Oracle {
	return &Oracle{
		providers: providers,
		cache:     rateCache,
		ttl:       ttl,
	}
}

// BaseRate 返回指定源的市场汇率，命中缓存则不访问外部源
func (o *Oracle) BaseRate(ctx context.Context, source domain.Source) (decimal.Decimal, error) {
	provider, ok := o.providers[source]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrUnknownSource, source)
	}

	key := "rates:usdt_rub:" + string(source)
	if o.cache != nil {
		var cached cachedRate
		err := o.cache.GetJSON(ctx, key, &cached)
		if err == nil && cached.Rate.IsPositive() {
			return cached.Rate, nil
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			logging.Warn(ctx, "Failed to read rate cache, falling through to source",
				"source", source, "error", err)
		}
	}

	rate, err := provider.Rate(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	if o.cache != nil {
		if err := o.cache.SetJSON(ctx, key, cachedRate{Rate: rate}, o.ttl); err != nil {
			logging.Warn(ctx, "Failed to write rate cache", "source", source, "error", err)
		}
	}
	return rate, nil
}

// RateWithMarkup 返回按 KKK 百分比调整后的汇率。
// markdown 压低汇率，支付入金按更低汇率换算会冻结更多 USDT。
func (o *Oracle) RateWithMarkup(ctx context.Context, source domain.Source, kkkPercent decimal.Decimal, op domain.MarkupOperation) (decimal.Decimal, error) {
	base, err := o.BaseRate(ctx, source)
	if err != nil {
		return decimal.Zero, err
	}
	if kkkPercent.IsZero() {
		return base, nil
	}

	factor := kkkPercent.Div(decimal.NewFromInt(100))
	switch op {
	case domain.MarkupUp:
		return base.Mul(decimal.NewFromInt(1).Add(factor)), nil
	case domain.MarkupDown:
		return base.Mul(decimal.NewFromInt(1).Sub(factor)), nil
	default:
		return decimal.Zero, fmt.Errorf("unknown markup operation: %s", op)
	}
}
