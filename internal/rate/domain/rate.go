// Package domain 定义汇率预言机的领域模型
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnknownSource 未知汇率源
var ErrUnknownSource = errors.New("unknown rate source")

// ErrRateUnavailable 汇率源不可用或返回无效数据
var ErrRateUnavailable = errors.New("rate unavailable")

// Source 汇率源标识
type Source string

const (
	SourceRapira Source = "rapira"
	SourceBybit  Source = "bybit"
)

// MarkupOperation KKK 调整方向
type MarkupOperation string

const (
	// MarkupUp 加价：提高换算汇率
	MarkupUp MarkupOperation = "markup"
	// MarkupDown 减价：降低换算汇率，交易员按更低汇率换算需冻结更多 USDT
	MarkupDown MarkupOperation = "markdown"
)

// Provider 单一汇率源客户端
type Provider interface {
	// Rate 返回当前 USDT/RUB 成交价
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// Oracle 汇率预言机：基础汇率与 KKK 调整后汇率
type Oracle interface {
	// BaseRate 返回指定源的市场汇率
	BaseRate(ctx context.Context, source Source) (decimal.Decimal, error)
	// RateWithMarkup 返回按 KKK 百分比调整后的汇率
	RateWithMarkup(ctx context.Context, source Source, kkkPercent decimal.Decimal, op MarkupOperation) (decimal.Decimal, error)
}
