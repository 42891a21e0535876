// Package source 实现对外部汇率源的 HTTP 客户端
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/paymentplatform/internal/rate/domain"
)

const rapiraSymbol = "USDT/RUB"

// RapiraClient Rapira 汇率源客户端
type RapiraClient struct {
	client *resty.Client
}

// NewRapiraClient 创建 Rapira 客户端
func NewRapiraClient(baseURL string) *RapiraClient {
	return &RapiraClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5 * time.Second).
			SetRetryCount(2),
	}
}

type rapiraResponse struct {
	Data []struct {
		Symbol string          `json:"symbol"`
		Close  decimal.Decimal `json:"close"`
	} `json:"data"`
}

// Rate 返回 Rapira 的 USDT/RUB 成交价
func (c *RapiraClient) Rate(ctx context.Context) (decimal.Decimal, error) {
	var body rapiraResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/open/market/rates")
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch rapira rate: %w", err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("%w: rapira returned %s", domain.ErrRateUnavailable, resp.Status())
	}

	for _, item := range body.Data {
		if item.Symbol == rapiraSymbol {
			if !item.Close.IsPositive() {
				return decimal.Zero, fmt.Errorf("%w: rapira returned non-positive close", domain.ErrRateUnavailable)
			}
			return item.Close, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: symbol %s missing from rapira payload", domain.ErrRateUnavailable, rapiraSymbol)
}
