package source

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/paymentplatform/internal/rate/domain"
)

const bybitSymbol = "USDTRUB"

// BybitClient Bybit 现货行情客户端
type BybitClient struct {
	client *resty.Client
}

// NewBybitClient 创建 Bybit 客户端
func NewBybitClient(baseURL string) *BybitClient {
	return &BybitClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5 * time.Second).
			SetRetryCount(2),
	}
}

type bybitResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string          `json:"symbol"`
			LastPrice decimal.Decimal `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

// Rate 返回 Bybit 现货的 USDT/RUB 最新价
func (c *BybitClient) Rate(ctx context.Context) (decimal.Decimal, error) {
	var body bybitResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"category": "spot",
			"symbol":   bybitSymbol,
		}).
		SetResult(&body).
		Get("/v5/market/tickers")
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch bybit rate: %w", err)
	}
	if resp.IsError() || body.RetCode != 0 {
		return decimal.Zero, fmt.Errorf("%w: bybit returned code %d (%s)", domain.ErrRateUnavailable, body.RetCode, body.RetMsg)
	}

	for _, ticker := range body.Result.List {
		if ticker.Symbol == bybitSymbol {
			if !ticker.LastPrice.IsPositive() {
				return decimal.Zero, fmt.Errorf("%w: bybit returned non-positive price", domain.ErrRateUnavailable)
			}
			return ticker.LastPrice, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: symbol %s missing from bybit payload", domain.ErrRateUnavailable, bybitSymbol)
}
