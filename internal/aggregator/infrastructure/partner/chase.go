package partner

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/paymentplatform/internal/aggregator/domain"
)

// ChaseAdapter Chase 及 Chase 兼容协议适配器。
// 两个变体共用同一报文结构，仅接入路径不同。
type ChaseAdapter struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	// Chase 兼容变体走 /compat 前缀
	compatible bool
}

// NewChaseAdapter 创建 Chase 协议适配器
func NewChaseAdapter(compatible bool, timeout time.Duration) *ChaseAdapter {
	name := "aggregator-chase"
	if compatible {
		name = "aggregator-chase-compatible"
	}
	return &ChaseAdapter{
		client:     newClient(timeout),
		breaker:    newBreaker(name),
		compatible: compatible,
	}
}

type chaseOrderRequest struct {
	MerchantOrderID string `json:"merchantOrderId"`
	AmountRub       string `json:"amountRub"`
	ExchangeRate    string `json:"exchangeRate"`
	PaymentMethod   string `json:"paymentMethod"`
	WebhookURL      string `json:"webhookUrl"`
	ExpiresAt       string `json:"expiresAt"`
}

type chaseOrderResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId"`
}

// CreateDeal 派发交易
func (a *ChaseAdapter) CreateDeal(ctx context.Context, agg *domain.Aggregator, req domain.DealRequest) (*domain.DealResult, error) {
	path := "/api/v1/orders"
	if a.compatible {
		path = "/compat/api/v1/orders"
	}

	body := chaseOrderRequest{
		MerchantOrderID: req.OrderID,
		AmountRub:       req.Amount.String(),
		ExchangeRate:    req.Rate.String(),
		PaymentMethod:   req.MethodType,
		WebhookURL:      req.CallbackURL,
		ExpiresAt:       req.ExpiredAt.UTC().Format("2006-01-02T15:04:05Z"),
	}

	raw, err := a.breaker.Execute(func() (any, error) {
		var result chaseOrderResponse
		resp, err := a.client.R().
			SetContext(ctx).
			SetHeader("X-Api-Key", agg.APIKey).
			SetBody(body).
			SetResult(&result).
			Post(agg.BaseURL + path)
		if err != nil {
			return nil, fmt.Errorf("failed to reach partner: %w", err)
		}
		if resp.IsError() || result.Status != "accepted" {
			return nil, classifyError(resp.Body())
		}
		return &domain.DealResult{
			PartnerOrderID: result.OrderID,
			RawResponse:    string(resp.Body()),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return raw.(*domain.DealResult), nil
}
