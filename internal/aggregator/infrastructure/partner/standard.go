package partner

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/paymentplatform/internal/aggregator/domain"
)

// StandardAdapter 通用 REST 协议适配器
type StandardAdapter struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
}

// NewStandardAdapter 创建通用 REST 适配器
func NewStandardAdapter(timeout time.Duration) *StandardAdapter {
	return &StandardAdapter{
		client:  newClient(timeout),
		breaker: newBreaker("aggregator-standard"),
	}
}

type standardDealRequest struct {
	OrderID     string `json:"order_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Rate        string `json:"rate"`
	MethodType  string `json:"method_type"`
	CallbackURL string `json:"callback_url"`
	ExpiresAt   int64  `json:"expires_at"`
}

type standardDealResponse struct {
	Success bool   `json:"success"`
	DealID  string `json:"deal_id"`
}

// CreateDeal 派发交易
func (a *StandardAdapter) CreateDeal(ctx context.Context, agg *domain.Aggregator, req domain.DealRequest) (*domain.DealResult, error) {
	body := standardDealRequest{
		OrderID:     req.OrderID,
		Amount:      req.Amount.String(),
		Currency:    "RUB",
		Rate:        req.Rate.String(),
		MethodType:  req.MethodType,
		CallbackURL: req.CallbackURL,
		ExpiresAt:   req.ExpiredAt.Unix(),
	}

	raw, err := a.breaker.Execute(func() (any, error) {
		var result standardDealResponse
		resp, err := a.client.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+agg.APIKey).
			SetBody(body).
			SetResult(&result).
			Post(agg.BaseURL + "/deals")
		if err != nil {
			return nil, fmt.Errorf("failed to reach partner: %w", err)
		}
		if resp.IsError() || !result.Success {
			return nil, classifyError(resp.Body())
		}
		return &domain.DealResult{
			PartnerOrderID: result.DealID,
			RawResponse:    string(resp.Body()),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return raw.(*domain.DealResult), nil
}
