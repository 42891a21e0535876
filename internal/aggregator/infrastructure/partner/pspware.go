package partner

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/paymentplatform/internal/aggregator/domain"
)

// PSPWareAdapter PSPWare 协议适配器
type PSPWareAdapter struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
}

// NewPSPWareAdapter 创建 PSPWare 协议适配器
func NewPSPWareAdapter(timeout time.Duration) *PSPWareAdapter {
	return &PSPWareAdapter{
		client:  newClient(timeout),
		breaker: newBreaker("aggregator-pspware"),
	}
}

type pspwarePaymentRequest struct {
	ExternalID string `json:"external_id"`
	Sum        string `json:"sum"`
	Course     string `json:"course"`
	Method     string `json:"method"`
	NotifyURL  string `json:"notify_url"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type pspwarePaymentResponse struct {
	State     string `json:"state"`
	PaymentID string `json:"payment_id"`
}

// CreateDeal 派发交易
func (a *PSPWareAdapter) CreateDeal(ctx context.Context, agg *domain.Aggregator, req domain.DealRequest) (*domain.DealResult, error) {
	ttl := req.ExpiredAt.Unix() - nowUnix()
	if ttl < 0 {
		ttl = 0
	}

	body := pspwarePaymentRequest{
		ExternalID: req.OrderID,
		Sum:        req.Amount.String(),
		Course:     req.Rate.String(),
		Method:     req.MethodType,
		NotifyURL:  req.CallbackURL,
		TTLSeconds: ttl,
	}

	raw, err := a.breaker.Execute(func() (any, error) {
		var result pspwarePaymentResponse
		resp, err := a.client.R().
			SetContext(ctx).
			SetHeader("Api-Token", agg.APIKey).
			SetBody(body).
			SetResult(&result).
			Post(agg.BaseURL + "/merchant/payments")
		if err != nil {
			return nil, fmt.Errorf("failed to reach partner: %w", err)
		}
		if resp.IsError() || result.State != "created" {
			return nil, classifyError(resp.Body())
		}
		return &domain.DealResult{
			PartnerOrderID: result.PaymentID,
			RawResponse:    string(resp.Body()),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return raw.(*domain.DealResult), nil
}
