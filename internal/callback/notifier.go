// Package callback 将交易终态以 HTTP 回调通知商户。
// 回调是尽力而为的：失败只记录日志与指标，绝不回滚已落库的状态流转。
package callback

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/logging"

	merchantdomain "github.com/wyfcoding/paymentplatform/internal/merchant/domain"
	"github.com/wyfcoding/paymentplatform/pkg/metrics"
)

// Event 回调载荷，字段随交易状态机推进时填充
type Event struct {
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	MerchantID    string          `json:"merchant_id"`
	Status        string          `json:"status"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Rate          decimal.Decimal `json:"rate"`
	CreditedUsdt  decimal.Decimal `json:"credited_usdt"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Notifier 商户回调通知接口
type Notifier interface {
	// NotifyByStatus 按交易状态选择商户回调地址并投递事件
	NotifyByStatus(ctx context.Context, merchant *merchantdomain.Merchant, event Event)
}

// HTTPNotifier 基于 HTTP POST 的回调实现
type HTTPNotifier struct {
	client  *resty.Client
	metrics *metrics.Metrics
}

// NewHTTPNotifier 创建回调通知器
func NewHTTPNotifier(timeout time.Duration, m *metrics.Metrics) *HTTPNotifier {
	return &HTTPNotifier{
		client: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		metrics: m,
	}
}

// NotifyByStatus 成功终态走 success_uri，失败终态走 fail_uri，其余走 callback_uri；
// 专用地址为空时回落到 callback_uri
func (n *HTTPNotifier) NotifyByStatus(ctx context.Context, merchant *merchantdomain.Merchant, event Event) {
	uri := n.resolveURI(merchant, event.Status)
	if uri == "" {
		logging.Warn(ctx, "Merchant has no callback URI configured, skipping notification",
			"merchant_id", merchant.MerchantID, "transaction_id", event.TransactionID)
		return
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(uri)
	if err != nil {
		n.recordFailure()
		logging.Error(ctx, "Failed to deliver merchant callback",
			"merchant_id", merchant.MerchantID,
			"transaction_id", event.TransactionID,
			"status", event.Status,
			"error", err)
		return
	}
	if resp.IsError() {
		n.recordFailure()
		logging.Error(ctx, "Merchant callback rejected",
			"merchant_id", merchant.MerchantID,
			"transaction_id", event.TransactionID,
			"status", event.Status,
			"http_status", resp.StatusCode())
		return
	}

	logging.Info(ctx, "Merchant callback delivered",
		"merchant_id", merchant.MerchantID,
		"transaction_id", event.TransactionID,
		"status", event.Status)
}

func (n *HTTPNotifier) resolveURI(merchant *merchantdomain.Merchant, status string) string {
	switch status {
	case "READY":
		if merchant.SuccessURI != "" {
			return merchant.SuccessURI
		}
	case "CANCELED", "EXPIRED", "MILK":
		if merchant.FailURI != "" {
			return merchant.FailURI
		}
	}
	return merchant.CallbackURI
}

func (n *HTTPNotifier) recordFailure() {
	if n.metrics != nil {
		n.metrics.CallbackFailuresTotal.Inc()
	}
}
