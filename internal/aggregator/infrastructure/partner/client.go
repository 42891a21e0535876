// Package partner 实现各接入协议的聚合器适配器。
// 每个适配器持有自己的 resty 客户端与熔断器；派发超时按秒级而非分钟级设定，
// 超时等同拒单，由路由队列释放冻结并换下一家。
package partner

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/paymentplatform/internal/aggregator/domain"
)

const defaultDispatchTimeout = 10 * time.Second

func newClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return resty.New().SetTimeout(timeout)
}

func nowUnix() int64 {
	return time.Now().Unix()
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// normalizeErrorPayload 把合作方的错误载荷压成一行可读文本。
// 对象形式的载荷依次取 message、code，否则整体序列化，
// 避免 "[object Object]" 一类的原始对象文本泄漏给调用方。
func normalizeErrorPayload(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "empty error payload"
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return trimmed
	}
	if msg, ok := payload["message"].(string); ok && msg != "" {
		return msg
	}
	if code, ok := payload["code"].(string); ok && code != "" {
		return code
	}
	if code, ok := payload["code"].(float64); ok {
		return fmt.Sprintf("code %d", int64(code))
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		return trimmed
	}
	return string(serialized)
}

// isNoRequisite 合作方响应是否属于"无可用收款方式"
func isNoRequisite(message string) bool {
	return strings.Contains(strings.ToUpper(message), "NO_REQUISITE")
}

func classifyError(raw []byte) error {
	message := normalizeErrorPayload(raw)
	if isNoRequisite(message) {
		return fmt.Errorf("%w: %s", domain.ErrPartnerNoRequisite, message)
	}
	return fmt.Errorf("partner rejected deal: %s", message)
}
