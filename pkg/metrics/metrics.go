// Package metrics 提供 Prometheus 指标，覆盖路由、冻结与回调链路
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	// 按最终状态统计的交易数
	TransactionsTotal *prometheus.CounterVec
	// 冻结失败次数（余额不足）
	FreezeFailuresTotal prometheus.Counter
	// 聚合器路由尝试次数
	RoutingAttemptsTotal prometheus.Counter
	// 聚合器路由耗尽次数
	RoutingExhaustedTotal prometheus.Counter
	// 回调发送失败次数
	CallbackFailuresTotal prometheus.Counter
	// 聚合器请求耗时
	DispatchDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New 创建并注册指标集合
func New(namespace string) *Metrics {
	m := &Metrics{
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions by final status",
		}, []string{"status"}),
		FreezeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "freeze_failures_total",
			Help:      "Freeze attempts rejected for insufficient trust balance",
		}),
		RoutingAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_attempts_total",
			Help:      "Aggregator dispatch attempts",
		}),
		RoutingExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_exhausted_total",
			Help:      "Routing attempts that exhausted all aggregators",
		}),
		CallbackFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_failures_total",
			Help:      "Merchant callback deliveries that failed",
		}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Partner aggregator dispatch latency",
			Buckets:   prometheus.DefBuckets,
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.TransactionsTotal,
		m.FreezeFailuresTotal,
		m.RoutingAttemptsTotal,
		m.RoutingExhaustedTotal,
		m.CallbackFailuresTotal,
		m.DispatchDuration,
	)

	return m
}

// Handler 返回 /metrics HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
