package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/paymentplatform/pkg/config"
	"github.com/wyfcoding/paymentplatform/pkg/ratelimit"
)

// RateLimitMiddleware 基于 Redis 的 API 限流中间件。
// 商户请求按 X-Api-Key 维度限流, 其余请求按客户端 IP 限流。
func RateLimitMiddleware(limiter ratelimit.Limiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		key := c.GetHeader("X-Api-Key")
		if key == "" {
			key = c.ClientIP()
		}
		limit := ratelimit.PerSecond(cfg.QPS, cfg.Burst)

		res, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			// 限流器故障时放行, 不阻塞支付链路
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetAfter/time.Second), 10))

		if !res.Allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(res.RetryAfter/time.Second), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too Many Requests",
				"retry_after": res.RetryAfter.String(),
			})
			return
		}

		c.Next()
	}
}
