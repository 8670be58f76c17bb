package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pulse/backend/internal/monitoring"
	"pulse/backend/internal/ratelimit"
)

// RateLimitMiddleware 限流中间件
type RateLimitMiddleware struct {
	limiter      ratelimit.Limiter
	defaultLimit int
	window       time.Duration
	metrics      *monitoring.Metrics
}

// NewRateLimitMiddleware 创建限流中间件
func NewRateLimitMiddleware(limiter ratelimit.Limiter, defaultLimit int, window time.Duration, metrics *monitoring.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:      limiter,
		defaultLimit: defaultLimit,
		window:       window,
		metrics:      metrics,
	}
}

// Limit 按调用方限流
//
// 已认证请求以密钥ID为主体并尊重密钥上的配额覆盖，
// 未认证请求按客户端IP限流
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := "ip:" + c.ClientIP()
		principalType := "ip"
		limit := m.defaultLimit

		if apiKey, ok := KeyFromContext(c); ok {
			principal = "key:" + apiKey.ID
			principalType = "key"
			if apiKey.RateLimit > 0 {
				limit = apiKey.RateLimit
			}
		}

		result, err := m.limiter.Check(c.Request.Context(), principal, limit, m.window)
		if err != nil {
			// FailPolicy 已兜底，到这里只能放行
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			m.metrics.RecordRateLimitBlock(principalType)
			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
