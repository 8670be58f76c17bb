package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pulse/backend/internal/auth"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/monitoring"
)

// 上下文键
const (
	ContextAPIKey = "apiKey"
	ContextKeyID  = "keyID"
)

// APIKeyAuth API密钥认证中间件
type APIKeyAuth struct {
	authService *auth.Service
	metrics     *monitoring.Metrics
}

// NewAPIKeyAuth 创建API密钥认证中间件
func NewAPIKeyAuth(authService *auth.Service, metrics *monitoring.Metrics) *APIKeyAuth {
	return &APIKeyAuth{
		authService: authService,
		metrics:     metrics,
	}
}

// RequireAPIKey 要求API密钥认证并检查权限
//
// 密钥无法定位（格式错误、不存在）返回401；密钥存在但
// 不可用（撤销、过期）或权限不足返回403
func (m *APIKeyAuth) RequireAPIKey(required domain.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := c.GetHeader("X-API-Key")
		if rawKey == "" {
			m.metrics.RecordAuthAttempt("missing")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			c.Abort()
			return
		}

		apiKey, err := m.authService.Authenticate(rawKey)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrKeyRevoked):
				m.metrics.RecordAuthAttempt("revoked")
				c.JSON(http.StatusForbidden, gin.H{
					"error": "API key has been revoked",
				})
			case errors.Is(err, auth.ErrKeyExpired):
				m.metrics.RecordAuthAttempt("expired")
				c.JSON(http.StatusForbidden, gin.H{
					"error": "API key has expired",
				})
			case errors.Is(err, auth.ErrKeyMalformed), errors.Is(err, auth.ErrKeyNotFound):
				m.metrics.RecordAuthAttempt("invalid")
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "invalid API key",
				})
			default:
				// 存储故障时认证不放行
				m.metrics.RecordAuthAttempt("unavailable")
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"error": "authentication temporarily unavailable",
				})
			}
			c.Abort()
			return
		}

		if !apiKey.HasPermission(required) {
			m.metrics.RecordAuthAttempt("forbidden")
			c.JSON(http.StatusForbidden, gin.H{
				"error": "insufficient permissions",
			})
			c.Abort()
			return
		}

		m.metrics.RecordAuthAttempt("success")

		c.Set(ContextAPIKey, apiKey)
		c.Set(ContextKeyID, apiKey.ID)

		c.Next()
	}
}

// KeyFromContext 从请求上下文取出已认证的密钥
func KeyFromContext(c *gin.Context) (*domain.APIKey, bool) {
	value, exists := c.Get(ContextAPIKey)
	if !exists {
		return nil, false
	}
	apiKey, ok := value.(*domain.APIKey)
	return apiKey, ok
}
