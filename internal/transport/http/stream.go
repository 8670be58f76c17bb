package httptransport

import (
	"github.com/gin-gonic/gin"

	"pulse/backend/internal/auth"
	"pulse/backend/internal/middleware"
)

// StreamHandler 实时流接入处理器
type StreamHandler struct {
	tokens *auth.TokenManager
}

// NewStreamHandler 创建实时流处理器
func NewStreamHandler(tokens *auth.TokenManager) *StreamHandler {
	return &StreamHandler{tokens: tokens}
}

// CreateStreamToken 用API密钥换取短时接入令牌
//
// 浏览器 WebSocket 无法携带自定义请求头，先在此端点换取
// 令牌，再以查询参数建立连接，避免明文密钥出现在URL里
func (h *StreamHandler) CreateStreamToken(c *gin.Context) {
	apiKey, ok := middleware.KeyFromContext(c)
	if !ok {
		Unauthorized(c, "missing API key")
		return
	}

	token, err := h.tokens.IssueStreamToken(apiKey)
	if err != nil {
		InternalError(c, MsgStreamTokenFailed)
		return
	}

	Success(c, token)
}
