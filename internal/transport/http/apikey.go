package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"pulse/backend/internal/auth"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/storage"
)

// APIKeyHandler API密钥管理处理器
type APIKeyHandler struct {
	auth *auth.Service
}

// NewAPIKeyHandler 创建API密钥处理器
func NewAPIKeyHandler(authService *auth.Service) *APIKeyHandler {
	return &APIKeyHandler{auth: authService}
}

type createAPIKeyRequest struct {
	Name        string              `json:"name"`
	Permissions []domain.Permission `json:"permissions"`
	RateLimit   int                 `json:"rateLimit"`
	ExpiresIn   string              `json:"expiresIn"` // 可选，time.ParseDuration 格式
}

type createAPIKeyResponse struct {
	Key    string         `json:"key"` // 明文密钥，仅此一次返回
	APIKey *domain.APIKey `json:"apiKey"`
}

// CreateAPIKey 签发新的API密钥
//
// 响应中的明文密钥不会二次下发，调用方必须立即保存
func (h *APIKeyHandler) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	input := auth.CreateAPIKeyInput{
		Name:        req.Name,
		Permissions: req.Permissions,
		RateLimit:   req.RateLimit,
	}
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		input.ExpiresIn = &d
	}

	apiKey, plaintext, err := h.auth.CreateAPIKey(input)
	if err != nil {
		BadRequest(c, GetErrorMessage(err))
		return
	}

	Created(c, createAPIKeyResponse{
		Key:    plaintext,
		APIKey: apiKey,
	})
}

type apiKeyListResponse struct {
	Items []*domain.APIKey `json:"items"`
	Count int              `json:"count"`
}

// ListAPIKeys 获取API密钥列表（不包含任何密钥材料）
func (h *APIKeyHandler) ListAPIKeys(c *gin.Context) {
	keys, err := h.auth.ListAPIKeys()
	if err != nil {
		InternalError(c, MsgQueryFailed)
		return
	}

	Success(c, apiKeyListResponse{Items: keys, Count: len(keys)})
}

// GetAPIKey 获取API密钥详情
func (h *APIKeyHandler) GetAPIKey(c *gin.Context) {
	apiKey, err := h.auth.GetAPIKey(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			NotFound(c, MsgKeyNotFound)
		} else {
			InternalError(c, MsgQueryFailed)
		}
		return
	}

	Success(c, apiKey)
}

type updateAPIKeyRequest struct {
	Name        *string             `json:"name"`
	Permissions []domain.Permission `json:"permissions"`
	RateLimit   *int                `json:"rateLimit"`
}

// UpdateAPIKey 更新API密钥属性
//
// 权限与限流变更会使验证缓存失效，对后续请求立即生效
func (h *APIKeyHandler) UpdateAPIKey(c *gin.Context) {
	var req updateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	apiKey, err := h.auth.UpdateAPIKey(c.Param("id"), auth.UpdateAPIKeyInput{
		Name:        req.Name,
		Permissions: req.Permissions,
		RateLimit:   req.RateLimit,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			NotFound(c, MsgKeyNotFound)
		} else {
			InternalError(c, MsgKeyUpdateFailed)
		}
		return
	}

	Success(c, apiKey)
}

// RevokeAPIKey 撤销API密钥
func (h *APIKeyHandler) RevokeAPIKey(c *gin.Context) {
	err := h.auth.RevokeAPIKey(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			NotFound(c, MsgKeyNotFound)
		} else {
			InternalError(c, MsgKeyRevokeFailed)
		}
		return
	}

	NoContent(c)
}
