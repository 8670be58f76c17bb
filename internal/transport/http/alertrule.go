package httptransport

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"pulse/backend/internal/alert"
	"pulse/backend/internal/domain"
)

// AlertRuleHandler 告警规则管理处理器
type AlertRuleHandler struct {
	alerts *alert.Service
}

// NewAlertRuleHandler 创建告警规则处理器
func NewAlertRuleHandler(alertService *alert.Service) *AlertRuleHandler {
	return &AlertRuleHandler{alerts: alertService}
}

// parseLimit 解析 limit 查询参数
func parseLimit(c *gin.Context, defaultLimit int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

// CreateRule 创建告警规则
func (h *AlertRuleHandler) CreateRule(c *gin.Context) {
	var rule domain.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	created, err := h.alerts.CreateRule(&rule)
	if err != nil {
		BadRequest(c, GetErrorMessage(err))
		return
	}

	Created(c, created)
}

type ruleListResponse struct {
	Items []*domain.AlertRule `json:"items"`
	Count int                 `json:"count"`
}

// ListRules 获取告警规则列表
func (h *AlertRuleHandler) ListRules(c *gin.Context) {
	rules, err := h.alerts.ListRules()
	if err != nil {
		InternalError(c, MsgQueryFailed)
		return
	}

	Success(c, ruleListResponse{Items: rules, Count: len(rules)})
}

// GetRule 获取告警规则详情
func (h *AlertRuleHandler) GetRule(c *gin.Context) {
	rule, err := h.alerts.GetRule(c.Param("id"))
	if err != nil {
		if errors.Is(err, alert.ErrRuleNotFound) {
			NotFound(c, MsgRuleNotFound)
		} else {
			InternalError(c, MsgQueryFailed)
		}
		return
	}

	Success(c, rule)
}

// UpdateRule 更新告警规则
func (h *AlertRuleHandler) UpdateRule(c *gin.Context) {
	var update domain.AlertRule
	if err := c.ShouldBindJSON(&update); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	updated, err := h.alerts.UpdateRule(c.Param("id"), &update)
	if err != nil {
		switch {
		case errors.Is(err, alert.ErrRuleNotFound):
			NotFound(c, MsgRuleNotFound)
		default:
			BadRequest(c, GetErrorMessage(err))
		}
		return
	}

	Success(c, updated)
}

// DeleteRule 删除告警规则
func (h *AlertRuleHandler) DeleteRule(c *gin.Context) {
	err := h.alerts.DeleteRule(c.Param("id"))
	if err != nil {
		if errors.Is(err, alert.ErrRuleNotFound) {
			NotFound(c, MsgRuleNotFound)
		} else {
			InternalError(c, MsgRuleDeleteFailed)
		}
		return
	}

	NoContent(c)
}

type instanceListResponse struct {
	Items []domain.AlertInstance `json:"items"`
	Count int                    `json:"count"`
}

// ListInstances 获取告警实例历史
//
// 可按 ruleId 过滤，不带参数时返回全部规则的实例
func (h *AlertRuleHandler) ListInstances(c *gin.Context) {
	limit, err := parseLimit(c, 100)
	if err != nil {
		BadRequest(c, MsgInvalidLimit)
		return
	}

	instances, err := h.alerts.ListInstances(c.Query("ruleId"), limit)
	if err != nil {
		if errors.Is(err, alert.ErrRuleNotFound) {
			NotFound(c, MsgRuleNotFound)
		} else {
			InternalError(c, MsgQueryFailed)
		}
		return
	}

	Success(c, instanceListResponse{Items: instances, Count: len(instances)})
}

// ResolveInstance 人工解除告警实例
func (h *AlertRuleHandler) ResolveInstance(c *gin.Context) {
	if err := h.alerts.ResolveInstance(c.Param("id")); err != nil {
		if errors.Is(err, alert.ErrInstanceNotFound) {
			NotFound(c, MsgInstanceNotFound)
		} else {
			InternalError(c, MsgInstanceResolveFailed)
		}
		return
	}

	Success(c, nil)
}
