package httptransport

import (
	"pulse/backend/internal/alert"
	"pulse/backend/internal/auth"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 事件校验错误
	domain.ErrEventTypeRequired:  "事件类型不能为空",
	domain.ErrEventSourceMissing: "事件来源不能为空",
	domain.ErrEventLevelInvalid:  "事件级别无效",
	domain.ErrMessageTooLong:     "事件消息超出长度限制",

	// 指标校验错误
	domain.ErrMetricNameRequired:  "指标名称不能为空",
	domain.ErrMetricNameInvalid:   "指标名称格式无效",
	domain.ErrMetricSourceMissing: "指标来源不能为空",

	// 批量写入错误
	domain.ErrBatchEmpty:    "批量请求不能为空",
	domain.ErrBatchTooLarge: "批量请求超出条数上限",

	// 告警规则错误
	domain.ErrRuleNameRequired:     "规则名称不能为空",
	domain.ErrRuleOperatorInvalid:  "比较运算符无效",
	domain.ErrRuleAggregateInvalid: "聚合函数无效",
	domain.ErrRuleWindowInvalid:    "聚合窗口长度无效",
	domain.ErrRuleCooldownInvalid:  "冷却时间不能为负数",
	domain.ErrRuleActionInvalid:    "告警动作配置无效",
	domain.ErrRuleSeverityInvalid:  "告警级别无效",
	alert.ErrRuleNotFound:          "告警规则不存在",
	alert.ErrInstanceNotFound:      "告警实例不存在",
	storage.ErrRuleNotFound:        "告警规则不存在",
	storage.ErrInstanceNotFound:    "告警实例不存在",

	// API密钥错误
	auth.ErrKeyMalformed:       "API密钥格式无效",
	auth.ErrKeyNotFound:        "API密钥不存在",
	auth.ErrKeyRevoked:         "API密钥已被撤销",
	auth.ErrKeyExpired:         "API密钥已过期",
	storage.ErrAPIKeyNotFound:  "API密钥不存在",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidTimeRange = "时间范围格式无效"
	MsgInvalidLimit     = "limit 参数无效"
	MsgInvalidAggregate = "聚合函数无效"

	MsgEventIngestFailed  = "事件写入失败"
	MsgMetricIngestFailed = "指标写入失败"
	MsgQueryFailed        = "查询失败"

	MsgRuleCreateFailed = "创建告警规则失败"
	MsgRuleUpdateFailed = "更新告警规则失败"
	MsgRuleDeleteFailed = "删除告警规则失败"
	MsgRuleNotFound     = "告警规则不存在"

	MsgInstanceNotFound      = "告警实例不存在"
	MsgInstanceResolveFailed = "解除告警实例失败"

	MsgKeyCreateFailed = "创建API密钥失败"
	MsgKeyNotFound     = "API密钥不存在"
	MsgKeyUpdateFailed = "更新API密钥失败"
	MsgKeyRevokeFailed = "撤销API密钥失败"

	MsgStreamTokenFailed = "签发接入令牌失败"
)
