package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrEventTypeRequired  = errors.New("event type is required")
	ErrEventSourceMissing = errors.New("event source is required")
	ErrEventLevelInvalid  = errors.New("invalid event level")
	ErrMessageTooLong     = errors.New("message too long (max 10000 chars)")

	ErrMetricNameRequired = errors.New("metric name is required")
	ErrMetricNameInvalid  = errors.New("invalid metric name format")
	ErrMetricSourceMissing = errors.New("metric source is required")

	ErrRuleNameRequired     = errors.New("rule name is required")
	ErrRuleOperatorInvalid  = errors.New("invalid comparison operator")
	ErrRuleAggregateInvalid = errors.New("invalid aggregate function")
	ErrRuleWindowInvalid    = errors.New("time window must be between 10s and 24h")
	ErrRuleCooldownInvalid  = errors.New("cooldown must not be negative")
	ErrRuleActionInvalid    = errors.New("invalid action configuration")
	ErrRuleSeverityInvalid  = errors.New("invalid severity")

	ErrBatchEmpty    = errors.New("batch must not be empty")
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)

// 验证常量
const (
	MaxMessageLength = 10000 // 事件消息最大长度
	MaxBatchSize     = 1000  // 批量写入单次上限
	MinTimeWindowSec = 10    // 聚合窗口下限（秒）
	MaxTimeWindowSec = 86400 // 聚合窗口上限（秒）
)

// 指标名称：字母开头，允许字母数字和 . _ -（如 cpu.usage、http_latency）
var metricNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]{0,99}$`)

// Validate 验证事件载荷
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return ErrEventTypeRequired
	}
	if strings.TrimSpace(e.Source) == "" {
		return ErrEventSourceMissing
	}
	if e.Level != "" {
		switch e.Level {
		case EventLevelDebug, EventLevelInfo, EventLevelWarn, EventLevelError, EventLevelFatal:
		default:
			return ErrEventLevelInvalid
		}
	}
	if len(e.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// Validate 验证指标载荷
func (m *Metric) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return ErrMetricNameRequired
	}
	if !metricNameRegex.MatchString(m.Name) {
		return ErrMetricNameInvalid
	}
	if strings.TrimSpace(m.Source) == "" {
		return ErrMetricSourceMissing
	}
	return nil
}

// Validate 验证告警规则配置
func (r *AlertRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrRuleNameRequired
	}
	if !metricNameRegex.MatchString(r.Conditions.Metric) {
		return ErrMetricNameInvalid
	}
	switch r.Conditions.Operator {
	case OperatorGT, OperatorGTE, OperatorLT, OperatorLTE, OperatorEQ, OperatorNEQ:
	default:
		return ErrRuleOperatorInvalid
	}
	switch r.Conditions.Aggregate {
	case "", AggregateAvg, AggregateMin, AggregateMax, AggregateSum, AggregateCount:
	default:
		return ErrRuleAggregateInvalid
	}
	if r.Conditions.TimeWindow < MinTimeWindowSec || r.Conditions.TimeWindow > MaxTimeWindowSec {
		return ErrRuleWindowInvalid
	}
	if r.Cooldown < 0 {
		return ErrRuleCooldownInvalid
	}
	switch r.Severity {
	case "", SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return ErrRuleSeverityInvalid
	}
	for _, action := range r.Actions {
		switch action.Type {
		case ActionTypeWebhook, ActionTypeEmail:
			if strings.TrimSpace(action.Endpoint) == "" {
				return fmt.Errorf("%w: %s action requires endpoint", ErrRuleActionInvalid, action.Type)
			}
		case ActionTypeLog:
		default:
			return fmt.Errorf("%w: unknown action type %q", ErrRuleActionInvalid, action.Type)
		}
	}
	return nil
}

// ValidateBatchSize 验证批量写入大小
func ValidateBatchSize(n int) error {
	if n == 0 {
		return ErrBatchEmpty
	}
	if n > MaxBatchSize {
		return ErrBatchTooLarge
	}
	return nil
}
