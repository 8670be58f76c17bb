package domain

import "time"

// ComparisonOperator 告警条件比较运算符
type ComparisonOperator string

const (
	OperatorGT  ComparisonOperator = "gt"
	OperatorGTE ComparisonOperator = "gte"
	OperatorLT  ComparisonOperator = "lt"
	OperatorLTE ComparisonOperator = "lte"
	OperatorEQ  ComparisonOperator = "eq"
	OperatorNEQ ComparisonOperator = "neq"
)

// Compare 按运算符比较聚合值与阈值
func (op ComparisonOperator) Compare(value, threshold float64) bool {
	switch op {
	case OperatorGT:
		return value > threshold
	case OperatorGTE:
		return value >= threshold
	case OperatorLT:
		return value < threshold
	case OperatorLTE:
		return value <= threshold
	case OperatorEQ:
		return value == threshold
	case OperatorNEQ:
		return value != threshold
	default:
		return false
	}
}

// AlertSeverity 告警严重级别
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertCondition 告警触发条件
type AlertCondition struct {
	Metric      string             `json:"metric"`      // 指标名称
	Operator    ComparisonOperator `json:"operator"`    // 比较运算符
	Threshold   float64            `json:"threshold"`   // 阈值
	TimeWindow  int                `json:"timeWindow"`  // 聚合窗口长度（秒）
	Aggregate   AggregateFunc      `json:"aggregate"`   // 聚合函数，默认 avg
	Occurrences int                `json:"occurrences"` // 窗口内最少样本数，不足则视为条件不成立
}

// AlertActionType 告警动作类型
type AlertActionType string

const (
	ActionTypeWebhook AlertActionType = "webhook"
	ActionTypeEmail   AlertActionType = "email"
	ActionTypeLog     AlertActionType = "log"
)

// AlertAction 告警触发后执行的动作配置
type AlertAction struct {
	Type     AlertActionType `json:"type"`
	Endpoint string          `json:"endpoint"`           // webhook URL 或邮件地址
	Template string          `json:"template,omitempty"` // 可选消息模板
}

// AlertRule 告警规则配置
type AlertRule struct {
	ID          string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name        string         `json:"name" gorm:"type:varchar(100);not null"`
	Description string         `json:"description,omitempty" gorm:"type:varchar(500)"`
	Enabled     bool           `json:"enabled" gorm:"index"`
	Conditions  AlertCondition `json:"conditions" gorm:"serializer:json;type:json"`
	Actions     []AlertAction  `json:"actions" gorm:"serializer:json;type:json"`
	Cooldown    int            `json:"cooldown"` // 冷却时间（秒）
	Severity    AlertSeverity  `json:"severity" gorm:"type:varchar(10)"`
	Tags        []string       `json:"tags,omitempty" gorm:"serializer:json;type:json"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// TableName GORM表名
func (AlertRule) TableName() string {
	return "alert_rules"
}

// AlertStatus 告警实例状态
type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"
	AlertStatusResolved AlertStatus = "resolved"
)

// AlertInstance 告警实例
//
// 同一规则任意时刻最多存在一个 active 实例，由存储层的
// 条件插入保证（见 Store.CreateAlertInstanceIfNone）。
type AlertInstance struct {
	ID           string                 `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RuleID       string                 `json:"ruleId" gorm:"type:varchar(36);index;not null"`
	RuleName     string                 `json:"ruleName" gorm:"type:varchar(100)"`
	Status       AlertStatus            `json:"status" gorm:"type:varchar(10);index;not null"`
	Severity     AlertSeverity          `json:"severity" gorm:"type:varchar(10)"`
	TriggerValue float64                `json:"triggerValue"`
	Message      string                 `json:"message" gorm:"type:text"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" gorm:"serializer:json;type:json"`
	TriggeredAt  time.Time              `json:"triggeredAt" gorm:"index;not null"`
	ResolvedAt   *time.Time             `json:"resolvedAt,omitempty"`
}

// TableName GORM表名
func (AlertInstance) TableName() string {
	return "alert_instances"
}
