package storage

import (
	"errors"
	"time"

	"pulse/backend/internal/domain"
)

var (
	// ErrAPIKeyNotFound API密钥未找到错误
	ErrAPIKeyNotFound = errors.New("api key not found")
	// ErrRuleNotFound 告警规则未找到错误
	ErrRuleNotFound = errors.New("alert rule not found")
	// ErrInstanceNotFound 告警实例未找到错误
	ErrInstanceNotFound = errors.New("alert instance not found")
)

// APIKeyRepository 定义API密钥数据存取操作。
type APIKeyRepository interface {
	SaveAPIKey(key *domain.APIKey) error
	GetAPIKey(id string) (*domain.APIKey, error)
	GetAPIKeyByDigest(digest string) (*domain.APIKey, error) // 按 HMAC 摘要索引查找
	ListAPIKeys() ([]*domain.APIKey, error)
	UpdateAPIKey(key *domain.APIKey) error
	UpdateAPIKeyLastUsed(id string) error
}

// EventRepository 定义事件数据存取操作（追加写入）。
type EventRepository interface {
	SaveEvent(event *domain.Event) error
	SaveEvents(events []*domain.Event) error // 批量写入，单事务原子提交
	ListEventsByTimeRange(from, to time.Time, limit int) ([]domain.Event, error)
}

// MetricRepository 定义指标数据存取操作（追加写入）。
type MetricRepository interface {
	SaveMetric(metric *domain.Metric) error
	SaveMetrics(metrics []*domain.Metric) error
	ListMetricsByTimeRange(name string, from, to time.Time, limit int) ([]domain.Metric, error)
	AggregateMetrics(name string, from, to time.Time, fn domain.AggregateFunc) (*domain.AggregateResult, error)
}

// AlertRuleRepository 定义告警规则数据存取操作。
type AlertRuleRepository interface {
	SaveAlertRule(rule *domain.AlertRule) error
	GetAlertRule(id string) (*domain.AlertRule, error)
	ListAlertRules() ([]*domain.AlertRule, error)
	ListEnabledAlertRules() ([]*domain.AlertRule, error)
	DeleteAlertRule(id string) error
}

// AlertInstanceRepository 定义告警实例数据存取操作。
type AlertInstanceRepository interface {
	// CreateAlertInstanceIfNone 条件插入：仅当该规则没有 active 实例时
	// 创建，返回是否插入成功。检查与插入必须原子执行，这是防止
	// 并发评估重复触发的关键点。
	CreateAlertInstanceIfNone(instance *domain.AlertInstance) (bool, error)
	GetActiveAlertInstance(ruleID string) (*domain.AlertInstance, error)
	GetLatestAlertInstance(ruleID string) (*domain.AlertInstance, error)
	ResolveAlertInstance(instanceID string, resolvedAt time.Time) error
	ListAlertInstances(ruleID string, limit int) ([]domain.AlertInstance, error)
}

// Store 聚合所有存储操作的统一接口
type Store interface {
	APIKeyRepository
	EventRepository
	MetricRepository
	AlertRuleRepository
	AlertInstanceRepository

	Health() error
	Close() error
}
