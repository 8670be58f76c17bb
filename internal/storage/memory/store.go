package memory

import (
	"sort"
	"sync"
	"time"

	"pulse/backend/internal/domain"
	"pulse/backend/internal/storage"
)

// Store 使用内存保存遥测数据与告警状态，主要用于开发验证与测试。
type Store struct {
	mu sync.RWMutex

	apiKeys  map[string]*domain.APIKey // keyID -> key
	byDigest map[string]string         // digest -> keyID

	events  []domain.Event
	metrics []domain.Metric

	rules     map[string]*domain.AlertRule
	instances map[string]*domain.AlertInstance // instanceID -> instance

	maxRecords int // events/metrics 各自保留的最大条数，0 表示不限制
}

// NewStore 创建一个内存存储实例。
//
// maxRecords 限制事件与指标各自保留的条数，超出后丢弃最旧记录，
// 避免长时间运行的开发实例无限增长
func NewStore(maxRecords int) *Store {
	return &Store{
		apiKeys:    make(map[string]*domain.APIKey),
		byDigest:   make(map[string]string),
		rules:      make(map[string]*domain.AlertRule),
		instances:  make(map[string]*domain.AlertInstance),
		maxRecords: maxRecords,
	}
}

// ========== API密钥 ==========

// SaveAPIKey 保存API密钥
func (s *Store) SaveAPIKey(key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *key
	s.apiKeys[key.ID] = &cp
	s.byDigest[key.KeyDigest] = key.ID
	return nil
}

// GetAPIKey 根据ID获取API密钥
func (s *Store) GetAPIKey(id string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return nil, storage.ErrAPIKeyNotFound
	}
	cp := *key
	return &cp, nil
}

// GetAPIKeyByDigest 根据HMAC摘要获取API密钥
func (s *Store) GetAPIKeyByDigest(digest string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return nil, storage.ErrAPIKeyNotFound
	}
	cp := *s.apiKeys[id]
	return &cp, nil
}

// ListAPIKeys 列出所有API密钥
func (s *Store) ListAPIKeys() ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		cp := *key
		keys = append(keys, &cp)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

// UpdateAPIKey 更新API密钥
func (s *Store) UpdateAPIKey(key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apiKeys[key.ID]; !ok {
		return storage.ErrAPIKeyNotFound
	}
	cp := *key
	s.apiKeys[key.ID] = &cp
	s.byDigest[key.KeyDigest] = key.ID
	return nil
}

// UpdateAPIKeyLastUsed 更新API密钥最后使用时间
func (s *Store) UpdateAPIKeyLastUsed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return storage.ErrAPIKeyNotFound
	}
	now := time.Now().UTC()
	key.LastUsedAt = &now
	return nil
}

// ========== 事件 ==========

// SaveEvent 保存单个事件
func (s *Store) SaveEvent(event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *event)
	s.trimEventsLocked()
	return nil
}

// SaveEvents 批量保存事件（内存实现天然原子）
func (s *Store) SaveEvents(events []*domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range events {
		s.events = append(s.events, *event)
	}
	s.trimEventsLocked()
	return nil
}

// ListEventsByTimeRange 按时间范围查询事件
func (s *Store) ListEventsByTimeRange(from, to time.Time, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, event := range s.events {
		if event.Timestamp.Before(from) || event.Timestamp.After(to) {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ========== 指标 ==========

// SaveMetric 保存单个指标
func (s *Store) SaveMetric(metric *domain.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = append(s.metrics, *metric)
	s.trimMetricsLocked()
	return nil
}

// SaveMetrics 批量保存指标
func (s *Store) SaveMetrics(metrics []*domain.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, metric := range metrics {
		s.metrics = append(s.metrics, *metric)
	}
	s.trimMetricsLocked()
	return nil
}

// ListMetricsByTimeRange 按名称与时间范围查询指标
func (s *Store) ListMetricsByTimeRange(name string, from, to time.Time, limit int) ([]domain.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Metric
	for _, metric := range s.metrics {
		if metric.Name != name {
			continue
		}
		if metric.Timestamp.Before(from) || metric.Timestamp.After(to) {
			continue
		}
		out = append(out, metric)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AggregateMetrics 对时间窗口内的指标值执行聚合
func (s *Store) AggregateMetrics(name string, from, to time.Time, fn domain.AggregateFunc) (*domain.AggregateResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var values []float64
	for _, metric := range s.metrics {
		if metric.Name != name {
			continue
		}
		if metric.Timestamp.Before(from) || metric.Timestamp.After(to) {
			continue
		}
		values = append(values, metric.Value)
	}

	result := &domain.AggregateResult{SampleSize: len(values)}
	if len(values) == 0 {
		return result, nil
	}

	switch fn {
	case domain.AggregateCount:
		result.Value = float64(len(values))
	case domain.AggregateMin:
		result.Value = values[0]
		for _, v := range values[1:] {
			if v < result.Value {
				result.Value = v
			}
		}
	case domain.AggregateMax:
		result.Value = values[0]
		for _, v := range values[1:] {
			if v > result.Value {
				result.Value = v
			}
		}
	case domain.AggregateSum:
		for _, v := range values {
			result.Value += v
		}
	default: // avg
		var sum float64
		for _, v := range values {
			sum += v
		}
		result.Value = sum / float64(len(values))
	}
	return result, nil
}

// ========== 告警规则 ==========

// SaveAlertRule 保存告警规则
func (s *Store) SaveAlertRule(rule *domain.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

// GetAlertRule 根据ID获取告警规则
func (s *Store) GetAlertRule(id string) (*domain.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, storage.ErrRuleNotFound
	}
	cp := *rule
	return &cp, nil
}

// ListAlertRules 列出所有告警规则
func (s *Store) ListAlertRules() ([]*domain.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]*domain.AlertRule, 0, len(s.rules))
	for _, rule := range s.rules {
		cp := *rule
		rules = append(rules, &cp)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].CreatedAt.Before(rules[j].CreatedAt) })
	return rules, nil
}

// ListEnabledAlertRules 列出所有启用的告警规则
func (s *Store) ListEnabledAlertRules() ([]*domain.AlertRule, error) {
	rules, err := s.ListAlertRules()
	if err != nil {
		return nil, err
	}
	enabled := rules[:0]
	for _, rule := range rules {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	return enabled, nil
}

// DeleteAlertRule 删除告警规则
func (s *Store) DeleteAlertRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return storage.ErrRuleNotFound
	}
	delete(s.rules, id)
	return nil
}

// ========== 告警实例 ==========

// CreateAlertInstanceIfNone 条件插入告警实例
//
// 同一写锁内完成"检查 active 实例 + 插入"，保证同一规则
// 任意时刻最多一个 active 实例
func (s *Store) CreateAlertInstanceIfNone(instance *domain.AlertInstance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.instances {
		if existing.RuleID == instance.RuleID && existing.Status == domain.AlertStatusActive {
			return false, nil
		}
	}

	cp := *instance
	s.instances[instance.ID] = &cp
	return true, nil
}

// GetActiveAlertInstance 获取规则当前的 active 实例
func (s *Store) GetActiveAlertInstance(ruleID string) (*domain.AlertInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, instance := range s.instances {
		if instance.RuleID == ruleID && instance.Status == domain.AlertStatusActive {
			cp := *instance
			return &cp, nil
		}
	}
	return nil, storage.ErrInstanceNotFound
}

// GetLatestAlertInstance 获取规则最近一次触发的实例（用于冷却判断）
func (s *Store) GetLatestAlertInstance(ruleID string) (*domain.AlertInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.AlertInstance
	for _, instance := range s.instances {
		if instance.RuleID != ruleID {
			continue
		}
		if latest == nil || instance.TriggeredAt.After(latest.TriggeredAt) {
			latest = instance
		}
	}
	if latest == nil {
		return nil, storage.ErrInstanceNotFound
	}
	cp := *latest
	return &cp, nil
}

// ResolveAlertInstance 将告警实例置为已解决
func (s *Store) ResolveAlertInstance(instanceID string, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[instanceID]
	if !ok {
		return storage.ErrInstanceNotFound
	}
	if instance.Status == domain.AlertStatusResolved {
		return nil
	}
	instance.Status = domain.AlertStatusResolved
	instance.ResolvedAt = &resolvedAt
	return nil
}

// ListAlertInstances 列出规则的告警实例，按触发时间倒序
func (s *Store) ListAlertInstances(ruleID string, limit int) ([]domain.AlertInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AlertInstance
	for _, instance := range s.instances {
		if ruleID != "" && instance.RuleID != ruleID {
			continue
		}
		out = append(out, *instance)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ========== 运维 ==========

// Health 健康检查，内存存储总是健康
func (s *Store) Health() error {
	return nil
}

// Close 关闭存储
func (s *Store) Close() error {
	return nil
}

// trimEventsLocked 丢弃最旧事件，调用方必须持有写锁
func (s *Store) trimEventsLocked() {
	if s.maxRecords > 0 && len(s.events) > s.maxRecords {
		s.events = s.events[len(s.events)-s.maxRecords:]
	}
}

// trimMetricsLocked 丢弃最旧指标，调用方必须持有写锁
func (s *Store) trimMetricsLocked() {
	if s.maxRecords > 0 && len(s.metrics) > s.maxRecords {
		s.metrics = s.metrics[len(s.metrics)-s.maxRecords:]
	}
}
