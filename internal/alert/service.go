package alert

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse/backend/internal/domain"
	"pulse/backend/internal/storage"
)

// ErrRuleNotFound 规则不存在
var ErrRuleNotFound = errors.New("alert rule not found")

// ErrInstanceNotFound 告警实例不存在
var ErrInstanceNotFound = errors.New("alert instance not found")

// Service 告警规则管理服务
type Service struct {
	store  storage.Store
	logger *zap.Logger
}

// NewService 创建规则管理服务
func NewService(store storage.Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// CreateRule 创建告警规则
func (s *Service) CreateRule(rule *domain.AlertRule) (*domain.AlertRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rule.ID = uuid.New().String()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.Severity == "" {
		rule.Severity = domain.SeverityWarning
	}

	if err := s.store.SaveAlertRule(rule); err != nil {
		return nil, err
	}

	s.logger.Info("alert rule created",
		zap.String("ruleID", rule.ID),
		zap.String("name", rule.Name))
	return rule, nil
}

// GetRule 获取告警规则
func (s *Service) GetRule(id string) (*domain.AlertRule, error) {
	rule, err := s.store.GetAlertRule(id)
	if err != nil {
		if errors.Is(err, storage.ErrRuleNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// ListRules 列出所有告警规则
func (s *Service) ListRules() ([]*domain.AlertRule, error) {
	return s.store.ListAlertRules()
}

// UpdateRule 更新告警规则
//
// 下一个评估周期按新配置执行；规则被禁用时已有的
// active 实例保持不变，由条件变化或人工处理解除
func (s *Service) UpdateRule(id string, update *domain.AlertRule) (*domain.AlertRule, error) {
	existing, err := s.GetRule(id)
	if err != nil {
		return nil, err
	}

	update.ID = existing.ID
	update.CreatedAt = existing.CreatedAt
	update.UpdatedAt = time.Now().UTC()
	if update.Severity == "" {
		update.Severity = domain.SeverityWarning
	}

	if err := update.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.SaveAlertRule(update); err != nil {
		return nil, err
	}

	s.logger.Info("alert rule updated", zap.String("ruleID", id))
	return update, nil
}

// DeleteRule 删除告警规则
func (s *Service) DeleteRule(id string) error {
	if err := s.store.DeleteAlertRule(id); err != nil {
		if errors.Is(err, storage.ErrRuleNotFound) {
			return ErrRuleNotFound
		}
		return err
	}

	s.logger.Info("alert rule deleted", zap.String("ruleID", id))
	return nil
}

// ResolveInstance 人工解除告警实例。重复解除为幂等操作；
// 若触发条件仍然满足且冷却已过，下一个评估周期会重新触发
func (s *Service) ResolveInstance(id string) error {
	if err := s.store.ResolveAlertInstance(id, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrInstanceNotFound) {
			return ErrInstanceNotFound
		}
		return err
	}

	s.logger.Info("alert instance resolved manually", zap.String("instanceID", id))
	return nil
}

// ListInstances 列出告警实例，ruleID 为空时列出全部
func (s *Service) ListInstances(ruleID string, limit int) ([]domain.AlertInstance, error) {
	if ruleID != "" {
		if _, err := s.GetRule(ruleID); err != nil {
			return nil, err
		}
	}
	return s.store.ListAlertInstances(ruleID, limit)
}
