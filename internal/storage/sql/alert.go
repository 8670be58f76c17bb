package sql

import (
	"database/sql"
	"encoding/json"
	"time"

	"pulse/backend/internal/domain"
	"pulse/backend/internal/storage"
)

// ========== AlertRule Repository ==========

const alertRuleColumns = `id, name, description, enabled, conditions, actions, cooldown, severity, tags, created_at, updated_at`

// SaveAlertRule 保存告警规则（存在则更新）
func (s *Store) SaveAlertRule(rule *domain.AlertRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(rule.Tags)
	if err != nil {
		return err
	}

	// 先尝试更新，未命中再插入
	updateQuery := s.rebind(`
		UPDATE alert_rules
		SET name = ?, description = ?, enabled = ?, conditions = ?, actions = ?,
		    cooldown = ?, severity = ?, tags = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.Exec(updateQuery,
		rule.Name,
		rule.Description,
		rule.Enabled,
		conditions,
		actions,
		rule.Cooldown,
		rule.Severity,
		tags,
		rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	insertQuery := s.rebind(`
		INSERT INTO alert_rules (` + alertRuleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = s.db.Exec(insertQuery,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.Enabled,
		conditions,
		actions,
		rule.Cooldown,
		rule.Severity,
		tags,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	return err
}

// GetAlertRule 根据ID获取告警规则
func (s *Store) GetAlertRule(id string) (*domain.AlertRule, error) {
	query := s.rebind(`SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE id = ?`)
	return s.scanAlertRule(s.db.QueryRow(query, id))
}

// ListAlertRules 列出所有告警规则
func (s *Store) ListAlertRules() ([]*domain.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules ORDER BY created_at ASC`
	return s.queryAlertRules(query)
}

// ListEnabledAlertRules 列出所有启用的告警规则
func (s *Store) ListEnabledAlertRules() ([]*domain.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE enabled = true ORDER BY created_at ASC`
	return s.queryAlertRules(query)
}

// DeleteAlertRule 删除告警规则
func (s *Store) DeleteAlertRule(id string) error {
	query := s.rebind(`DELETE FROM alert_rules WHERE id = ?`)
	result, err := s.db.Exec(query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrRuleNotFound
	}
	return nil
}

func (s *Store) queryAlertRules(query string, args ...interface{}) ([]*domain.AlertRule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	for rows.Next() {
		rule, err := s.scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) scanAlertRule(row scanner) (*domain.AlertRule, error) {
	var rule domain.AlertRule
	var conditions, actions, tags []byte

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.Enabled,
		&conditions,
		&actions,
		&rule.Cooldown,
		&rule.Severity,
		&tags,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrRuleNotFound
		}
		return nil, err
	}

	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, err
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return nil, err
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &rule.Tags); err != nil {
			return nil, err
		}
	}

	return &rule, nil
}

// ========== AlertInstance Repository ==========

const alertInstanceColumns = `id, rule_id, rule_name, status, severity, trigger_value, message, metadata, triggered_at, resolved_at`

// CreateAlertInstanceIfNone 条件插入告警实例
//
// INSERT ... SELECT WHERE NOT EXISTS 在单条语句内完成
// "无 active 实例则插入"，并发触发下同一规则也只会
// 产生一个 active 实例
func (s *Store) CreateAlertInstanceIfNone(instance *domain.AlertInstance) (bool, error) {
	metadata, err := json.Marshal(instance.Metadata)
	if err != nil {
		return false, err
	}

	query := s.rebind(`
		INSERT INTO alert_instances (` + alertInstanceColumns + `)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM alert_instances
			WHERE rule_id = ? AND status = 'active'
		)
	`)
	result, err := s.db.Exec(query,
		instance.ID,
		instance.RuleID,
		instance.RuleName,
		instance.Status,
		instance.Severity,
		instance.TriggerValue,
		instance.Message,
		metadata,
		instance.TriggeredAt,
		instance.ResolvedAt,
		instance.RuleID,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetActiveAlertInstance 获取规则当前的 active 实例
func (s *Store) GetActiveAlertInstance(ruleID string) (*domain.AlertInstance, error) {
	query := s.rebind(`
		SELECT ` + alertInstanceColumns + `
		FROM alert_instances
		WHERE rule_id = ? AND status = 'active'
	`)
	return s.scanAlertInstance(s.db.QueryRow(query, ruleID))
}

// GetLatestAlertInstance 获取规则最近一次触发的实例（用于冷却判断）
func (s *Store) GetLatestAlertInstance(ruleID string) (*domain.AlertInstance, error) {
	query := s.rebind(`
		SELECT ` + alertInstanceColumns + `
		FROM alert_instances
		WHERE rule_id = ?
		ORDER BY triggered_at DESC
		LIMIT 1
	`)
	return s.scanAlertInstance(s.db.QueryRow(query, ruleID))
}

// ResolveAlertInstance 将告警实例置为已解决
func (s *Store) ResolveAlertInstance(instanceID string, resolvedAt time.Time) error {
	query := s.rebind(`
		UPDATE alert_instances
		SET status = 'resolved', resolved_at = ?
		WHERE id = ?
	`)
	result, err := s.db.Exec(query, resolvedAt, instanceID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrInstanceNotFound
	}
	return nil
}

// ListAlertInstances 列出告警实例，按触发时间倒序
//
// ruleID 为空时列出全部规则的实例
func (s *Store) ListAlertInstances(ruleID string, limit int) ([]domain.AlertInstance, error) {
	if limit <= 0 {
		limit = 100
	}

	var query string
	var args []interface{}
	if ruleID != "" {
		query = s.rebind(`
			SELECT ` + alertInstanceColumns + `
			FROM alert_instances
			WHERE rule_id = ?
			ORDER BY triggered_at DESC
			LIMIT ?
		`)
		args = []interface{}{ruleID, limit}
	} else {
		query = s.rebind(`
			SELECT ` + alertInstanceColumns + `
			FROM alert_instances
			ORDER BY triggered_at DESC
			LIMIT ?
		`)
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.AlertInstance
	for rows.Next() {
		instance, err := s.scanAlertInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *instance)
	}
	return instances, rows.Err()
}

func (s *Store) scanAlertInstance(row scanner) (*domain.AlertInstance, error) {
	var instance domain.AlertInstance
	var metadata []byte
	var resolvedAt sql.NullTime

	err := row.Scan(
		&instance.ID,
		&instance.RuleID,
		&instance.RuleName,
		&instance.Status,
		&instance.Severity,
		&instance.TriggerValue,
		&instance.Message,
		&metadata,
		&instance.TriggeredAt,
		&resolvedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrInstanceNotFound
		}
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &instance.Metadata); err != nil {
			return nil, err
		}
	}
	if resolvedAt.Valid {
		instance.ResolvedAt = &resolvedAt.Time
	}

	return &instance, nil
}
