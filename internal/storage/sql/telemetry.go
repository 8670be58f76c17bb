package sql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pulse/backend/internal/domain"
)

// ========== Event Repository ==========

const eventColumns = `id, type, level, source, message, metadata, user_id, session_id, request_id, tags, timestamp, ip, user_agent, api_key_id`

// SaveEvent 保存单个事件
func (s *Store) SaveEvent(event *domain.Event) error {
	return s.execInsertEvent(s.db, event)
}

// SaveEvents 批量保存事件，整批在单个事务内写入
func (s *Store) SaveEvents(events []*domain.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := s.execInsertEvent(tx, event); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// execer 统一 *sql.DB 与 *sql.Tx 的写入入口
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) execInsertEvent(db execer, event *domain.Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(event.Tags)
	if err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = db.Exec(query,
		event.ID,
		event.Type,
		event.Level,
		event.Source,
		event.Message,
		metadata,
		event.UserID,
		event.SessionID,
		event.RequestID,
		tags,
		event.Timestamp,
		event.IP,
		event.UserAgent,
		event.APIKeyID,
	)
	return err
}

// ListEventsByTimeRange 按时间范围查询事件
func (s *Store) ListEventsByTimeRange(from, to time.Time, limit int) ([]domain.Event, error) {
	query := s.rebind(`
		SELECT ` + eventColumns + `
		FROM events
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
		LIMIT ?
	`)
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.Query(query, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var metadata, tags []byte

		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Level,
			&event.Source,
			&event.Message,
			&metadata,
			&event.UserID,
			&event.SessionID,
			&event.RequestID,
			&tags,
			&event.Timestamp,
			&event.IP,
			&event.UserAgent,
			&event.APIKeyID,
		)
		if err != nil {
			return nil, err
		}

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, err
			}
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &event.Tags); err != nil {
				return nil, err
			}
		}

		events = append(events, event)
	}
	return events, rows.Err()
}

// ========== Metric Repository ==========

const metricColumns = `id, name, value, unit, dimensions, source, timestamp, ip, user_agent, api_key_id`

// SaveMetric 保存单个指标
func (s *Store) SaveMetric(metric *domain.Metric) error {
	return s.execInsertMetric(s.db, metric)
}

// SaveMetrics 批量保存指标，整批在单个事务内写入
func (s *Store) SaveMetrics(metrics []*domain.Metric) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	for _, metric := range metrics {
		if err := s.execInsertMetric(tx, metric); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) execInsertMetric(db execer, metric *domain.Metric) error {
	dimensions, err := json.Marshal(metric.Dimensions)
	if err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO metrics (` + metricColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = db.Exec(query,
		metric.ID,
		metric.Name,
		metric.Value,
		metric.Unit,
		dimensions,
		metric.Source,
		metric.Timestamp,
		metric.IP,
		metric.UserAgent,
		metric.APIKeyID,
	)
	return err
}

// ListMetricsByTimeRange 按名称与时间范围查询指标
func (s *Store) ListMetricsByTimeRange(name string, from, to time.Time, limit int) ([]domain.Metric, error) {
	query := s.rebind(`
		SELECT ` + metricColumns + `
		FROM metrics
		WHERE name = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
		LIMIT ?
	`)
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.Query(query, name, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []domain.Metric
	for rows.Next() {
		var metric domain.Metric
		var dimensions []byte

		err := rows.Scan(
			&metric.ID,
			&metric.Name,
			&metric.Value,
			&metric.Unit,
			&dimensions,
			&metric.Source,
			&metric.Timestamp,
			&metric.IP,
			&metric.UserAgent,
			&metric.APIKeyID,
		)
		if err != nil {
			return nil, err
		}

		if len(dimensions) > 0 {
			if err := json.Unmarshal(dimensions, &metric.Dimensions); err != nil {
				return nil, err
			}
		}

		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}

// AggregateMetrics 对时间窗口内的指标值执行聚合（数据库侧计算）
func (s *Store) AggregateMetrics(name string, from, to time.Time, fn domain.AggregateFunc) (*domain.AggregateResult, error) {
	var expr string
	switch fn {
	case domain.AggregateMin:
		expr = "MIN(value)"
	case domain.AggregateMax:
		expr = "MAX(value)"
	case domain.AggregateSum:
		expr = "SUM(value)"
	case domain.AggregateCount:
		expr = "COUNT(value)"
	case domain.AggregateAvg, "":
		expr = "AVG(value)"
	default:
		return nil, fmt.Errorf("unsupported aggregate function: %s", fn)
	}

	query := s.rebind(`
		SELECT ` + expr + `, COUNT(*)
		FROM metrics
		WHERE name = ? AND timestamp >= ? AND timestamp <= ?
	`)

	var value sql.NullFloat64
	var sampleSize int
	if err := s.db.QueryRow(query, name, from, to).Scan(&value, &sampleSize); err != nil {
		return nil, err
	}

	result := &domain.AggregateResult{SampleSize: sampleSize}
	if value.Valid {
		result.Value = value.Float64
	}
	return result, nil
}
