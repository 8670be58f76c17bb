package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse/backend/internal/broker"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/monitoring"
	"pulse/backend/internal/storage"
)

// RequestMeta 服务端采集的请求元数据
type RequestMeta struct {
	APIKeyID  string
	IP        string
	UserAgent string
}

// streamEnvelope 推向实时频道的消息信封
type streamEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Service 遥测摄入服务
//
// 校验、补齐服务端字段、持久化，然后推向实时频道。
// 持久化是准入条件，发布失败只记录日志不回滚
type Service struct {
	store   storage.Store
	broker  broker.Broker
	metrics *monitoring.Metrics
	logger  *zap.Logger

	aggCache    AggregateCache // 可选，见 SetAggregateCache
	aggCacheTTL time.Duration
}

// NewService 创建摄入服务
func NewService(store storage.Store, b broker.Broker, metrics *monitoring.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		broker:  b,
		metrics: metrics,
		logger:  logger,
	}
}

// IngestEvent 摄入单个事件
func (s *Service) IngestEvent(ctx context.Context, event *domain.Event, meta RequestMeta) (*domain.Event, error) {
	if err := event.Validate(); err != nil {
		s.metrics.RecordIngestRejection("validation")
		return nil, err
	}

	s.stampEvent(event, meta)

	if err := s.store.SaveEvent(event); err != nil {
		s.metrics.RecordError("storage", "ingest")
		return nil, err
	}

	s.metrics.RecordEventIngested(string(event.Level))
	s.publish(ctx, domain.ChannelEvents, "event", event)
	return event, nil
}

// IngestEvents 批量摄入事件
//
// 整批校验通过才写入，任意一条校验失败整批拒绝；
// 持久化在单个事务内完成，不会出现半写入
func (s *Service) IngestEvents(ctx context.Context, events []*domain.Event, meta RequestMeta) ([]*domain.Event, error) {
	if err := domain.ValidateBatchSize(len(events)); err != nil {
		s.metrics.RecordIngestRejection("batch_size")
		return nil, err
	}
	for _, event := range events {
		if err := event.Validate(); err != nil {
			s.metrics.RecordIngestRejection("validation")
			return nil, err
		}
	}

	for _, event := range events {
		s.stampEvent(event, meta)
	}

	if err := s.store.SaveEvents(events); err != nil {
		s.metrics.RecordError("storage", "ingest")
		return nil, err
	}

	s.metrics.RecordIngestBatch(len(events))
	for _, event := range events {
		s.metrics.RecordEventIngested(string(event.Level))
		s.publish(ctx, domain.ChannelEvents, "event", event)
	}
	return events, nil
}

// IngestMetric 摄入单个指标
func (s *Service) IngestMetric(ctx context.Context, metric *domain.Metric, meta RequestMeta) (*domain.Metric, error) {
	if err := metric.Validate(); err != nil {
		s.metrics.RecordIngestRejection("validation")
		return nil, err
	}

	s.stampMetric(metric, meta)

	if err := s.store.SaveMetric(metric); err != nil {
		s.metrics.RecordError("storage", "ingest")
		return nil, err
	}

	s.metrics.RecordMetricIngested()
	s.publish(ctx, domain.ChannelMetrics, "metric", metric)
	return metric, nil
}

// IngestMetrics 批量摄入指标
func (s *Service) IngestMetrics(ctx context.Context, metrics []*domain.Metric, meta RequestMeta) ([]*domain.Metric, error) {
	if err := domain.ValidateBatchSize(len(metrics)); err != nil {
		s.metrics.RecordIngestRejection("batch_size")
		return nil, err
	}
	for _, metric := range metrics {
		if err := metric.Validate(); err != nil {
			s.metrics.RecordIngestRejection("validation")
			return nil, err
		}
	}

	for _, metric := range metrics {
		s.stampMetric(metric, meta)
	}

	if err := s.store.SaveMetrics(metrics); err != nil {
		s.metrics.RecordError("storage", "ingest")
		return nil, err
	}

	s.metrics.RecordIngestBatch(len(metrics))
	for range metrics {
		s.metrics.RecordMetricIngested()
	}
	for _, metric := range metrics {
		s.publish(ctx, domain.ChannelMetrics, "metric", metric)
	}
	return metrics, nil
}

// ListEvents 按时间范围查询事件
func (s *Service) ListEvents(from, to time.Time, limit int) ([]domain.Event, error) {
	return s.store.ListEventsByTimeRange(from, to, limit)
}

// ListMetrics 按名称与时间范围查询指标
func (s *Service) ListMetrics(name string, from, to time.Time, limit int) ([]domain.Metric, error) {
	return s.store.ListMetricsByTimeRange(name, from, to, limit)
}

// AggregateCache 聚合查询结果的短时缓存
type AggregateCache interface {
	CacheAggregate(cacheKey string, result *domain.AggregateResult, ttl time.Duration) error
	GetCachedAggregate(cacheKey string) (*domain.AggregateResult, error)
}

// SetAggregateCache 启用聚合查询缓存（可选）
func (s *Service) SetAggregateCache(cache AggregateCache, ttl time.Duration) {
	s.aggCache = cache
	s.aggCacheTTL = ttl
}

// AggregateMetrics 对指标做窗口聚合
//
// 缓存键包含完整查询参数，TTL 很短，只为挡住仪表盘的
// 重复轮询，不追求强一致
func (s *Service) AggregateMetrics(name string, from, to time.Time, fn domain.AggregateFunc) (*domain.AggregateResult, error) {
	cacheKey := fmt.Sprintf("%s:%s:%d:%d", name, fn, from.Unix(), to.Unix())

	if s.aggCache != nil {
		if cached, err := s.aggCache.GetCachedAggregate(cacheKey); err == nil {
			return cached, nil
		}
	}

	result, err := s.store.AggregateMetrics(name, from, to, fn)
	if err != nil {
		return nil, err
	}

	if s.aggCache != nil {
		if err := s.aggCache.CacheAggregate(cacheKey, result, s.aggCacheTTL); err != nil {
			s.logger.Warn("failed to cache aggregate result", zap.Error(err))
		}
	}

	return result, nil
}

// stampEvent 补齐服务端字段，客户端提交值一律覆盖
func (s *Service) stampEvent(event *domain.Event, meta RequestMeta) {
	event.ID = uuid.New().String()
	event.Timestamp = time.Now().UTC()
	event.IP = meta.IP
	event.UserAgent = meta.UserAgent
	event.APIKeyID = meta.APIKeyID
	if event.Level == "" {
		event.Level = domain.EventLevelInfo
	}
}

// stampMetric 补齐服务端字段
func (s *Service) stampMetric(metric *domain.Metric, meta RequestMeta) {
	metric.ID = uuid.New().String()
	metric.Timestamp = time.Now().UTC()
	metric.IP = meta.IP
	metric.UserAgent = meta.UserAgent
	metric.APIKeyID = meta.APIKeyID
}

// publish 推向实时频道，失败不影响摄入结果
func (s *Service) publish(ctx context.Context, channel, msgType string, data interface{}) {
	payload, err := json.Marshal(streamEnvelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to marshal stream payload", zap.Error(err))
		return
	}

	err = s.broker.Publish(ctx, channel, payload)
	s.metrics.RecordBrokerPublish(channel, err)
	if err != nil {
		s.logger.Error("failed to publish to channel",
			zap.String("channel", channel), zap.Error(err))
	}
}
