package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 摄入指标
	EventsIngested    *prometheus.CounterVec
	MetricsIngested   prometheus.Counter
	IngestBatchSize   prometheus.Histogram
	IngestRejections  *prometheus.CounterVec

	// 认证指标
	AuthAttempts  *prometheus.CounterVec
	AuthCacheHits *prometheus.CounterVec

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	// 告警指标
	AlertTicksTotal    prometheus.Counter
	AlertTickDuration  prometheus.Histogram
	AlertsTriggered    *prometheus.CounterVec
	AlertsResolved     prometheus.Counter
	AlertActionsFailed *prometheus.CounterVec

	// WebSocket 指标
	WSConnectionsActive  prometheus.Gauge
	WSConnectionsTotal   prometheus.Counter
	WSMessagesDelivered  prometheus.Counter
	WSMessagesDropped    *prometheus.CounterVec
	WSSubscriptionsTotal *prometheus.CounterVec

	// 消息代理指标
	BrokerPublishTotal  *prometheus.CounterVec
	BrokerPublishErrors *prometheus.CounterVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 摄入指标
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_events_ingested_total",
				Help: "Total number of events ingested",
			},
			[]string{"level"},
		),

		MetricsIngested: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_metrics_ingested_total",
				Help: "Total number of metric points ingested",
			},
		),

		IngestBatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulse_ingest_batch_size",
				Help:    "Number of items per ingestion batch",
				Buckets: prometheus.ExponentialBuckets(1, 4, 6),
			},
		),

		IngestRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_ingest_rejections_total",
				Help: "Total number of rejected ingestion payloads",
			},
			[]string{"reason"},
		),

		// 认证指标
		AuthAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_auth_attempts_total",
				Help: "Total number of API key authentication attempts",
			},
			[]string{"result"},
		),

		AuthCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_auth_cache_hits_total",
				Help: "Total number of verified key cache hits",
			},
			[]string{"layer"},
		),

		// 限流指标
		RateLimitBlocks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_rate_limit_blocks_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"principal_type"},
		),

		// 告警指标
		AlertTicksTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_alert_ticks_total",
				Help: "Total number of alert evaluation ticks",
			},
		),

		AlertTickDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulse_alert_tick_duration_seconds",
				Help:    "Alert evaluation tick duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		AlertsTriggered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_alerts_triggered_total",
				Help: "Total number of alerts triggered",
			},
			[]string{"severity"},
		),

		AlertsResolved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_alerts_resolved_total",
				Help: "Total number of alerts resolved",
			},
		),

		AlertActionsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_alert_actions_failed_total",
				Help: "Total number of failed alert actions",
			},
			[]string{"type"},
		),

		// WebSocket 指标
		WSConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulse_ws_connections_active",
				Help: "Number of active WebSocket connections",
			},
		),

		WSConnectionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_ws_connections_total",
				Help: "Total number of WebSocket connections accepted",
			},
		),

		WSMessagesDelivered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_ws_messages_delivered_total",
				Help: "Total number of messages delivered to WebSocket clients",
			},
		),

		WSMessagesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_ws_messages_dropped_total",
				Help: "Total number of messages dropped before delivery",
			},
			[]string{"reason"},
		),

		WSSubscriptionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_ws_subscriptions_total",
				Help: "Total number of channel subscription attempts",
			},
			[]string{"result"},
		),

		// 消息代理指标
		BrokerPublishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_broker_publish_total",
				Help: "Total number of messages published to the broker",
			},
			[]string{"channel"},
		),

		BrokerPublishErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_broker_publish_errors_total",
				Help: "Total number of broker publish failures",
			},
			[]string{"channel"},
		),

		// 错误指标
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_panics_total",
				Help: "Total number of panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordEventIngested 记录事件摄入
func (m *Metrics) RecordEventIngested(level string) {
	m.EventsIngested.WithLabelValues(level).Inc()
}

// RecordMetricIngested 记录指标摄入
func (m *Metrics) RecordMetricIngested() {
	m.MetricsIngested.Inc()
}

// RecordIngestBatch 记录批量摄入的批大小
func (m *Metrics) RecordIngestBatch(size int) {
	m.IngestBatchSize.Observe(float64(size))
}

// RecordIngestRejection 记录摄入拒绝
func (m *Metrics) RecordIngestRejection(reason string) {
	m.IngestRejections.WithLabelValues(reason).Inc()
}

// RecordAuthAttempt 记录验证结果
func (m *Metrics) RecordAuthAttempt(result string) {
	m.AuthAttempts.WithLabelValues(result).Inc()
}

// RecordAuthCacheHit 记录验证缓存命中（layer: local / shared）
func (m *Metrics) RecordAuthCacheHit(layer string) {
	m.AuthCacheHits.WithLabelValues(layer).Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(principalType string) {
	m.RateLimitBlocks.WithLabelValues(principalType).Inc()
}

// RecordAlertTick 记录一次评估周期
func (m *Metrics) RecordAlertTick(duration time.Duration) {
	m.AlertTicksTotal.Inc()
	m.AlertTickDuration.Observe(duration.Seconds())
}

// RecordAlertTriggered 记录告警触发
func (m *Metrics) RecordAlertTriggered(severity string) {
	m.AlertsTriggered.WithLabelValues(severity).Inc()
}

// RecordAlertResolved 记录告警解决
func (m *Metrics) RecordAlertResolved() {
	m.AlertsResolved.Inc()
}

// RecordAlertActionFailed 记录告警动作失败
func (m *Metrics) RecordAlertActionFailed(actionType string) {
	m.AlertActionsFailed.WithLabelValues(actionType).Inc()
}

// RecordBrokerPublish 记录代理发布结果
func (m *Metrics) RecordBrokerPublish(channel string, err error) {
	m.BrokerPublishTotal.WithLabelValues(channel).Inc()
	if err != nil {
		m.BrokerPublishErrors.WithLabelValues(channel).Inc()
	}
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
