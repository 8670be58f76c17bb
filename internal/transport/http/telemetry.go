package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"pulse/backend/internal/domain"
	"pulse/backend/internal/ingest"
	"pulse/backend/internal/middleware"
)

// TelemetryHandler 遥测写入与查询处理器
type TelemetryHandler struct {
	ingest *ingest.Service
}

// NewTelemetryHandler 创建遥测处理器
func NewTelemetryHandler(ingestService *ingest.Service) *TelemetryHandler {
	return &TelemetryHandler{ingest: ingestService}
}

// validationErrors 映射为 400 的业务校验错误
var validationErrors = []error{
	domain.ErrEventTypeRequired,
	domain.ErrEventSourceMissing,
	domain.ErrEventLevelInvalid,
	domain.ErrMessageTooLong,
	domain.ErrMetricNameRequired,
	domain.ErrMetricNameInvalid,
	domain.ErrMetricSourceMissing,
	domain.ErrBatchEmpty,
	domain.ErrBatchTooLarge,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// requestMeta 从请求上下文提取服务端元数据
func requestMeta(c *gin.Context) ingest.RequestMeta {
	meta := ingest.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if apiKey, ok := middleware.KeyFromContext(c); ok {
		meta.APIKeyID = apiKey.ID
	}
	return meta
}

// CreateEvent 写入单条事件
func (h *TelemetryHandler) CreateEvent(c *gin.Context) {
	var event domain.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	stored, err := h.ingest.IngestEvent(c.Request.Context(), &event, requestMeta(c))
	if err != nil {
		if isValidationError(err) {
			BadRequest(c, GetErrorMessage(err))
		} else {
			InternalError(c, MsgEventIngestFailed)
		}
		return
	}

	Created(c, stored)
}

type batchResponse struct {
	Accepted int `json:"accepted"`
}

// CreateEvents 批量写入事件（全量成功或全量拒绝）
func (h *TelemetryHandler) CreateEvents(c *gin.Context) {
	var events []*domain.Event
	if err := c.ShouldBindJSON(&events); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	stored, err := h.ingest.IngestEvents(c.Request.Context(), events, requestMeta(c))
	if err != nil {
		if isValidationError(err) {
			BadRequest(c, GetErrorMessage(err))
		} else {
			InternalError(c, MsgEventIngestFailed)
		}
		return
	}

	Created(c, batchResponse{Accepted: len(stored)})
}

// CreateMetric 写入单条指标
func (h *TelemetryHandler) CreateMetric(c *gin.Context) {
	var metric domain.Metric
	if err := c.ShouldBindJSON(&metric); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	stored, err := h.ingest.IngestMetric(c.Request.Context(), &metric, requestMeta(c))
	if err != nil {
		if isValidationError(err) {
			BadRequest(c, GetErrorMessage(err))
		} else {
			InternalError(c, MsgMetricIngestFailed)
		}
		return
	}

	Created(c, stored)
}

// CreateMetrics 批量写入指标（全量成功或全量拒绝）
func (h *TelemetryHandler) CreateMetrics(c *gin.Context) {
	var metrics []*domain.Metric
	if err := c.ShouldBindJSON(&metrics); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	stored, err := h.ingest.IngestMetrics(c.Request.Context(), metrics, requestMeta(c))
	if err != nil {
		if isValidationError(err) {
			BadRequest(c, GetErrorMessage(err))
		} else {
			InternalError(c, MsgMetricIngestFailed)
		}
		return
	}

	Created(c, batchResponse{Accepted: len(stored)})
}

// timeRange 解析查询时间范围，默认最近一小时
func timeRange(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.Add(-time.Hour)
	to := now

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, err
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, err
		}
		to = parsed
	}
	return from, to, nil
}

type eventListResponse struct {
	Items []domain.Event `json:"items"`
	Count int            `json:"count"`
}

// ListEvents 按时间范围查询事件
func (h *TelemetryHandler) ListEvents(c *gin.Context) {
	from, to, err := timeRange(c)
	if err != nil {
		BadRequest(c, MsgInvalidTimeRange)
		return
	}
	limit, err := parseLimit(c, 100)
	if err != nil {
		BadRequest(c, MsgInvalidLimit)
		return
	}

	events, err := h.ingest.ListEvents(from, to, limit)
	if err != nil {
		InternalError(c, MsgQueryFailed)
		return
	}

	Success(c, eventListResponse{Items: events, Count: len(events)})
}

type metricListResponse struct {
	Items []domain.Metric `json:"items"`
	Count int             `json:"count"`
}

// ListMetrics 按名称与时间范围查询指标
func (h *TelemetryHandler) ListMetrics(c *gin.Context) {
	from, to, err := timeRange(c)
	if err != nil {
		BadRequest(c, MsgInvalidTimeRange)
		return
	}
	limit, err := parseLimit(c, 100)
	if err != nil {
		BadRequest(c, MsgInvalidLimit)
		return
	}

	metrics, err := h.ingest.ListMetrics(c.Query("name"), from, to, limit)
	if err != nil {
		InternalError(c, MsgQueryFailed)
		return
	}

	Success(c, metricListResponse{Items: metrics, Count: len(metrics)})
}

type aggregateResponse struct {
	Name       string    `json:"name"`
	Aggregate  string    `json:"aggregate"`
	Value      float64   `json:"value"`
	SampleSize int       `json:"sampleSize"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

// AggregateMetrics 指标窗口聚合查询
func (h *TelemetryHandler) AggregateMetrics(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		BadRequest(c, GetErrorMessage(domain.ErrMetricNameRequired))
		return
	}

	fn := domain.AggregateFunc(c.DefaultQuery("aggregate", string(domain.AggregateAvg)))
	switch fn {
	case domain.AggregateAvg, domain.AggregateMin, domain.AggregateMax, domain.AggregateSum, domain.AggregateCount:
	default:
		BadRequest(c, MsgInvalidAggregate)
		return
	}

	from, to, err := timeRange(c)
	if err != nil {
		BadRequest(c, MsgInvalidTimeRange)
		return
	}

	result, err := h.ingest.AggregateMetrics(name, from, to, fn)
	if err != nil {
		InternalError(c, MsgQueryFailed)
		return
	}

	Success(c, aggregateResponse{
		Name:       name,
		Aggregate:  string(fn),
		Value:      result.Value,
		SampleSize: result.SampleSize,
		From:       from,
		To:         to,
	})
}
