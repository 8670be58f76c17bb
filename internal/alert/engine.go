package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse/backend/internal/broker"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/monitoring"
	"pulse/backend/internal/pool"
	"pulse/backend/internal/storage"
)

// alertEnvelope 推向告警频道的消息信封
type alertEnvelope struct {
	Type      string                `json:"type"` // alert_triggered / alert_resolved
	Data      *domain.AlertInstance `json:"data"`
	Timestamp time.Time             `json:"timestamp"`
}

// Engine 告警评估引擎
//
// 周期性评估所有启用规则。同一时刻只有一个评估周期在执行，
// 上个周期未结束时跳过本次触发；单条规则在周期内也只会有
// 一个在途评估（per-rule guard），规则间通过协程池并行
type Engine struct {
	store        storage.Store
	broker       broker.Broker
	notifier     *Notifier
	workers      *pool.WorkerPool
	metrics      *monitoring.Metrics
	logger       *zap.Logger
	tickInterval time.Duration

	tickRunning atomic.Bool
	mu          sync.Mutex
	inFlight    map[string]struct{} // ruleID -> evaluating
}

// NewEngine 创建告警引擎
func NewEngine(
	store storage.Store,
	b broker.Broker,
	notifier *Notifier,
	workers *pool.WorkerPool,
	tickInterval time.Duration,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		store:        store,
		broker:       b,
		notifier:     notifier,
		workers:      workers,
		metrics:      metrics,
		logger:       logger,
		tickInterval: tickInterval,
		inFlight:     make(map[string]struct{}),
	}
}

// Run 启动评估循环，阻塞直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	e.workers.Start()
	defer e.workers.Stop()

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	e.logger.Info("alert engine started",
		zap.Duration("tickInterval", e.tickInterval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("alert engine stopped")
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick 执行一个评估周期
//
// 上个周期未结束时直接返回，评估永远不会相互重叠
func (e *Engine) Tick(ctx context.Context) {
	if !e.tickRunning.CompareAndSwap(false, true) {
		e.logger.Warn("previous evaluation tick still running, skipping")
		return
	}

	start := time.Now()
	defer func() {
		e.tickRunning.Store(false)
		e.metrics.RecordAlertTick(time.Since(start))
	}()

	rules, err := e.store.ListEnabledAlertRules()
	if err != nil {
		e.metrics.RecordError("storage", "alert")
		e.logger.Error("failed to list enabled rules", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, rule := range rules {
		if !e.acquire(rule.ID) {
			continue
		}

		rule := rule
		wg.Add(1)
		submitted := e.workers.TrySubmit(func() {
			defer wg.Done()
			defer e.release(rule.ID)
			// 取消后排队中的评估直接放弃，Tick 不会卡在 wg.Wait
			if ctx.Err() != nil {
				return
			}
			e.evaluate(ctx, rule)
		})
		if !submitted {
			wg.Done()
			e.release(rule.ID)
			e.logger.Warn("evaluation queue full, skipping rule",
				zap.String("ruleID", rule.ID))
		}
	}
	wg.Wait()
}

// acquire 获取规则的评估许可
func (e *Engine) acquire(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inFlight[ruleID]; ok {
		return false
	}
	e.inFlight[ruleID] = struct{}{}
	return true
}

func (e *Engine) release(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, ruleID)
}

// evaluate 评估单条规则并执行状态流转
func (e *Engine) evaluate(ctx context.Context, rule *domain.AlertRule) {
	cond := rule.Conditions
	now := time.Now().UTC()
	from := now.Add(-time.Duration(cond.TimeWindow) * time.Second)

	aggregate := cond.Aggregate
	if aggregate == "" {
		aggregate = domain.AggregateAvg
	}

	result, err := e.store.AggregateMetrics(cond.Metric, from, now, aggregate)
	if err != nil {
		e.metrics.RecordError("storage", "alert")
		e.logger.Error("failed to aggregate metrics",
			zap.String("ruleID", rule.ID),
			zap.String("metric", cond.Metric),
			zap.Error(err))
		return
	}

	// 样本不足时条件视为不成立，不触发也不解决已有告警：
	// 数据缺口不应当清掉一个真实的告警
	if result.SampleSize == 0 || result.SampleSize < cond.Occurrences {
		return
	}

	if cond.Operator.Compare(result.Value, cond.Threshold) {
		e.trigger(ctx, rule, result.Value, now)
	} else {
		e.resolve(ctx, rule, now)
	}
}

// trigger 触发告警
//
// 冷却期内不重复触发；条件插入保证并发下同一规则
// 最多一个 active 实例
func (e *Engine) trigger(ctx context.Context, rule *domain.AlertRule, value float64, now time.Time) {
	if rule.Cooldown > 0 {
		// 冷却从最近一次实例的 TriggeredAt 起算，与解除时间无关
		latest, err := e.store.GetLatestAlertInstance(rule.ID)
		if err == nil && now.Sub(latest.TriggeredAt) < time.Duration(rule.Cooldown)*time.Second {
			return
		}
	}

	severity := rule.Severity
	if severity == "" {
		severity = domain.SeverityWarning
	}

	instance := &domain.AlertInstance{
		ID:           uuid.New().String(),
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		Status:       domain.AlertStatusActive,
		Severity:     severity,
		TriggerValue: value,
		Message:      triggerMessage(rule, value),
		TriggeredAt:  now,
	}

	created, err := e.store.CreateAlertInstanceIfNone(instance)
	if err != nil {
		e.metrics.RecordError("storage", "alert")
		e.logger.Error("failed to create alert instance",
			zap.String("ruleID", rule.ID), zap.Error(err))
		return
	}
	if !created {
		// 已有 active 实例，本次触发合并
		return
	}

	e.metrics.RecordAlertTriggered(string(severity))
	e.logger.Info("alert triggered",
		zap.String("ruleID", rule.ID),
		zap.String("ruleName", rule.Name),
		zap.Float64("value", value))

	e.publish(ctx, "alert_triggered", instance)
	e.notifier.Execute(ctx, rule, instance)
}

// resolve 解除告警
func (e *Engine) resolve(ctx context.Context, rule *domain.AlertRule, now time.Time) {
	active, err := e.store.GetActiveAlertInstance(rule.ID)
	if err != nil {
		// 无 active 实例是常态
		return
	}

	if err := e.store.ResolveAlertInstance(active.ID, now); err != nil {
		e.metrics.RecordError("storage", "alert")
		e.logger.Error("failed to resolve alert instance",
			zap.String("instanceID", active.ID), zap.Error(err))
		return
	}

	active.Status = domain.AlertStatusResolved
	active.ResolvedAt = &now

	e.metrics.RecordAlertResolved()
	e.logger.Info("alert resolved",
		zap.String("ruleID", rule.ID),
		zap.String("instanceID", active.ID))

	e.publish(ctx, "alert_resolved", active)
}

// publish 推向告警频道，失败不影响状态流转
func (e *Engine) publish(ctx context.Context, msgType string, instance *domain.AlertInstance) {
	payload, err := json.Marshal(alertEnvelope{
		Type:      msgType,
		Data:      instance,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("failed to marshal alert payload", zap.Error(err))
		return
	}

	err = e.broker.Publish(ctx, domain.ChannelAlerts, payload)
	e.metrics.RecordBrokerPublish(domain.ChannelAlerts, err)
	if err != nil {
		e.logger.Error("failed to publish alert", zap.Error(err))
	}
}

// triggerMessage 生成触发描述
func triggerMessage(rule *domain.AlertRule, value float64) string {
	cond := rule.Conditions
	aggregate := cond.Aggregate
	if aggregate == "" {
		aggregate = domain.AggregateAvg
	}
	return fmt.Sprintf("%s(%s) over %ds is %g (%s %g)",
		aggregate, cond.Metric, cond.TimeWindow, value, cond.Operator, cond.Threshold)
}
