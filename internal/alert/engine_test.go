package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse/backend/internal/broker"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/monitoring"
	"pulse/backend/internal/pool"
	"pulse/backend/internal/storage/memory"
)

// promauto 指标注册到默认注册表，整个测试包共用一个实例
var testMetrics = monitoring.NewMetrics()

type engineEnv struct {
	engine *Engine
	store  *memory.Store
	broker *broker.MemoryBroker
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()
	store := memory.NewStore(0)
	b := broker.NewMemoryBroker()
	t.Cleanup(func() { b.Close() })

	logger := zap.NewNop()
	notifier := NewNotifier(time.Second, 0, "test-webhook-secret", SMTPConfig{}, testMetrics, logger)
	workers := pool.NewWorkerPool(2, 16, logger)
	workers.Start()
	t.Cleanup(workers.Stop)

	engine := &Engine{
		store:        store,
		broker:       b,
		notifier:     notifier,
		workers:      workers,
		metrics:      testMetrics,
		logger:       logger,
		tickInterval: time.Minute,
		inFlight:     make(map[string]struct{}),
	}

	return &engineEnv{engine: engine, store: store, broker: b}
}

func saveMetrics(t *testing.T, store *memory.Store, name string, values ...float64) {
	t.Helper()
	now := time.Now().UTC()
	for _, v := range values {
		require.NoError(t, store.SaveMetric(&domain.Metric{
			ID:        name + time.Now().String(),
			Name:      name,
			Value:     v,
			Source:    "test",
			Timestamp: now.Add(-time.Minute),
		}))
	}
}

func newRule(metric string, op domain.ComparisonOperator, threshold float64) *domain.AlertRule {
	return &domain.AlertRule{
		ID:      "rule-" + metric,
		Name:    "rule for " + metric,
		Enabled: true,
		Conditions: domain.AlertCondition{
			Metric:     metric,
			Operator:   op,
			Threshold:  threshold,
			TimeWindow: 300,
		},
		Actions:   []domain.AlertAction{{Type: domain.ActionTypeLog}},
		Severity:  domain.SeverityCritical,
		CreatedAt: time.Now().UTC(),
	}
}

func TestEngineTriggersAlert(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	rule := newRule("cpu.usage", domain.OperatorGT, 90)
	require.NoError(t, env.store.SaveAlertRule(rule))
	saveMetrics(t, env.store, "cpu.usage", 95, 96, 97)

	sub, err := env.broker.Subscribe(ctx, domain.ChannelAlerts)
	require.NoError(t, err)
	defer sub.Close()

	env.engine.Tick(ctx)

	active, err := env.store.GetActiveAlertInstance(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusActive, active.Status)
	assert.Equal(t, domain.SeverityCritical, active.Severity)
	assert.InDelta(t, 96, active.TriggerValue, 0.01) // avg(95,96,97)

	select {
	case msg := <-sub.Messages():
		var envelope alertEnvelope
		require.NoError(t, json.Unmarshal(msg.Payload, &envelope))
		assert.Equal(t, "alert_triggered", envelope.Type)
		assert.Equal(t, rule.ID, envelope.Data.RuleID)
	case <-time.After(time.Second):
		t.Fatal("expected alert on realtime channel")
	}
}

func TestEngineDoesNotDuplicateActiveAlert(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	rule := newRule("cpu.usage", domain.OperatorGT, 90)
	require.NoError(t, env.store.SaveAlertRule(rule))
	saveMetrics(t, env.store, "cpu.usage", 95)

	env.engine.Tick(ctx)
	env.engine.Tick(ctx)
	env.engine.Tick(ctx)

	instances, err := env.store.ListAlertInstances(rule.ID, 0)
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

func TestEngineResolvesAlert(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	rule := newRule("error.rate", domain.OperatorGTE, 5)
	require.NoError(t, env.store.SaveAlertRule(rule))
	saveMetrics(t, env.store, "error.rate", 10)

	env.engine.Tick(ctx)
	_, err := env.store.GetActiveAlertInstance(rule.ID)
	require.NoError(t, err)

	sub, err := env.broker.Subscribe(ctx, domain.ChannelAlerts)
	require.NoError(t, err)
	defer sub.Close()

	// 条件恢复后解除告警
	saveMetrics(t, env.store, "error.rate", 0, 0, 0, 0, 0, 0, 0, 0, 0)
	env.engine.Tick(ctx)

	_, err = env.store.GetActiveAlertInstance(rule.ID)
	assert.Error(t, err)

	select {
	case msg := <-sub.Messages():
		var envelope alertEnvelope
		require.NoError(t, json.Unmarshal(msg.Payload, &envelope))
		assert.Equal(t, "alert_resolved", envelope.Type)
		assert.NotNil(t, envelope.Data.ResolvedAt)
	case <-time.After(time.Second):
		t.Fatal("expected resolution on realtime channel")
	}
}

func TestEngineNoDataDoesNotResolve(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	// 规则有 active 实例，但窗口内没有任何样本
	rule := newRule("disk.usage", domain.OperatorGT, 80)
	require.NoError(t, env.store.SaveAlertRule(rule))

	created, err := env.store.CreateAlertInstanceIfNone(&domain.AlertInstance{
		ID:          "instance-1",
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Status:      domain.AlertStatusActive,
		TriggeredAt: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.True(t, created)

	env.engine.Tick(ctx)

	// 数据缺口不解除真实告警
	active, err := env.store.GetActiveAlertInstance(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "instance-1", active.ID)
}

func TestEngineCooldown(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	rule := newRule("req.latency", domain.OperatorGT, 100)
	rule.Cooldown = 3600
	require.NoError(t, env.store.SaveAlertRule(rule))
	saveMetrics(t, env.store, "req.latency", 500)

	// 触发并解决
	env.engine.Tick(ctx)
	active, err := env.store.GetActiveAlertInstance(rule.ID)
	require.NoError(t, err)
	require.NoError(t, env.store.ResolveAlertInstance(active.ID, time.Now().UTC()))

	// 冷却期内条件再次成立，不应重复触发
	env.engine.Tick(ctx)
	_, err = env.store.GetActiveAlertInstance(rule.ID)
	assert.Error(t, err)

	instances, err := env.store.ListAlertInstances(rule.ID, 0)
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

func TestEngineOccurrencesThreshold(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	rule := newRule("spike.metric", domain.OperatorGT, 10)
	rule.Conditions.Occurrences = 3
	require.NoError(t, env.store.SaveAlertRule(rule))

	// 样本数不足 Occurrences，不触发
	saveMetrics(t, env.store, "spike.metric", 100)
	env.engine.Tick(ctx)
	_, err := env.store.GetActiveAlertInstance(rule.ID)
	assert.Error(t, err)

	// 样本数达到后触发
	saveMetrics(t, env.store, "spike.metric", 100, 100)
	env.engine.Tick(ctx)
	_, err = env.store.GetActiveAlertInstance(rule.ID)
	assert.NoError(t, err)
}

func TestEngineTickReturnsAfterCancel(t *testing.T) {
	store := memory.NewStore(0)
	b := broker.NewMemoryBroker()
	defer b.Close()

	logger := zap.NewNop()
	notifier := NewNotifier(time.Second, 0, "test-webhook-secret", SMTPConfig{}, testMetrics, logger)
	// 单 worker、小队列，规则数量远超队列容量
	workers := pool.NewWorkerPool(1, 2, logger)
	workers.Start()
	defer workers.Stop()

	engine := &Engine{
		store:        store,
		broker:       b,
		notifier:     notifier,
		workers:      workers,
		metrics:      testMetrics,
		logger:       logger,
		tickInterval: time.Minute,
		inFlight:     make(map[string]struct{}),
	}

	for i := 0; i < 10; i++ {
		rule := newRule(fmt.Sprintf("cancel.metric.%d", i), domain.OperatorGT, 1)
		require.NoError(t, store.SaveAlertRule(rule))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		engine.Tick(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Tick did not return after context cancellation")
	}

	// 评估被放弃，没有实例产生
	for i := 0; i < 10; i++ {
		_, err := store.GetActiveAlertInstance(fmt.Sprintf("rule-cancel.metric.%d", i))
		assert.Error(t, err)
	}
}

func TestEngineSkipsDisabledRules(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	rule := newRule("off.metric", domain.OperatorGT, 1)
	rule.Enabled = false
	require.NoError(t, env.store.SaveAlertRule(rule))
	saveMetrics(t, env.store, "off.metric", 100)

	env.engine.Tick(ctx)

	_, err := env.store.GetActiveAlertInstance(rule.ID)
	assert.Error(t, err)
}
