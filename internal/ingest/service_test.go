package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse/backend/internal/broker"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/monitoring"
	"pulse/backend/internal/storage/memory"
)

// promauto 指标注册到默认注册表，整个测试包共用一个实例
var testMetrics = monitoring.NewMetrics()

type testEnv struct {
	svc    *Service
	store  *memory.Store
	broker *broker.MemoryBroker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore(0)
	b := broker.NewMemoryBroker()
	t.Cleanup(func() { b.Close() })

	return &testEnv{
		svc:    NewService(store, b, testMetrics, zap.NewNop()),
		store:  store,
		broker: b,
	}
}

var testMeta = RequestMeta{
	APIKeyID:  "key-1",
	IP:        "203.0.113.7",
	UserAgent: "pulse-sdk/1.0",
}

func TestIngestEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("摄入成功并补齐服务端字段", func(t *testing.T) {
		event := &domain.Event{
			Type:      "page_view",
			Source:    "web",
			Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), // 客户端时间戳被覆盖
			IP:        "10.0.0.1",                                  // 客户端IP被覆盖
		}
		saved, err := env.svc.IngestEvent(ctx, event, testMeta)
		require.NoError(t, err)

		assert.NotEmpty(t, saved.ID)
		assert.Equal(t, "203.0.113.7", saved.IP)
		assert.Equal(t, "pulse-sdk/1.0", saved.UserAgent)
		assert.Equal(t, "key-1", saved.APIKeyID)
		assert.Equal(t, domain.EventLevelInfo, saved.Level)
		assert.WithinDuration(t, time.Now().UTC(), saved.Timestamp, time.Second)
	})

	t.Run("校验失败被拒绝", func(t *testing.T) {
		_, err := env.svc.IngestEvent(ctx, &domain.Event{Source: "web"}, testMeta)
		assert.ErrorIs(t, err, domain.ErrEventTypeRequired)
	})

	t.Run("摄入后推向实时频道", func(t *testing.T) {
		sub, err := env.broker.Subscribe(ctx, domain.ChannelEvents)
		require.NoError(t, err)
		defer sub.Close()

		_, err = env.svc.IngestEvent(ctx, &domain.Event{Type: "error", Source: "api"}, testMeta)
		require.NoError(t, err)

		select {
		case msg := <-sub.Messages():
			var envelope struct {
				Type string       `json:"type"`
				Data domain.Event `json:"data"`
			}
			require.NoError(t, json.Unmarshal(msg.Payload, &envelope))
			assert.Equal(t, "event", envelope.Type)
			assert.Equal(t, "error", envelope.Data.Type)
		case <-time.After(time.Second):
			t.Fatal("expected event on realtime channel")
		}
	})
}

func TestIngestEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("批量摄入成功", func(t *testing.T) {
		events := []*domain.Event{
			{Type: "page_view", Source: "web"},
			{Type: "click", Source: "web"},
		}
		saved, err := env.svc.IngestEvents(ctx, events, testMeta)
		require.NoError(t, err)
		assert.Len(t, saved, 2)
	})

	t.Run("任意一条校验失败整批拒绝", func(t *testing.T) {
		events := []*domain.Event{
			{Type: "page_view", Source: "web"},
			{Source: "web"}, // 缺少类型
		}
		_, err := env.svc.IngestEvents(ctx, events, testMeta)
		assert.ErrorIs(t, err, domain.ErrEventTypeRequired)

		// 整批拒绝时第一条也未写入
		from := time.Now().UTC().Add(-time.Minute)
		to := time.Now().UTC().Add(time.Minute)
		stored, err := env.store.ListEventsByTimeRange(from, to, 0)
		require.NoError(t, err)
		assert.Len(t, stored, 2) // 只有上个子测试写入的两条
	})

	t.Run("超出批大小上限被拒绝", func(t *testing.T) {
		events := make([]*domain.Event, domain.MaxBatchSize+1)
		for i := range events {
			events[i] = &domain.Event{Type: "tick", Source: "test"}
		}
		_, err := env.svc.IngestEvents(ctx, events, testMeta)
		assert.ErrorIs(t, err, domain.ErrBatchTooLarge)
	})

	t.Run("空批被拒绝", func(t *testing.T) {
		_, err := env.svc.IngestEvents(ctx, nil, testMeta)
		assert.Error(t, err)
	})
}

func TestIngestMetric(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("摄入成功", func(t *testing.T) {
		metric := &domain.Metric{Name: "cpu.usage", Value: 73.5, Source: "host-1"}
		saved, err := env.svc.IngestMetric(ctx, metric, testMeta)
		require.NoError(t, err)

		assert.NotEmpty(t, saved.ID)
		assert.Equal(t, "key-1", saved.APIKeyID)
	})

	t.Run("非法指标名被拒绝", func(t *testing.T) {
		metric := &domain.Metric{Name: "9bad name!", Value: 1, Source: "host-1"}
		_, err := env.svc.IngestMetric(ctx, metric, testMeta)
		assert.ErrorIs(t, err, domain.ErrMetricNameInvalid)
	})

	t.Run("摄入后推向指标频道", func(t *testing.T) {
		sub, err := env.broker.Subscribe(ctx, domain.ChannelMetrics)
		require.NoError(t, err)
		defer sub.Close()

		_, err = env.svc.IngestMetric(ctx, &domain.Metric{Name: "mem.used", Value: 1, Source: "host-1"}, testMeta)
		require.NoError(t, err)

		select {
		case msg := <-sub.Messages():
			assert.Equal(t, domain.ChannelMetrics, msg.Channel)
		case <-time.After(time.Second):
			t.Fatal("expected metric on realtime channel")
		}
	})
}

func TestIngestMetricsBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	metrics := []*domain.Metric{
		{Name: "cpu.usage", Value: 10, Source: "host-1"},
		{Name: "cpu.usage", Value: 20, Source: "host-2"},
		{Name: "mem.used", Value: 512, Source: "host-1"},
	}
	saved, err := env.svc.IngestMetrics(ctx, metrics, testMeta)
	require.NoError(t, err)
	assert.Len(t, saved, 3)

	from := time.Now().UTC().Add(-time.Minute)
	to := time.Now().UTC().Add(time.Minute)
	stored, err := env.store.ListMetricsByTimeRange("cpu.usage", from, to, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}
