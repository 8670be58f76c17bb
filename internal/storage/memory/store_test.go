package memory

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/backend/internal/domain"
	"pulse/backend/internal/storage"
)

func newTestKey(name string) *domain.APIKey {
	return &domain.APIKey{
		ID:          uuid.New().String(),
		Name:        name,
		KeyHash:     "$2a$10$hash",
		KeyDigest:   uuid.New().String(),
		KeyPrefix:   "pk_test",
		Permissions: []domain.Permission{domain.PermissionRead, domain.PermissionWrite},
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
}

// Test SaveAPIKey and digest lookup
func TestAPIKeyDigestIndex(t *testing.T) {
	store := NewStore(0)

	key := newTestKey("ingest-client")
	require.NoError(t, store.SaveAPIKey(key))

	got, err := store.GetAPIKeyByDigest(key.KeyDigest)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, key.Name, got.Name)

	_, err = store.GetAPIKeyByDigest("missing-digest")
	assert.ErrorIs(t, err, storage.ErrAPIKeyNotFound)
}

// Test UpdateAPIKeyLastUsed
func TestUpdateAPIKeyLastUsed(t *testing.T) {
	store := NewStore(0)

	key := newTestKey("dashboard")
	require.NoError(t, store.SaveAPIKey(key))
	require.Nil(t, key.LastUsedAt)

	require.NoError(t, store.UpdateAPIKeyLastUsed(key.ID))

	got, err := store.GetAPIKey(key.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)

	assert.ErrorIs(t, store.UpdateAPIKeyLastUsed("missing"), storage.ErrAPIKeyNotFound)
}

// Test returned copies do not alias internal state
func TestAPIKeyCopyIsolation(t *testing.T) {
	store := NewStore(0)

	key := newTestKey("copy-check")
	require.NoError(t, store.SaveAPIKey(key))

	got, err := store.GetAPIKey(key.ID)
	require.NoError(t, err)
	got.IsActive = false

	again, err := store.GetAPIKey(key.ID)
	require.NoError(t, err)
	assert.True(t, again.IsActive)
}

// Test event time range query
func TestListEventsByTimeRange(t *testing.T) {
	store := NewStore(0)
	now := time.Now().UTC()

	events := []*domain.Event{
		{ID: uuid.New().String(), Type: "page_view", Source: "web", Timestamp: now.Add(-2 * time.Hour)},
		{ID: uuid.New().String(), Type: "page_view", Source: "web", Timestamp: now.Add(-30 * time.Minute)},
		{ID: uuid.New().String(), Type: "error", Source: "api", Timestamp: now.Add(-5 * time.Minute)},
	}
	require.NoError(t, store.SaveEvents(events))

	got, err := store.ListEventsByTimeRange(now.Add(-time.Hour), now, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// limit 生效
	got, err = store.ListEventsByTimeRange(now.Add(-time.Hour), now, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// Test metric aggregation over a window
func TestAggregateMetrics(t *testing.T) {
	store := NewStore(0)
	now := time.Now().UTC()

	values := []float64{10, 20, 30, 40}
	for _, v := range values {
		require.NoError(t, store.SaveMetric(&domain.Metric{
			ID:        uuid.New().String(),
			Name:      "cpu.usage",
			Value:     v,
			Timestamp: now.Add(-time.Minute),
		}))
	}
	// 窗口外的样本不参与聚合
	require.NoError(t, store.SaveMetric(&domain.Metric{
		ID:        uuid.New().String(),
		Name:      "cpu.usage",
		Value:     999,
		Timestamp: now.Add(-2 * time.Hour),
	}))

	from, to := now.Add(-5*time.Minute), now

	tests := []struct {
		name string
		fn   domain.AggregateFunc
		want float64
	}{
		{"平均值", domain.AggregateAvg, 25},
		{"最小值", domain.AggregateMin, 10},
		{"最大值", domain.AggregateMax, 40},
		{"求和", domain.AggregateSum, 100},
		{"计数", domain.AggregateCount, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := store.AggregateMetrics("cpu.usage", from, to, tt.fn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Value)
			assert.Equal(t, 4, result.SampleSize)
		})
	}

	t.Run("空窗口返回零样本", func(t *testing.T) {
		result, err := store.AggregateMetrics("memory.usage", from, to, domain.AggregateAvg)
		require.NoError(t, err)
		assert.Equal(t, 0, result.SampleSize)
		assert.Zero(t, result.Value)
	})
}

// Test alert rule CRUD
func TestAlertRuleLifecycle(t *testing.T) {
	store := NewStore(0)

	rule := &domain.AlertRule{
		ID:      uuid.New().String(),
		Name:    "high-cpu",
		Enabled: true,
		Conditions: domain.AlertCondition{
			Metric:     "cpu.usage",
			Operator:   domain.OperatorGT,
			Threshold:  90,
			TimeWindow: 300,
		},
		Severity:  domain.SeverityCritical,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveAlertRule(rule))

	disabled := &domain.AlertRule{
		ID:        uuid.New().String(),
		Name:      "disk-space",
		Enabled:   false,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveAlertRule(disabled))

	all, err := store.ListAlertRules()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	enabled, err := store.ListEnabledAlertRules()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "high-cpu", enabled[0].Name)

	require.NoError(t, store.DeleteAlertRule(rule.ID))
	_, err = store.GetAlertRule(rule.ID)
	assert.ErrorIs(t, err, storage.ErrRuleNotFound)
	assert.ErrorIs(t, store.DeleteAlertRule(rule.ID), storage.ErrRuleNotFound)
}

// Test at most one active instance per rule
func TestCreateAlertInstanceIfNone(t *testing.T) {
	store := NewStore(0)
	ruleID := uuid.New().String()

	first := &domain.AlertInstance{
		ID:          uuid.New().String(),
		RuleID:      ruleID,
		RuleName:    "high-cpu",
		Status:      domain.AlertStatusActive,
		TriggeredAt: time.Now().UTC(),
	}
	created, err := store.CreateAlertInstanceIfNone(first)
	require.NoError(t, err)
	assert.True(t, created)

	// 已有 active 实例时插入被拒绝
	second := &domain.AlertInstance{
		ID:          uuid.New().String(),
		RuleID:      ruleID,
		Status:      domain.AlertStatusActive,
		TriggeredAt: time.Now().UTC(),
	}
	created, err = store.CreateAlertInstanceIfNone(second)
	require.NoError(t, err)
	assert.False(t, created)

	// 解决后可再次触发
	require.NoError(t, store.ResolveAlertInstance(first.ID, time.Now().UTC()))
	created, err = store.CreateAlertInstanceIfNone(second)
	require.NoError(t, err)
	assert.True(t, created)
}

// Test latest instance lookup for cooldown checks
func TestGetLatestAlertInstance(t *testing.T) {
	store := NewStore(0)
	ruleID := uuid.New().String()
	now := time.Now().UTC()

	_, err := store.GetLatestAlertInstance(ruleID)
	assert.ErrorIs(t, err, storage.ErrInstanceNotFound)

	old := &domain.AlertInstance{
		ID: uuid.New().String(), RuleID: ruleID,
		Status: domain.AlertStatusResolved, TriggeredAt: now.Add(-time.Hour),
	}
	created, err := store.CreateAlertInstanceIfNone(old)
	require.NoError(t, err)
	require.True(t, created)

	recent := &domain.AlertInstance{
		ID: uuid.New().String(), RuleID: ruleID,
		Status: domain.AlertStatusActive, TriggeredAt: now,
	}
	created, err = store.CreateAlertInstanceIfNone(recent)
	require.NoError(t, err)
	require.True(t, created)

	latest, err := store.GetLatestAlertInstance(ruleID)
	require.NoError(t, err)
	assert.Equal(t, recent.ID, latest.ID)

	active, err := store.GetActiveAlertInstance(ruleID)
	require.NoError(t, err)
	assert.Equal(t, recent.ID, active.ID)
}

// Test record cap trims oldest entries
func TestMaxRecordsTrim(t *testing.T) {
	store := NewStore(2)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveEvent(&domain.Event{
			ID:        uuid.New().String(),
			Type:      "tick",
			Source:    "test",
			Timestamp: now,
		}))
	}

	got, err := store.ListEventsByTimeRange(now.Add(-time.Minute), now.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
