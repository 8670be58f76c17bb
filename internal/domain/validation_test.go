package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr error
	}{
		{"Valid event", Event{Type: "error", Source: "svc-a", Level: EventLevelError, Message: "boom"}, nil},
		{"Valid event without level", Event{Type: "log", Source: "svc-a"}, nil},
		{"Missing type", Event{Source: "svc-a"}, ErrEventTypeRequired},
		{"Missing source", Event{Type: "log"}, ErrEventSourceMissing},
		{"Whitespace source", Event{Type: "log", Source: "   "}, ErrEventSourceMissing},
		{"Unknown level", Event{Type: "log", Source: "svc-a", Level: "verbose"}, ErrEventLevelInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestMetricValidate(t *testing.T) {
	tests := []struct {
		name    string
		metric  Metric
		wantErr error
	}{
		{"Valid metric", Metric{Name: "cpu.usage", Value: 95, Source: "svc-a"}, nil},
		{"Valid metric with underscore", Metric{Name: "http_latency_ms", Value: 12.5, Source: "svc-a"}, nil},
		{"Missing name", Metric{Source: "svc-a"}, ErrMetricNameRequired},
		{"Name starts with digit", Metric{Name: "1cpu", Source: "svc-a"}, ErrMetricNameInvalid},
		{"Name with spaces", Metric{Name: "cpu usage", Source: "svc-a"}, ErrMetricNameInvalid},
		{"Missing source", Metric{Name: "cpu"}, ErrMetricSourceMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.metric.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestAlertRuleValidate(t *testing.T) {
	valid := AlertRule{
		Name: "high cpu",
		Conditions: AlertCondition{
			Metric:     "cpu",
			Operator:   OperatorGT,
			Threshold:  90,
			TimeWindow: 300,
			Aggregate:  AggregateAvg,
		},
		Cooldown: 600,
		Severity: SeverityCritical,
		Actions:  []AlertAction{{Type: ActionTypeWebhook, Endpoint: "https://hooks.example.com/x"}},
	}

	t.Run("合法规则通过验证", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("运算符非法", func(t *testing.T) {
		r := valid
		r.Conditions.Operator = "contains"
		assert.ErrorIs(t, r.Validate(), ErrRuleOperatorInvalid)
	})

	t.Run("窗口超出范围", func(t *testing.T) {
		r := valid
		r.Conditions.TimeWindow = 5
		assert.ErrorIs(t, r.Validate(), ErrRuleWindowInvalid)
	})

	t.Run("webhook动作缺少端点", func(t *testing.T) {
		r := valid
		r.Actions = []AlertAction{{Type: ActionTypeWebhook}}
		assert.ErrorIs(t, r.Validate(), ErrRuleActionInvalid)
	})

	t.Run("负冷却时间", func(t *testing.T) {
		r := valid
		r.Cooldown = -1
		assert.ErrorIs(t, r.Validate(), ErrRuleCooldownInvalid)
	})
}

func TestAPIKeyPermissions(t *testing.T) {
	t.Run("admin隐含所有权限", func(t *testing.T) {
		key := APIKey{Permissions: []Permission{PermissionAdmin}}
		assert.True(t, key.HasPermission(PermissionRead))
		assert.True(t, key.HasPermission(PermissionWrite))
		assert.True(t, key.HasPermission(PermissionAdmin))
	})

	t.Run("普通权限精确匹配", func(t *testing.T) {
		key := APIKey{Permissions: []Permission{PermissionRead}}
		assert.True(t, key.HasPermission(PermissionRead))
		assert.False(t, key.HasPermission(PermissionWrite))
	})

	t.Run("过期判断", func(t *testing.T) {
		now := time.Now()
		past := now.Add(-time.Hour)
		key := APIKey{ExpiresAt: &past}
		assert.True(t, key.IsExpired(now))

		key.ExpiresAt = nil
		assert.False(t, key.IsExpired(now))
	})
}

func TestChannelPermission(t *testing.T) {
	tests := []struct {
		channel string
		want    Permission
	}{
		{ChannelEvents, PermissionRead},
		{ChannelMetrics, PermissionRead},
		{ChannelAlerts, PermissionRead},
		{ChannelSystemStatus, ""},
		{"internal:debug", PermissionAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			assert.Equal(t, tt.want, ChannelPermission(tt.channel))
		})
	}
}
