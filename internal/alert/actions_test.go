package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse/backend/internal/domain"
)

const testWebhookSecret = "actions-test-webhook-secret"

func newTestNotifier(retries int) *Notifier {
	return NewNotifier(time.Second, retries, testWebhookSecret, SMTPConfig{}, testMetrics, zap.NewNop())
}

func testInstance() *domain.AlertInstance {
	return &domain.AlertInstance{
		ID:           "instance-1",
		RuleID:       "rule-1",
		RuleName:     "high cpu",
		Status:       domain.AlertStatusActive,
		Severity:     domain.SeverityCritical,
		TriggerValue: 97.5,
		Message:      "cpu.usage(avg) over 300s is 97.5 (gt 90)",
		TriggeredAt:  time.Now().UTC(),
	}
}

func TestWebhookDelivery(t *testing.T) {
	t.Run("投递载荷并携带签名", func(t *testing.T) {
		var gotBody []byte
		var gotSignature, gotAlertID string

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotBody, _ = io.ReadAll(r.Body)
			gotSignature = r.Header.Get("X-Pulse-Signature")
			gotAlertID = r.Header.Get("X-Pulse-Alert-ID")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		notifier := newTestNotifier(0)
		instance := testInstance()
		rule := &domain.AlertRule{
			ID:      "rule-1",
			Actions: []domain.AlertAction{{Type: domain.ActionTypeWebhook, Endpoint: server.URL}},
		}

		notifier.Execute(context.Background(), rule, instance)

		var delivered domain.AlertInstance
		require.NoError(t, json.Unmarshal(gotBody, &delivered))
		assert.Equal(t, instance.ID, delivered.ID)
		assert.Equal(t, instance.ID, gotAlertID)

		mac := hmac.New(sha256.New, []byte(testWebhookSecret))
		mac.Write(gotBody)
		assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSignature)
	})

	t.Run("失败后重试", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		notifier := newTestNotifier(2)
		rule := &domain.AlertRule{
			ID:      "rule-1",
			Actions: []domain.AlertAction{{Type: domain.ActionTypeWebhook, Endpoint: server.URL}},
		}

		notifier.Execute(context.Background(), rule, testInstance())

		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("上下文取消停止重试", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			cancel() // 首次投递失败后取消，不应再有后续尝试
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		notifier := newTestNotifier(5)
		err := notifier.withRetry(ctx, func() error {
			return notifier.deliverWebhook(ctx, server.URL, testInstance())
		})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestRenderTemplate(t *testing.T) {
	instance := testInstance()
	got := renderTemplate("{{severity}}: {{rule}} value={{value}}", instance)
	assert.Equal(t, "critical: high cpu value=97.5", got)
}

func TestEmailWithoutSMTPConfig(t *testing.T) {
	notifier := newTestNotifier(0)
	err := notifier.sendEmail("ops@example.com", "", testInstance())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp is not configured")
}
