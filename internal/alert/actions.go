package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"pulse/backend/internal/domain"
	"pulse/backend/internal/monitoring"
)

// SMTPConfig 邮件动作的外发配置
type SMTPConfig struct {
	Addr     string //  host:port
	Username string
	Password string
	From     string
}

// Notifier 告警动作执行器
//
// 动作执行是尽力而为：失败重试有限次后放弃并记录，
// 不影响告警实例的状态流转
type Notifier struct {
	httpClient    *http.Client
	webhookSecret string
	smtp          SMTPConfig
	retries       int
	metrics       *monitoring.Metrics
	logger        *zap.Logger
}

// NewNotifier 创建动作执行器
func NewNotifier(timeout time.Duration, retries int, webhookSecret string, smtpCfg SMTPConfig, metrics *monitoring.Metrics, logger *zap.Logger) *Notifier {
	return &Notifier{
		httpClient:    &http.Client{Timeout: timeout},
		webhookSecret: webhookSecret,
		smtp:          smtpCfg,
		retries:       retries,
		metrics:       metrics,
		logger:        logger,
	}
}

// Execute 执行规则配置的全部动作
func (n *Notifier) Execute(ctx context.Context, rule *domain.AlertRule, instance *domain.AlertInstance) {
	for _, action := range rule.Actions {
		var err error
		switch action.Type {
		case domain.ActionTypeWebhook:
			err = n.withRetry(ctx, func() error {
				return n.deliverWebhook(ctx, action.Endpoint, instance)
			})
		case domain.ActionTypeEmail:
			err = n.withRetry(ctx, func() error {
				return n.sendEmail(action.Endpoint, action.Template, instance)
			})
		case domain.ActionTypeLog:
			n.logAlert(instance)
		default:
			err = fmt.Errorf("unknown action type: %s", action.Type)
		}

		if err != nil {
			n.metrics.RecordAlertActionFailed(string(action.Type))
			n.logger.Error("alert action failed",
				zap.String("ruleID", rule.ID),
				zap.String("actionType", string(action.Type)),
				zap.Error(err))
		}
	}
}

// withRetry 固定间隔重试，ctx 取消时立即停止
func (n *Notifier) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second * time.Duration(attempt)):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// deliverWebhook 投递 Webhook（HMAC-SHA256 签名）
func (n *Notifier) deliverWebhook(ctx context.Context, url string, instance *domain.AlertInstance) error {
	payload, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pulse-Signature", n.sign(payload))
	req.Header.Set("X-Pulse-Alert-ID", instance.ID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// sign 生成 HMAC-SHA256 签名
func (n *Notifier) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(n.webhookSecret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// sendEmail 通过 SMTP 外发告警邮件
func (n *Notifier) sendEmail(to, template string, instance *domain.AlertInstance) error {
	if n.smtp.Addr == "" {
		return fmt.Errorf("smtp is not configured")
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(instance.Severity)), instance.RuleName)
	body := instance.Message
	if template != "" {
		body = renderTemplate(template, instance)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.smtp.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	var auth sasl.Client
	if n.smtp.Username != "" {
		auth = sasl.NewPlainClient("", n.smtp.Username, n.smtp.Password)
	}

	return smtp.SendMail(n.smtp.Addr, auth, n.smtp.From, []string{to}, &msg)
}

// logAlert 记录结构化告警日志
func (n *Notifier) logAlert(instance *domain.AlertInstance) {
	n.logger.Warn("alert triggered",
		zap.String("instanceID", instance.ID),
		zap.String("ruleID", instance.RuleID),
		zap.String("ruleName", instance.RuleName),
		zap.String("severity", string(instance.Severity)),
		zap.Float64("triggerValue", instance.TriggerValue),
		zap.String("message", instance.Message))
}

// renderTemplate 替换模板中的告警占位符
func renderTemplate(template string, instance *domain.AlertInstance) string {
	replacer := strings.NewReplacer(
		"{{rule}}", instance.RuleName,
		"{{severity}}", string(instance.Severity),
		"{{value}}", fmt.Sprintf("%g", instance.TriggerValue),
		"{{message}}", instance.Message,
		"{{triggered_at}}", instance.TriggeredAt.Format(time.RFC3339),
	)
	return replacer.Replace(template)
}
