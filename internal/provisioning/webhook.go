package provisioning

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier posts terminal provisioning outcomes to a configured
// endpoint so registration/admin flows can react asynchronously. Best
// effort: delivery failures are logged and never affect the saga outcome.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{client: client, url: url, logger: logger}
}

var _ Notifier = (*WebhookNotifier)(nil)

// webhookPayload deliberately omits schema names and SQL detail.
type webhookPayload struct {
	TenantID  string `json:"tenant_id,omitempty"`
	Subdomain string `json:"subdomain,omitempty"`
	Trigger   string `json:"trigger"`
	Stage     string `json:"stage"`
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
}

func (n *WebhookNotifier) ProvisioningFinished(ctx context.Context, attempt Attempt, provErr error) {
	payload := webhookPayload{
		Trigger:   string(attempt.Trigger),
		Stage:     string(attempt.Stage),
		Success:   provErr == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if provErr == nil {
		payload.TenantID = attempt.TenantID
		payload.Subdomain = attempt.Subdomain
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.url)
	if err != nil {
		n.logger.Warn("Provisioning webhook delivery failed",
			zap.String("tenant_id", attempt.TenantID),
			zap.Error(err),
		)
		return
	}
	if resp.IsError() {
		n.logger.Warn("Provisioning webhook rejected",
			zap.String("tenant_id", attempt.TenantID),
			zap.Int("status", resp.StatusCode()),
		)
	}
}
