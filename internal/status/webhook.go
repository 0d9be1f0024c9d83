package status

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookNotifier 把工位状态POST到看板服务的HTTP回调地址
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier 创建看板回调通知器
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1)

	return &WebhookNotifier{
		client: client,
		url:    url,
	}
}

// Notify 推送一条状态
func (w *WebhookNotifier) Notify(ctx context.Context, st StationStatus) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(st).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to post station status: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("dashboard webhook returned status %d", resp.StatusCode())
	}
	return nil
}
