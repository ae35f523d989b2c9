package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

// WebhookProvider delivers notifications by POSTing them as JSON to a
// configured URL. Any 2xx answer counts as accepted.
type WebhookProvider struct {
	url        string
	httpClient *http.Client
}

func NewWebhookProvider(url string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *WebhookProvider) Send(ctx context.Context, n *domain.Notification) (*SendResponse, error) {
	body, err := json.Marshal(SendRequest{
		NotificationID: n.ID,
		EventID:        n.EventID,
		UserID:         n.UserID,
		Channel:        n.Channel,
		Title:          n.Title,
		Message:        n.Message,
		Priority:       n.Priority,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected provider status: %d", resp.StatusCode)
	}

	var sendResp SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &sendResp, nil
}

// compile-time check that WebhookProvider implements Provider
var _ Provider = (*WebhookProvider)(nil)
