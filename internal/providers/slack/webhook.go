package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// WebhookProvider posts messages through a Slack incoming webhook.
type WebhookProvider struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *WebhookProvider {
	return &WebhookProvider{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *WebhookProvider) PostMessage(ctx context.Context, channelID string, message string) error {
	body, err := json.Marshal(map[string]string{
		"channel": channelID,
		"text":    message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.New("slack: webhook responded with status " + strconv.Itoa(resp.StatusCode))
	}
	return nil
}
