package ratelimit

import (
	"context"
	"strings"

	"github.com/freshnest/freshnest/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyWebhookIngress = "webhook:ingress:"

// WebhookLimiter throttles provider webhook ingress. With no redis
// configured the limiter is disabled and every delivery is admitted.
type WebhookLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) *WebhookLimiter {
	if client == nil {
		return &WebhookLimiter{}
	}
	return &WebhookLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    25,
		burst:   100,
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *WebhookLimiter) Allow(ctx context.Context, provider string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, keyWebhookIngress+strings.TrimSpace(provider), l.rate, l.burst)
}
