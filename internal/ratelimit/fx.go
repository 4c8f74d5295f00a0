package ratelimit

import (
	"strings"

	"github.com/freshnest/freshnest/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		NewLocker,
		NewWebhookLimiter,
	),
)

// NewRedisClient returns nil when no address is configured; consumers
// treat a nil client as "feature disabled".
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
}
