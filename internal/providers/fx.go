package providers

import (
	"github.com/freshnest/freshnest/internal/config"
	"github.com/freshnest/freshnest/internal/providers/email"
	"github.com/freshnest/freshnest/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	fx.Provide(func(cfg config.Config) slack.Provider {
		if cfg.SlackWebhookURL == "" {
			return &slack.NoOpProvider{}
		}
		return slack.NewWebhook(cfg.SlackWebhookURL)
	}),
)
