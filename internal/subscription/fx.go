package subscription

import (
	"github.com/freshnest/freshnest/internal/subscription/repository"
	"github.com/freshnest/freshnest/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
