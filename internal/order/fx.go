package order

import (
	"github.com/freshnest/freshnest/internal/order/repository"
	"github.com/freshnest/freshnest/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
