package giftcard

import (
	"github.com/freshnest/freshnest/internal/giftcard/repository"
	"github.com/freshnest/freshnest/internal/giftcard/service"
	"go.uber.org/fx"
)

var Module = fx.Module("giftcard",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
