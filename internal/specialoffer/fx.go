package specialoffer

import (
	"github.com/freshnest/freshnest/internal/specialoffer/repository"
	"github.com/freshnest/freshnest/internal/specialoffer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("specialoffer",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
