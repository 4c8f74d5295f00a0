package promocode

import (
	"github.com/freshnest/freshnest/internal/promocode/repository"
	"github.com/freshnest/freshnest/internal/promocode/service"
	"go.uber.org/fx"
)

var Module = fx.Module("promocode.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
