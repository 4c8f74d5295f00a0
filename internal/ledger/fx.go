package ledger

import (
	"github.com/freshnest/freshnest/internal/ledger/repository"
	"github.com/freshnest/freshnest/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
