package payment

import (
	"github.com/freshnest/freshnest/internal/payment/gateway/stripe"
	"github.com/freshnest/freshnest/internal/payment/repository"
	"github.com/freshnest/freshnest/internal/payment/service"
	"github.com/freshnest/freshnest/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(
		stripe.NewGateway,
		stripe.NewVerifier,
		repository.Provide,
		service.NewService,
		webhook.NewService,
	),
)
