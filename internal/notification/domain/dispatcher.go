package domain

import (
	"context"

	"github.com/freshnest/freshnest/internal/money"
	orderdomain "github.com/freshnest/freshnest/internal/order/domain"
)

// Dispatcher delivers customer-facing notifications. Calls are
// fire-and-forget: a delivery failure is logged by the implementation and
// never surfaces to the payment path that triggered it.
type Dispatcher interface {
	PaymentCaptured(ctx context.Context, order *orderdomain.Order, amount money.Cents)
	AdditionalPaymentRequired(ctx context.Context, order *orderdomain.Order, amount money.Cents, paymentLink string)
	PaymentFailed(ctx context.Context, order *orderdomain.Order)
	OfferConsumed(ctx context.Context, order *orderdomain.Order)
	PaymentReminder(ctx context.Context, order *orderdomain.Order)
}
