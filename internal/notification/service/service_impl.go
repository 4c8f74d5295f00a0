package service

import (
	"context"
	"fmt"

	"github.com/freshnest/freshnest/internal/money"
	"github.com/freshnest/freshnest/internal/notification/domain"
	orderdomain "github.com/freshnest/freshnest/internal/order/domain"
	"github.com/freshnest/freshnest/internal/providers/email"
	"github.com/freshnest/freshnest/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Email email.Provider
	Slack slack.Provider
}

// Dispatcher fans payment transitions out to customer email and the ops
// channel. Every delivery is best effort; a failure is logged and dropped
// so it can never unwind the transition that triggered it.
type Dispatcher struct {
	log   *zap.Logger
	email email.Provider
	slack slack.Provider
}

func NewDispatcher(p Params) domain.Dispatcher {
	return &Dispatcher{
		log:   p.Log.Named("notification.dispatcher"),
		email: p.Email,
		slack: p.Slack,
	}
}

func (d *Dispatcher) PaymentCaptured(ctx context.Context, order *orderdomain.Order, amount money.Cents) {
	d.send(ctx, order, "Payment received",
		fmt.Sprintf("<p>We received your payment of %s for booking %s. See you soon!</p>",
			formatAmount(amount, order.Currency), order.ID.String()))
}

func (d *Dispatcher) AdditionalPaymentRequired(ctx context.Context, order *orderdomain.Order, amount money.Cents, paymentLink string) {
	body := fmt.Sprintf("<p>Your updated booking %s needs an additional payment of %s.</p>",
		order.ID.String(), formatAmount(amount, order.Currency))
	if paymentLink != "" {
		body += fmt.Sprintf(`<p><a href="%s">Complete your payment</a></p>`, paymentLink)
	}
	d.send(ctx, order, "Additional payment required", body)
}

func (d *Dispatcher) PaymentFailed(ctx context.Context, order *orderdomain.Order) {
	d.send(ctx, order, "Payment failed",
		fmt.Sprintf("<p>The payment for booking %s did not go through. Please try again.</p>",
			order.ID.String()))
	if err := d.slack.PostMessage(ctx, "payments", fmt.Sprintf("payment failed for order %s", order.ID.String())); err != nil {
		d.log.Warn("slack notification failed", zap.Error(err))
	}
}

func (d *Dispatcher) OfferConsumed(ctx context.Context, order *orderdomain.Order) {
	d.send(ctx, order, "Your special offer was applied",
		fmt.Sprintf("<p>Your special offer was applied to booking %s.</p>", order.ID.String()))
}

func (d *Dispatcher) PaymentReminder(ctx context.Context, order *orderdomain.Order) {
	d.send(ctx, order, "Complete your booking payment",
		fmt.Sprintf("<p>Booking %s is still waiting for payment.</p>", order.ID.String()))
}

func (d *Dispatcher) send(ctx context.Context, order *orderdomain.Order, subject string, body string) {
	// Recipient resolution is keyed by user; the identity service is not
	// part of this system, so the address alias is the user id.
	to := []string{fmt.Sprintf("user-%s@customers.freshnest.app", order.UserID.String())}
	if err := d.email.Send(ctx, to, subject, body); err != nil {
		d.log.Warn("notification delivery failed",
			zap.Int64("order_id", int64(order.ID)),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

func formatAmount(amount money.Cents, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, amount/100, amount%100)
}
