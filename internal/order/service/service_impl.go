package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/clock"
	"github.com/freshnest/freshnest/internal/config"
	"github.com/freshnest/freshnest/internal/order/domain"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
	pricingdomain "github.com/freshnest/freshnest/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Clock    clock.Clock
	GenID    *snowflake.Node
	Repo     domain.Repository
	Pricing  pricingdomain.Service
	Payments paymentdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      config.Config
	clock    clock.Clock
	genID    *snowflake.Node
	repo     domain.Repository
	pricing  pricingdomain.Service
	payments paymentdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("order.service"),
		cfg:      p.Config,
		clock:    p.Clock,
		genID:    p.GenID,
		repo:     p.Repo,
		pricing:  p.Pricing,
		payments: p.Payments,
	}
}

func (s *Service) CreateBooking(ctx context.Context, req domain.CreateBookingRequest) (*domain.BookingResult, error) {
	if len(req.Quote.Lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	quote, err := s.pricing.Quote(ctx, req.Quote)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	currency := req.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}

	order := &domain.Order{
		ID:          s.genID.Generate(),
		UserID:      req.Quote.UserID,
		Currency:    currency,
		ServiceDate: req.ServiceDate,

		Subtotal:             quote.Breakdown.Subtotal,
		SubscriptionDiscount: quote.Breakdown.SubscriptionDiscount,
		OfferDiscount:        quote.Breakdown.OfferDiscount,
		PromoDiscount:        quote.Breakdown.PromoDiscount,
		Tax:                  quote.Breakdown.Tax,
		TipAmount:            quote.Breakdown.TipAmount,
		DevelopmentFee:       quote.Breakdown.DevelopmentFee,
		GiftCardAmount:       quote.Breakdown.GiftCardApplied,
		Total:                quote.Breakdown.ChargeableTotal,

		PromoCodeID:        quote.Effects.PromoCodeID,
		UserSpecialOfferID: quote.Effects.OfferGrantID,
		GiftCardID:         quote.Effects.GiftCardID,

		PaymentStatus:       domain.PaymentStatusDraft,
		IsAuthorizationOnly: true,
		CreatedAt:           now,
		UpdatedAt:           now,

		Items:  s.buildItems(0, quote),
		Extras: s.buildExtras(0, quote, req.Quote.Extras),
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	for i := range order.Extras {
		order.Extras[i].OrderID = order.ID
	}

	if err := s.repo.Create(ctx, s.db, order); err != nil {
		return nil, err
	}

	intent, err := s.payments.CreateAuthorization(ctx, order.ID)
	if err != nil {
		// The order stays in draft; the customer can retry payment
		// without rebooking.
		s.log.Warn("authorization failed after booking",
			zap.Int64("order_id", int64(order.ID)),
			zap.Error(err),
		)
		return nil, err
	}

	placed, err := s.repo.Find(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	return &domain.BookingResult{
		Order:        placed,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListForUser(ctx context.Context, userID snowflake.ID) ([]domain.Order, error) {
	return s.repo.ListByUser(ctx, s.db, userID)
}

func (s *Service) Edit(ctx context.Context, id snowflake.ID, req domain.CreateBookingRequest) (*domain.BookingResult, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch order.PaymentStatus {
	case domain.PaymentStatusCanceled, domain.PaymentStatusRefunded:
		return nil, domain.ErrStateConflict
	}
	if len(req.Quote.Lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	// Reprice with the caller's selections but the original customer.
	quoteReq := req.Quote
	quoteReq.UserID = order.UserID
	if order.Captured() {
		// Consumed discounts cannot be revalidated; they ride along at
		// the value the capture committed.
		quoteReq.PromoCode = ""
		quoteReq.GiftCardCode = ""
		quoteReq.OfferGrantID = nil
		quoteReq.Committed = &pricingdomain.CommittedEffects{
			PromoDiscount:  order.PromoDiscount,
			OfferDiscount:  order.OfferDiscount,
			GiftCardAmount: order.GiftCardAmount,
		}
	}

	quote, err := s.pricing.Quote(ctx, quoteReq)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	items := s.buildItems(order.ID, quote)
	extras := s.buildExtras(order.ID, quote, quoteReq.Extras)

	fields := map[string]any{
		"subtotal":              quote.Breakdown.Subtotal,
		"subscription_discount": quote.Breakdown.SubscriptionDiscount,
		"offer_discount":        quote.Breakdown.OfferDiscount,
		"promo_discount":        quote.Breakdown.PromoDiscount,
		"tax":                   quote.Breakdown.Tax,
		"tip_amount":            quote.Breakdown.TipAmount,
		"development_fee":       quote.Breakdown.DevelopmentFee,
		"gift_card_amount":      quote.Breakdown.GiftCardApplied,
		"total":                 quote.Breakdown.ChargeableTotal,
		"updated_at":            now,
	}
	if !order.Captured() {
		// Effect identity follows the re-quote while nothing is consumed
		// yet; a dropped code clears its column.
		fields["promo_code_id"] = quote.Effects.PromoCodeID
		fields["user_special_offer_id"] = quote.Effects.OfferGrantID
		fields["gift_card_id"] = quote.Effects.GiftCardID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.ReplaceLines(ctx, tx, order.ID, items, extras); err != nil {
			return err
		}
		return s.repo.Update(ctx, tx, order.ID, fields)
	})
	if err != nil {
		return nil, err
	}

	result := &domain.BookingResult{}
	if order.Captured() {
		intent, err := s.payments.RequestAdditionalCharge(ctx, order.ID)
		if err != nil && !errors.Is(err, paymentdomain.ErrNothingToCapture) {
			return nil, err
		}
		if intent != nil {
			result.IntentID = intent.ID
			result.ClientSecret = intent.ClientSecret
		}
	}

	updated, err := s.repo.Find(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	result.Order = updated
	return result, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.payments.Cancel(ctx, id)
}

func (s *Service) buildItems(orderID snowflake.ID, quote *pricingdomain.Quote) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, domain.OrderItem{
			ID:        s.genID.Generate(),
			OrderID:   orderID,
			ServiceID: line.ServiceID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			Amount:    line.Amount,
		})
	}
	return items
}

func (s *Service) buildExtras(orderID snowflake.ID, quote *pricingdomain.Quote, selections []pricingdomain.ExtraSelection) []domain.OrderExtra {
	extras := make([]domain.OrderExtra, 0, len(quote.Extras))
	for i, extra := range quote.Extras {
		row := domain.OrderExtra{
			ID:             s.genID.Generate(),
			OrderID:        orderID,
			ExtraServiceID: extra.ExtraServiceID,
			Name:           extra.Name,
			Amount:         extra.Amount,
		}
		if i < len(selections) {
			row.Quantity = selections[i].Quantity
			row.Hours = selections[i].Hours
		}
		extras = append(extras, row)
	}
	return extras
}
