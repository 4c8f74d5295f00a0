package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	catalogdomain "github.com/freshnest/freshnest/internal/catalog/domain"
	"github.com/freshnest/freshnest/internal/clock"
	"github.com/freshnest/freshnest/internal/config"
	giftcarddomain "github.com/freshnest/freshnest/internal/giftcard/domain"
	"github.com/freshnest/freshnest/internal/money"
	"github.com/freshnest/freshnest/internal/pricing/domain"
	promodomain "github.com/freshnest/freshnest/internal/promocode/domain"
	offerdomain "github.com/freshnest/freshnest/internal/specialoffer/domain"
	subscriptiondomain "github.com/freshnest/freshnest/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Config        config.Config
	Clock         clock.Clock
	Catalog       catalogdomain.Repository
	Subscriptions subscriptiondomain.Service
	PromoCodes    promodomain.Service
	GiftCards     giftcarddomain.Service
	Offers        offerdomain.Service
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           config.PricingConfig
	clock         clock.Clock
	catalog       catalogdomain.Repository
	subscriptions subscriptiondomain.Service
	promoCodes    promodomain.Service
	giftCards     giftcarddomain.Service
	offers        offerdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("pricing.service"),
		cfg:           p.Config.Pricing,
		clock:         p.Clock,
		catalog:       p.Catalog,
		subscriptions: p.Subscriptions,
		promoCodes:    p.PromoCodes,
		giftCards:     p.GiftCards,
		offers:        p.Offers,
	}
}

func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error) {
	now := s.clock.Now()

	quote := &domain.Quote{}
	if err := s.priceLines(ctx, req, quote); err != nil {
		return nil, err
	}

	b := &quote.Breakdown
	b.Subtotal = b.ServiceSubtotal + b.ExtrasSubtotal

	// Subscription discount applies first, on the full line-item subtotal.
	rate, err := s.subscriptions.ActiveDiscount(ctx, req.UserID, now)
	if err != nil {
		return nil, err
	}
	b.SubscriptionDiscount = money.ApplyPercent(b.Subtotal, rate)
	base := b.Subtotal - b.SubscriptionDiscount

	if req.Committed != nil {
		b.OfferDiscount = money.CapDiscount(base, req.Committed.OfferDiscount)
		b.PromoDiscount = money.CapDiscount(base-b.OfferDiscount, req.Committed.PromoDiscount)
	} else if err := s.applyOfferAndPromo(ctx, req, quote, base, now); err != nil {
		return nil, err
	}

	b.DiscountedSubtotal = b.Subtotal - b.SubscriptionDiscount - b.OfferDiscount - b.PromoDiscount
	b.DiscountedSubtotal = money.NonNegative(b.DiscountedSubtotal)

	// Tax follows the discounted subtotal. The tip and the development fee
	// are never discounted and never taxed.
	b.Tax = money.ApplyPercent(b.DiscountedSubtotal, money.BasisPoints(s.cfg.TaxRateBps))
	b.TipAmount = money.NonNegative(req.TipAmount)
	b.DevelopmentFee = money.ApplyPercent(b.Subtotal, money.BasisPoints(s.cfg.DevelopmentFeeBps))
	b.TotalBeforeGiftCard = b.DiscountedSubtotal + b.Tax + b.TipAmount + b.DevelopmentFee

	if req.Committed != nil {
		b.GiftCardApplied = money.Min(req.Committed.GiftCardAmount, b.TotalBeforeGiftCard)
	} else if err := s.applyGiftCard(ctx, req, quote); err != nil {
		return nil, err
	}
	b.ChargeableTotal = b.TotalBeforeGiftCard - b.GiftCardApplied

	return quote, nil
}

func (s *Service) priceLines(ctx context.Context, req domain.QuoteRequest, quote *domain.Quote) error {
	for _, line := range req.Lines {
		svc, err := s.catalog.FindService(ctx, s.db, line.ServiceID)
		if err != nil {
			return err
		}
		if svc == nil {
			return catalogdomain.ErrServiceNotFound
		}
		amount, err := svc.PriceQuantity(line.Quantity)
		if err != nil {
			return err
		}
		quote.Lines = append(quote.Lines, domain.LineItem{
			ServiceID: svc.ID,
			Name:      svc.Name,
			Quantity:  line.Quantity,
			Amount:    amount,
		})
		quote.Breakdown.ServiceSubtotal += amount
	}

	// Multiplier extras scale the service subtotal, so price them after
	// every service line has been summed.
	for _, sel := range req.Extras {
		extra, err := s.catalog.FindExtra(ctx, s.db, sel.ExtraServiceID)
		if err != nil {
			return err
		}
		if extra == nil {
			return catalogdomain.ErrExtraNotFound
		}

		var amount money.Cents
		if extra.PricingMode == catalogdomain.ExtraPricingModeMultiplier {
			amount = money.ApplyPercent(quote.Breakdown.ServiceSubtotal, extra.MultiplierBps)
		} else {
			amount, err = extra.PriceExtra(sel.Quantity, sel.Hours)
			if err != nil {
				return err
			}
		}
		quote.Extras = append(quote.Extras, domain.ExtraItem{
			ExtraServiceID: extra.ID,
			Name:           extra.Name,
			Amount:         amount,
		})
		quote.Breakdown.ExtrasSubtotal += amount
	}
	return nil
}

func (s *Service) applyOfferAndPromo(ctx context.Context, req domain.QuoteRequest, quote *domain.Quote, base money.Cents, now time.Time) error {
	b := &quote.Breakdown

	offerApplied := false
	if req.OfferGrantID != nil {
		grant, offer, err := s.offers.Resolve(ctx, *req.OfferGrantID, req.UserID, now)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrOfferInvalid, err)
		}
		b.OfferDiscount = money.CapDiscount(base, offer.DiscountOn(base))
		grantID := grant.ID
		quote.Effects.OfferGrantID = &grantID
		offerApplied = true
	}

	// Offer and promo are mutually exclusive unless stacking is enabled;
	// the offer wins when both are supplied.
	if req.PromoCode == "" {
		return nil
	}
	if offerApplied && !s.cfg.AllowStackingOfferAndPromo {
		return nil
	}

	promoBase := base - b.OfferDiscount
	code, discount, err := s.promoCodes.Resolve(ctx, req.PromoCode, req.UserID, promoBase, now)
	if err != nil {
		if isPromoIneligible(err) {
			return fmt.Errorf("%w: %w", domain.ErrDiscountRejected, err)
		}
		return err
	}
	b.PromoDiscount = discount
	codeID := code.ID
	quote.Effects.PromoCodeID = &codeID
	return nil
}

func (s *Service) applyGiftCard(ctx context.Context, req domain.QuoteRequest, quote *domain.Quote) error {
	if req.GiftCardCode == "" {
		return nil
	}
	card, applicable, err := s.giftCards.Resolve(ctx, req.GiftCardCode, quote.Breakdown.TotalBeforeGiftCard)
	if err != nil {
		if isGiftCardIneligible(err) {
			return fmt.Errorf("%w: %w", domain.ErrGiftCardInvalid, err)
		}
		return err
	}
	// A partial balance is applied without failing the quote.
	quote.Breakdown.GiftCardApplied = applicable
	if applicable > 0 {
		cardID := card.ID
		quote.Effects.GiftCardID = &cardID
		quote.Effects.GiftCardDebit = applicable
	}
	return nil
}

func isPromoIneligible(err error) bool {
	return errors.Is(err, promodomain.ErrCodeNotFound) ||
		errors.Is(err, promodomain.ErrCodeInactive) ||
		errors.Is(err, promodomain.ErrCodeNotStarted) ||
		errors.Is(err, promodomain.ErrCodeExpired) ||
		errors.Is(err, promodomain.ErrCodeExhausted) ||
		errors.Is(err, promodomain.ErrCodeUserLimitReached) ||
		errors.Is(err, promodomain.ErrCodeBelowMinimum)
}

func isGiftCardIneligible(err error) bool {
	return errors.Is(err, giftcarddomain.ErrCardNotFound) ||
		errors.Is(err, giftcarddomain.ErrCardUnpaid) ||
		errors.Is(err, giftcarddomain.ErrCardEmpty)
}
