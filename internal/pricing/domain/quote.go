package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/money"
)

var (
	// ErrDiscountRejected covers invalid, expired, and exhausted promo codes.
	ErrDiscountRejected = errors.New("discount_rejected")
	// ErrGiftCardInvalid covers unknown, unpaid, and empty gift cards.
	ErrGiftCardInvalid = errors.New("gift_card_invalid")
	// ErrOfferInvalid covers ungranted, used, and expired special offers.
	ErrOfferInvalid = errors.New("offer_invalid")
)

// LineSelection is one service the customer is booking.
type LineSelection struct {
	ServiceID snowflake.ID `json:"service_id"`
	Quantity  int64        `json:"quantity"`
}

// ExtraSelection is one add-on. Quantity and Hours are interpreted by the
// extra's pricing mode; condition-flagged extras such as deep cleaning carry
// neither and scale the service subtotal instead.
type ExtraSelection struct {
	ExtraServiceID snowflake.ID `json:"extra_service_id"`
	Quantity       int64        `json:"quantity"`
	Hours          int64        `json:"hours"`
}

// QuoteRequest carries everything needed to price an order. Pricing reads
// but never mutates, so the same request may be quoted any number of times.
type QuoteRequest struct {
	UserID       snowflake.ID     `json:"user_id"`
	Lines        []LineSelection  `json:"lines"`
	Extras       []ExtraSelection `json:"extras"`
	TipAmount    money.Cents      `json:"tip_amount"`
	PromoCode    string           `json:"promo_code"`
	GiftCardCode string           `json:"gift_card_code"`
	OfferGrantID *snowflake.ID    `json:"offer_grant_id"`

	// Committed carries discounts a captured order has already consumed.
	// When set, the code fields above are ignored: consumed discounts
	// cannot be revalidated (the promo counter moved, the card balance
	// moved), so they ride along at their committed value and produce no
	// new effect instructions.
	Committed *CommittedEffects `json:"-"`
}

// CommittedEffects is the discount snapshot of a captured order, used to
// reprice it after an edit without consuming anything twice.
type CommittedEffects struct {
	PromoDiscount  money.Cents
	OfferDiscount  money.Cents
	GiftCardAmount money.Cents
}

// LineItem is a priced service line.
type LineItem struct {
	ServiceID snowflake.ID `json:"service_id"`
	Name      string       `json:"name"`
	Quantity  int64        `json:"quantity"`
	Amount    money.Cents  `json:"amount"`
}

// ExtraItem is a priced add-on line.
type ExtraItem struct {
	ExtraServiceID snowflake.ID `json:"extra_service_id"`
	Name           string       `json:"name"`
	Amount         money.Cents  `json:"amount"`
}

// Breakdown itemizes how the chargeable total was reached.
type Breakdown struct {
	ServiceSubtotal      money.Cents `json:"service_subtotal"`
	ExtrasSubtotal       money.Cents `json:"extras_subtotal"`
	Subtotal             money.Cents `json:"subtotal"`
	SubscriptionDiscount money.Cents `json:"subscription_discount"`
	OfferDiscount        money.Cents `json:"offer_discount"`
	PromoDiscount        money.Cents `json:"promo_discount"`
	DiscountedSubtotal   money.Cents `json:"discounted_subtotal"`
	Tax                  money.Cents `json:"tax"`
	TipAmount            money.Cents `json:"tip_amount"`
	DevelopmentFee       money.Cents `json:"development_fee"`
	TotalBeforeGiftCard  money.Cents `json:"total_before_gift_card"`
	GiftCardApplied      money.Cents `json:"gift_card_applied"`
	ChargeableTotal      money.Cents `json:"chargeable_total"`
}

// Effects are the side-effect instructions a successful capture must commit
// atomically: exactly once, all or nothing. Quote only describes them.
type Effects struct {
	PromoCodeID   *snowflake.ID `json:"promo_code_id,omitempty"`
	OfferGrantID  *snowflake.ID `json:"offer_grant_id,omitempty"`
	GiftCardID    *snowflake.ID `json:"gift_card_id,omitempty"`
	GiftCardDebit money.Cents   `json:"gift_card_debit,omitempty"`
}

// Quote is a full priced order: lines, breakdown, and pending effects.
type Quote struct {
	Lines     []LineItem  `json:"lines"`
	Extras    []ExtraItem `json:"extras"`
	Breakdown Breakdown   `json:"breakdown"`
	Effects   Effects     `json:"effects"`
}

type Service interface {
	// Quote prices the request. It is pure over current database state:
	// no counters move, no balances change, no flags flip.
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
}
