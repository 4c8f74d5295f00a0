package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/money"
	pricingdomain "github.com/freshnest/freshnest/internal/pricing/domain"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound = errors.New("order_not_found")
	// ErrStateConflict rejects a transition the order's current status does
	// not allow, such as capturing twice or canceling a captured order.
	ErrStateConflict = errors.New("order_state_conflict")
	ErrEmptyOrder    = errors.New("order_has_no_lines")
)

type PaymentStatus string

const (
	// PaymentStatusDraft is an order before any authorization exists.
	PaymentStatusDraft PaymentStatus = "draft"
	// PaymentStatusAuthorizationHeld means the initial authorization is held
	// and awaiting capture.
	PaymentStatusAuthorizationHeld PaymentStatus = "authorization_held"
	PaymentStatusPaid              PaymentStatus = "paid"
	// PaymentStatusPartiallyPaid means the captured sum no longer covers the
	// order total; an additional charge is pending.
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusCanceled      PaymentStatus = "canceled"
)

// Order is the booking aggregate. Money columns snapshot the quote that was
// authorized; the payment ledger, not these columns, is authoritative for
// how much has actually moved.
type Order struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID      snowflake.ID `json:"user_id" gorm:"not null;index"`
	Currency    string       `json:"currency" gorm:"type:text;not null"`
	ServiceDate *time.Time   `json:"service_date"`

	Subtotal             money.Cents `json:"subtotal" gorm:"not null"`
	SubscriptionDiscount money.Cents `json:"subscription_discount" gorm:"not null;default:0"`
	OfferDiscount        money.Cents `json:"offer_discount" gorm:"not null;default:0"`
	PromoDiscount        money.Cents `json:"promo_discount" gorm:"not null;default:0"`
	Tax                  money.Cents `json:"tax" gorm:"not null;default:0"`
	TipAmount            money.Cents `json:"tip_amount" gorm:"not null;default:0"`
	DevelopmentFee       money.Cents `json:"development_fee" gorm:"not null;default:0"`
	GiftCardAmount       money.Cents `json:"gift_card_amount" gorm:"not null;default:0"`
	// Total is the chargeable amount after every discount and the gift card.
	Total money.Cents `json:"total" gorm:"not null"`

	PromoCodeID        *snowflake.ID `json:"promo_code_id" gorm:"index"`
	UserSpecialOfferID *snowflake.ID `json:"user_special_offer_id"`
	GiftCardID         *snowflake.ID `json:"gift_card_id"`

	PaymentStatus PaymentStatus `json:"payment_status" gorm:"type:text;not null;index"`
	// PaymentIntentID is the processor intent backing the initial
	// authorization. At most one per order.
	PaymentIntentID string `json:"payment_intent_id" gorm:"type:text;index"`
	// PendingAdditionalIntentID is the processor intent of an additional
	// charge awaiting capture, nullable when none is outstanding.
	PendingAdditionalIntentID *string    `json:"pending_additional_intent_id" gorm:"type:text;index"`
	IsAuthorizationOnly       bool       `json:"is_authorization_only" gorm:"not null;default:true"`
	PaymentCapturedAt         *time.Time `json:"payment_captured_at"`
	CanceledAt                *time.Time `json:"canceled_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`

	Items  []OrderItem  `json:"items,omitempty" gorm:"foreignKey:OrderID"`
	Extras []OrderExtra `json:"extras,omitempty" gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID   snowflake.ID `json:"order_id" gorm:"not null;index"`
	ServiceID snowflake.ID `json:"service_id" gorm:"not null"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Quantity  int64        `json:"quantity" gorm:"not null"`
	Amount    money.Cents  `json:"amount" gorm:"not null"`
}

func (OrderItem) TableName() string { return "order_items" }

type OrderExtra struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID        snowflake.ID `json:"order_id" gorm:"not null;index"`
	ExtraServiceID snowflake.ID `json:"extra_service_id" gorm:"not null"`
	Name           string       `json:"name" gorm:"type:text;not null"`
	Quantity       int64        `json:"quantity" gorm:"not null;default:0"`
	Hours          int64        `json:"hours" gorm:"not null;default:0"`
	Amount         money.Cents  `json:"amount" gorm:"not null"`
}

func (OrderExtra) TableName() string { return "order_extras" }

// Captured reports whether any capture has happened on the order.
func (o *Order) Captured() bool {
	return o.PaymentCapturedAt != nil
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, order *Order) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	// FindForUpdate locks the order row for the duration of the transaction.
	FindForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Order, error)
	FindByIntentID(ctx context.Context, db *gorm.DB, intentID string) (*Order, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	ReplaceLines(ctx context.Context, db *gorm.DB, orderID snowflake.ID, items []OrderItem, extras []OrderExtra) error
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Order, error)
	// ListStaleAuthorizations returns orders still holding an authorization
	// whose creation predates the cutoff; used by reconciliation.
	ListStaleAuthorizations(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Order, error)
}

// CreateBookingRequest is a priced booking to be placed and authorized.
type CreateBookingRequest struct {
	Quote       pricingdomain.QuoteRequest `json:"quote"`
	Currency    string                     `json:"currency"`
	ServiceDate *time.Time                 `json:"service_date"`
}

// BookingResult pairs the persisted order with the processor intent the
// customer completes payment against.
type BookingResult struct {
	Order        *Order `json:"order"`
	IntentID     string `json:"intent_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Service drives the order lifecycle from booking to cancellation.
type Service interface {
	// CreateBooking prices the request, persists the order, and opens an
	// authorization-only intent for the chargeable total.
	CreateBooking(ctx context.Context, req CreateBookingRequest) (*BookingResult, error)
	Get(ctx context.Context, id snowflake.ID) (*Order, error)
	ListForUser(ctx context.Context, userID snowflake.ID) ([]Order, error)
	// Edit reprices the order with new selections. When the order is already
	// captured and the new total exceeds what was collected, an additional
	// charge is requested for the difference.
	Edit(ctx context.Context, id snowflake.ID, req CreateBookingRequest) (*BookingResult, error)
	// Cancel is allowed while draft or authorization_held only; it releases
	// the hold. Captured orders require a refund instead.
	Cancel(ctx context.Context, id snowflake.ID) error
}
