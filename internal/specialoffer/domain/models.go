package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/money"
	"gorm.io/gorm"
)

var (
	ErrOfferNotFound        = errors.New("special_offer_not_found")
	ErrOfferInactive        = errors.New("special_offer_inactive")
	ErrOfferExpired         = errors.New("special_offer_expired")
	ErrOfferUsed            = errors.New("special_offer_already_used")
	ErrOfferNotOwned        = errors.New("special_offer_not_owned")
	ErrAlreadyGranted       = errors.New("special_offer_already_granted")
	ErrNotFirstTimeCustomer = errors.New("special_offer_not_first_time_customer")
)

type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeFlat    DiscountType = "flat"
)

// SpecialOffer is a campaign definition. Customers never redeem the offer
// directly; redemption goes through a per-user grant.
type SpecialOffer struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Name         string       `json:"name" gorm:"type:text;not null"`
	Description  string       `json:"description" gorm:"type:text"`
	DiscountType DiscountType `json:"discount_type" gorm:"type:text;not null;default:'percent'"`
	// DiscountBps is the percentage discount in basis points when
	// DiscountType is percent.
	DiscountBps    money.BasisPoints `json:"discount_bps"`
	DiscountAmount money.Cents       `json:"discount_amount"`
	// FirstTimeCustomerOnly restricts redemption to customers with no
	// prior paid order.
	FirstTimeCustomerOnly bool `json:"first_time_customer_only" gorm:"not null;default:false"`
	// ValidityDays bounds each grant: a grant expires this many days after
	// it was issued, independent of the campaign window.
	ValidityDays int        `json:"validity_days" gorm:"not null"`
	ValidFrom    *time.Time `json:"valid_from"`
	ValidUntil   *time.Time `json:"valid_until"`
	Active       bool       `json:"active" gorm:"not null;default:true"`
	CreatedAt    time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"not null"`
}

// DiscountOn returns the discount this offer grants on the given base,
// capped so it never exceeds the base.
func (o *SpecialOffer) DiscountOn(base money.Cents) money.Cents {
	switch o.DiscountType {
	case DiscountTypeFlat:
		return money.Min(o.DiscountAmount, base)
	default:
		return money.ApplyPercent(base, o.DiscountBps)
	}
}

func (SpecialOffer) TableName() string { return "special_offers" }

// UserSpecialOffer is a single-use grant of an offer to one customer.
type UserSpecialOffer struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID         snowflake.ID  `json:"user_id" gorm:"not null;index:idx_user_offers_user_offer,unique"`
	SpecialOfferID snowflake.ID  `json:"special_offer_id" gorm:"not null;index:idx_user_offers_user_offer,unique"`
	IsUsed         bool          `json:"is_used" gorm:"not null;default:false"`
	UsedOnOrderID  *snowflake.ID `json:"used_on_order_id"`
	ExpiresAt      time.Time     `json:"expires_at" gorm:"not null"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"not null"`
}

func (UserSpecialOffer) TableName() string { return "user_special_offers" }

type Repository interface {
	FindOffer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SpecialOffer, error)
	FindGrant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UserSpecialOffer, error)
	ListGrants(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]UserSpecialOffer, error)
	CreateGrant(ctx context.Context, db *gorm.DB, grant *UserSpecialOffer) error
	// Consume marks the grant used for the given order. It reports false
	// when the grant was already consumed by a concurrent request.
	Consume(ctx context.Context, db *gorm.DB, grantID, orderID snowflake.ID, now time.Time) (bool, error)
	// Restore clears the used flag, used when an order is abandoned before
	// any money moved.
	Restore(ctx context.Context, db *gorm.DB, grantID snowflake.ID, now time.Time) error
	// CountPaidOrders reports how many paid orders the user already has,
	// used for first-time-customer offers.
	CountPaidOrders(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
}

// Service validates and consumes per-user offer grants.
type Service interface {
	// Resolve validates that the grant belongs to the user, is unused and
	// unexpired, and returns it alongside its campaign definition.
	Resolve(ctx context.Context, grantID, userID snowflake.ID, now time.Time) (*UserSpecialOffer, *SpecialOffer, error)
	// Consume burns the grant inside the caller's transaction.
	Consume(ctx context.Context, tx *gorm.DB, grantID, orderID snowflake.ID, now time.Time) error
	Restore(ctx context.Context, tx *gorm.DB, grantID snowflake.ID, now time.Time) error
	// Grant issues a single-use offer to a user, expiring ValidityDays out.
	Grant(ctx context.Context, offerID, userID snowflake.ID, now time.Time) (*UserSpecialOffer, error)
	ListForUser(ctx context.Context, userID snowflake.ID) ([]UserSpecialOffer, error)
}
