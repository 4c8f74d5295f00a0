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
	ErrTierNotFound = errors.New("subscription_tier_not_found")
)

// SubscriptionStatus is the lifecycle state of a customer subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
)

// Tier defines a recurring-cleaning plan and the discount it grants.
type Tier struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey"`
	Code        string            `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name        string            `json:"name" gorm:"type:text;not null"`
	DiscountBps money.BasisPoints `json:"discount_bps" gorm:"not null;default:0"`
	Active      bool              `json:"active" gorm:"not null;default:true"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null"`
}

func (Tier) TableName() string { return "subscription_tiers" }

// Subscription links a user to a tier for a period.
type Subscription struct {
	ID        snowflake.ID       `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID       `json:"user_id" gorm:"not null;index"`
	TierID    snowflake.ID       `json:"tier_id" gorm:"not null"`
	Status    SubscriptionStatus `json:"status" gorm:"type:text;not null;index"`
	StartAt   time.Time          `json:"start_at" gorm:"not null"`
	EndedAt   *time.Time         `json:"ended_at"`
	CreatedAt time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time          `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

type Repository interface {
	ActiveForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) (*Subscription, *Tier, error)
}

// Service resolves the subscription discount for an order. Resolution is
// read-only; nothing is consumed on capture.
type Service interface {
	// ActiveDiscount returns the discount rate of the user's active tier, or
	// zero when no active subscription applies.
	ActiveDiscount(ctx context.Context, userID snowflake.ID, now time.Time) (money.BasisPoints, error)
}
