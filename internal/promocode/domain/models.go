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
	ErrCodeNotFound         = errors.New("promo_code_not_found")
	ErrCodeInactive         = errors.New("promo_code_inactive")
	ErrCodeNotStarted       = errors.New("promo_code_not_started")
	ErrCodeExpired          = errors.New("promo_code_expired")
	ErrCodeExhausted        = errors.New("promo_code_exhausted")
	ErrCodeUserLimitReached = errors.New("promo_code_user_limit_reached")
	ErrCodeBelowMinimum     = errors.New("promo_code_below_minimum_order")
)

// DiscountType selects between percentage and flat-value discounts.
type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeFlat    DiscountType = "flat"
)

// PromoCode is a shareable discount code with global and per-user caps.
type PromoCode struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	Code              string            `json:"code" gorm:"type:text;not null;uniqueIndex"`
	DiscountType      DiscountType      `json:"discount_type" gorm:"type:text;not null"`
	DiscountBps       money.BasisPoints `json:"discount_bps" gorm:"not null;default:0"`
	DiscountAmount    money.Cents       `json:"discount_amount" gorm:"not null;default:0"`
	MaxUsageCount     int64             `json:"max_usage_count" gorm:"not null;default:0"`
	CurrentUsageCount int64             `json:"current_usage_count" gorm:"not null;default:0"`
	MaxUsagePerUser   int64             `json:"max_usage_per_user" gorm:"not null;default:0"`
	ValidFrom         time.Time         `json:"valid_from" gorm:"not null"`
	ValidUntil        time.Time         `json:"valid_until" gorm:"not null"`
	MinimumOrderAmount money.Cents      `json:"minimum_order_amount" gorm:"not null;default:0"`
	Active            bool              `json:"active" gorm:"not null;default:true"`
	CreatedAt         time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"not null"`
}

func (PromoCode) TableName() string { return "promo_codes" }

// DiscountOn computes the discount this code grants on the given base amount,
// capped at the base.
func (p *PromoCode) DiscountOn(base money.Cents) money.Cents {
	switch p.DiscountType {
	case DiscountTypePercent:
		return money.CapDiscount(base, money.ApplyPercent(base, p.DiscountBps))
	case DiscountTypeFlat:
		return money.CapDiscount(base, p.DiscountAmount)
	default:
		return 0
	}
}

type Repository interface {
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*PromoCode, error)
	// CountUserUsage counts captured orders by the user that consumed the code.
	CountUserUsage(ctx context.Context, db *gorm.DB, codeID, userID snowflake.ID) (int64, error)
	// Consume increments the global usage counter; it reports false when the
	// global cap is already reached, so exactly one of two concurrent
	// consumers wins a cap of one.
	Consume(ctx context.Context, db *gorm.DB, codeID snowflake.ID) (bool, error)
	// Restore decrements the usage counter; used only by the admin reset path
	// and the optional refund-restore policy.
	Restore(ctx context.Context, db *gorm.DB, codeID snowflake.ID) error
}

// Service validates promo codes and consumes them on successful capture.
type Service interface {
	// Resolve validates eligibility and returns the code with the discount it
	// would grant on the given base. Resolution never mutates state.
	Resolve(ctx context.Context, code string, userID snowflake.ID, base money.Cents, now time.Time) (*PromoCode, money.Cents, error)
	// Consume commits one usage inside the caller's transaction.
	Consume(ctx context.Context, tx *gorm.DB, codeID snowflake.ID) error
	// Restore undoes one usage inside the caller's transaction.
	Restore(ctx context.Context, tx *gorm.DB, codeID snowflake.ID) error
}
