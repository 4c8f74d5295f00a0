package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/money"
)

var (
	ErrServiceNotFound = errors.New("service_not_found")
	ErrExtraNotFound   = errors.New("extra_service_not_found")
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrNoPriceRange    = errors.New("no_price_range_for_quantity")
)

// PricingMode selects how a service converts quantity into an amount.
type PricingMode string

const (
	// PricingModePerUnit charges UnitAmount per quantity unit.
	PricingModePerUnit PricingMode = "per_unit"
	// PricingModeStepped charges StepAmount per started step of StepSize units.
	PricingModeStepped PricingMode = "stepped"
	// PricingModeRanged charges the flat amount of the range the quantity
	// falls into.
	PricingModeRanged PricingMode = "ranged"
)

// Service is a bookable cleaning service.
type Service struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Code        string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name        string       `json:"name" gorm:"type:text;not null"`
	PricingMode PricingMode  `json:"pricing_mode" gorm:"type:text;not null"`
	UnitAmount  money.Cents  `json:"unit_amount" gorm:"not null;default:0"`
	StepSize    int64        `json:"step_size" gorm:"not null;default:0"`
	StepAmount  money.Cents  `json:"step_amount" gorm:"not null;default:0"`
	Active      bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`

	Ranges []ServiceRange `json:"ranges,omitempty" gorm:"foreignKey:ServiceID"`
}

func (Service) TableName() string { return "services" }

// ServiceRange is a flat price for a quantity band of a ranged service.
type ServiceRange struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	ServiceID   snowflake.ID `json:"service_id" gorm:"not null;index"`
	MinQuantity int64        `json:"min_quantity" gorm:"not null"`
	MaxQuantity int64        `json:"max_quantity" gorm:"not null"`
	Amount      money.Cents  `json:"amount" gorm:"not null"`
}

func (ServiceRange) TableName() string { return "service_ranges" }

// ExtraPricingMode selects how an extra service is charged.
type ExtraPricingMode string

const (
	ExtraPricingModeFlat        ExtraPricingMode = "flat"
	ExtraPricingModePerQuantity ExtraPricingMode = "per_quantity"
	ExtraPricingModePerHour     ExtraPricingMode = "per_hour"
	// ExtraPricingModeMultiplier scales the service subtotal, used for deep
	// and super-deep cleaning.
	ExtraPricingModeMultiplier ExtraPricingMode = "multiplier"
)

// ExtraService is an add-on to a booking.
type ExtraService struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	Code          string            `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name          string            `json:"name" gorm:"type:text;not null"`
	PricingMode   ExtraPricingMode  `json:"pricing_mode" gorm:"type:text;not null"`
	Amount        money.Cents       `json:"amount" gorm:"not null;default:0"`
	MultiplierBps money.BasisPoints `json:"multiplier_bps" gorm:"not null;default:0"`
	Active        bool              `json:"active" gorm:"not null;default:true"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"not null"`
}

func (ExtraService) TableName() string { return "extra_services" }

// PriceQuantity computes the line amount for a service at the given quantity.
func (s *Service) PriceQuantity(quantity int64) (money.Cents, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	switch s.PricingMode {
	case PricingModePerUnit:
		return s.UnitAmount * money.Cents(quantity), nil
	case PricingModeStepped:
		if s.StepSize <= 0 {
			return 0, ErrInvalidQuantity
		}
		steps := (quantity + s.StepSize - 1) / s.StepSize
		return s.StepAmount * money.Cents(steps), nil
	case PricingModeRanged:
		for _, r := range s.Ranges {
			if quantity >= r.MinQuantity && quantity <= r.MaxQuantity {
				return r.Amount, nil
			}
		}
		return 0, ErrNoPriceRange
	default:
		return 0, ErrServiceNotFound
	}
}

// PriceExtra computes the line amount for an extra given quantity or hours.
// Multiplier extras price to zero here; the pricing engine applies them to
// the service subtotal instead.
func (e *ExtraService) PriceExtra(quantity int64, hours int64) (money.Cents, error) {
	switch e.PricingMode {
	case ExtraPricingModeFlat:
		return e.Amount, nil
	case ExtraPricingModePerQuantity:
		if quantity <= 0 {
			return 0, ErrInvalidQuantity
		}
		return e.Amount * money.Cents(quantity), nil
	case ExtraPricingModePerHour:
		if hours <= 0 {
			return 0, ErrInvalidQuantity
		}
		return e.Amount * money.Cents(hours), nil
	case ExtraPricingModeMultiplier:
		return 0, nil
	default:
		return 0, ErrExtraNotFound
	}
}
