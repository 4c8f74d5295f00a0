package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/money"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentType string

const (
	PaymentTypeAuthorization    PaymentType = "authorization"
	PaymentTypeCapture          PaymentType = "capture"
	PaymentTypeAdditionalCharge PaymentType = "additional_charge"
	PaymentTypeRefund           PaymentType = "refund"
)

// PaymentRecord is one money movement on an order. Rows are append only;
// corrections are new rows, never updates.
type PaymentRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrderID         snowflake.ID   `json:"order_id" gorm:"not null;index"`
	PaymentType     PaymentType    `json:"payment_type" gorm:"type:text;not null"`
	Amount          money.Cents    `json:"amount" gorm:"not null"`
	Currency        string         `json:"currency" gorm:"type:text;not null"`
	PaymentIntentID string         `json:"payment_intent_id" gorm:"type:text;index"`
	Metadata        datatypes.JSON `json:"metadata"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
}

func (PaymentRecord) TableName() string { return "payment_history" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *PaymentRecord) error
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]PaymentRecord, error)
	// SumByType totals the amounts of one movement type for an order.
	SumByType(ctx context.Context, db *gorm.DB, orderID snowflake.ID, t PaymentType) (money.Cents, error)
}

// Service is the append-only payment history for orders.
type Service interface {
	Append(ctx context.Context, tx *gorm.DB, record *PaymentRecord) error
	ListByOrder(ctx context.Context, orderID snowflake.ID) ([]PaymentRecord, error)
	// SumCaptured totals capture and additional_charge rows.
	SumCaptured(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (money.Cents, error)
	SumRefunded(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (money.Cents, error)
}
