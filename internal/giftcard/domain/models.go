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
	ErrCardNotFound     = errors.New("gift_card_not_found")
	ErrCardUnpaid       = errors.New("gift_card_unpaid")
	ErrCardEmpty        = errors.New("gift_card_empty")
	ErrInvalidAmount    = errors.New("gift_card_invalid_amount")
	// ErrBalanceConflict means the balance moved concurrently below the
	// requested debit; callers must re-quote instead of partially debiting.
	ErrBalanceConflict = errors.New("gift_card_balance_conflict")
)

// CodeLength is the fixed length of generated gift card codes.
const CodeLength = 16

// GiftCard is a prepaid balance redeemable against orders. A card purchased
// but not yet paid for holds its value but cannot be spent.
type GiftCard struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	Code              string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	OriginalAmount    money.Cents  `json:"original_amount" gorm:"not null"`
	CurrentBalance    money.Cents  `json:"current_balance" gorm:"not null"`
	IsPaid            bool         `json:"is_paid" gorm:"not null;default:false"`
	PaidAt            *time.Time   `json:"paid_at"`
	PurchasedByUserID snowflake.ID `json:"purchased_by_user_id" gorm:"not null;index"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

func (GiftCard) TableName() string { return "gift_cards" }

// GiftCardUsage is the append-only debit ledger. The balance is always
// reconstructable as OriginalAmount minus the sum of AmountUsed.
type GiftCardUsage struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	GiftCardID        snowflake.ID `json:"gift_card_id" gorm:"not null;index"`
	OrderID           snowflake.ID `json:"order_id" gorm:"not null;index"`
	AmountUsed        money.Cents  `json:"amount_used" gorm:"not null"`
	BalanceAfterUsage money.Cents  `json:"balance_after_usage" gorm:"not null"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
}

func (GiftCardUsage) TableName() string { return "gift_card_usages" }

type Repository interface {
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*GiftCard, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GiftCard, error)
	// Debit atomically decrements the balance and returns the balance after
	// the debit. It reports ErrBalanceConflict when the balance no longer
	// covers the amount.
	Debit(ctx context.Context, db *gorm.DB, cardID snowflake.ID, amount money.Cents) (money.Cents, error)
	Credit(ctx context.Context, db *gorm.DB, cardID snowflake.ID, amount money.Cents) error
	InsertUsage(ctx context.Context, db *gorm.DB, usage *GiftCardUsage) error
	ListUsages(ctx context.Context, db *gorm.DB, cardID snowflake.ID) ([]GiftCardUsage, error)
	Create(ctx context.Context, db *gorm.DB, card *GiftCard) error
	MarkPaid(ctx context.Context, db *gorm.DB, cardID snowflake.ID, paidAt time.Time) error
}

// Service resolves and debits gift cards.
type Service interface {
	// Resolve validates the card and returns it with the amount it can cover
	// of the remaining total: the card's balance or the remainder, whichever
	// is smaller. Resolution never mutates state.
	Resolve(ctx context.Context, code string, remaining money.Cents) (*GiftCard, money.Cents, error)
	// Debit commits the balance decrement and its usage row as one atomic
	// pair inside the caller's transaction.
	Debit(ctx context.Context, tx *gorm.DB, cardID, orderID snowflake.ID, amount money.Cents) error
	// DebitUpTo takes as much of amount as the current balance allows and
	// returns what was actually debited. A zero take is not an error.
	DebitUpTo(ctx context.Context, tx *gorm.DB, cardID, orderID snowflake.ID, amount money.Cents) (money.Cents, error)
	// Credit restores balance; used only by the optional refund-restore policy.
	Credit(ctx context.Context, tx *gorm.DB, cardID snowflake.ID, amount money.Cents) error
	// Purchase creates an unpaid card the customer still has to pay for.
	Purchase(ctx context.Context, userID snowflake.ID, amount money.Cents) (*GiftCard, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, cardID snowflake.ID, paidAt time.Time) error
	Lookup(ctx context.Context, code string) (*GiftCard, error)
}
