package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/money"
	orderdomain "github.com/freshnest/freshnest/internal/order/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrIntentNotFound   = errors.New("payment_intent_not_found")
	ErrAlreadyCaptured  = errors.New("payment_already_captured")
	ErrNothingToCapture = errors.New("nothing_to_capture")
	ErrRefundExceedsCaptured = errors.New("refund_exceeds_captured")
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrInvalidPayload   = errors.New("invalid_webhook_payload")
	ErrInvalidEvent     = errors.New("invalid_webhook_event")
	ErrEventIgnored     = errors.New("webhook_event_ignored")
	// ErrGatewayPending marks a processor call whose outcome is unknown
	// after a timeout. The order stays in its current status until a
	// webhook or reconciliation poll resolves it.
	ErrGatewayPending = errors.New("gateway_outcome_pending")
)

type IntentStatus string

const (
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentStatusRequiresCapture       IntentStatus = "requires_capture"
	IntentStatusProcessing            IntentStatus = "processing"
	IntentStatusSucceeded             IntentStatus = "succeeded"
	IntentStatusCanceled              IntentStatus = "canceled"
)

// Intent mirrors the processor's payment intent.
type Intent struct {
	ID           string       `json:"id"`
	Status       IntentStatus `json:"status"`
	Amount       money.Cents  `json:"amount"`
	Currency     string       `json:"currency"`
	ClientSecret string       `json:"client_secret"`
}

// CreateIntentRequest opens an authorization-only intent. The processor
// holds the amount without capturing until Capture is called.
type CreateIntentRequest struct {
	Amount         money.Cents
	Currency       string
	OrderID        snowflake.ID
	UserID         snowflake.ID
	IdempotencyKey string
}

// Gateway is the outbound processor surface. Every call carries the
// caller's context and must respect its deadline.
type Gateway interface {
	CreateAuthorization(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	// Capture settles a held authorization. Capturing an intent the
	// processor already settled returns ErrAlreadyCaptured.
	Capture(ctx context.Context, intentID string, amount money.Cents) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	Refund(ctx context.Context, intentID string, amount money.Cents, idempotencyKey string) error
	CancelIntent(ctx context.Context, intentID string) error
}

// WebhookVerifier authenticates and decodes inbound processor events.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string, now time.Time) error
	Parse(payload []byte) (*Event, error)
}

// Event is a decoded processor notification.
type Event struct {
	EventID    string
	EventType  string
	IntentID   string
	Amount     money.Cents
	Currency   string
	OccurredAt time.Time
}

const (
	EventTypeIntentSucceeded = "payment_intent.succeeded"
	EventTypeIntentFailed    = "payment_intent.payment_failed"
	EventTypeChargeRefunded  = "charge.refunded"
)

// WebhookEvent is the inbound event journal. EventID is the provider's
// identifier and the primary key, so a redelivery can never produce a
// second row.
type WebhookEvent struct {
	EventID      string         `json:"event_id" gorm:"primaryKey;type:text"`
	Provider     string         `json:"provider" gorm:"type:text;not null"`
	EventType    string         `json:"event_type" gorm:"type:text;not null"`
	IntentID     string         `json:"intent_id" gorm:"type:text;index"`
	Payload      datatypes.JSON `json:"payload"`
	IsProcessed  bool           `json:"is_processed" gorm:"not null;default:false"`
	ErrorMessage string         `json:"error_message" gorm:"type:text"`
	ReceivedAt   time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt  *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

type WebhookEventRepository interface {
	// InsertIfAbsent journals the event, reporting false when the EventID
	// was already present.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	Find(ctx context.Context, db *gorm.DB, eventID string) (*WebhookEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, eventID string, processedAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, eventID string, message string) error
	ListUnprocessed(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]WebhookEvent, error)
}

// Service is the payment lifecycle controller. It owns every transition
// that moves money or consumes a discount.
type Service interface {
	// CreateAuthorization opens an authorization-only intent for the
	// order's chargeable total. An order that already holds a pending
	// intent gets the same intent back, never a second one.
	CreateAuthorization(ctx context.Context, orderID snowflake.ID) (*Intent, error)
	// Capture settles the held authorization and, in one transaction,
	// commits the order's discount effects, the capture ledger row, and
	// the paid status.
	Capture(ctx context.Context, orderID snowflake.ID) error
	// RequestAdditionalCharge authorizes the difference between the order's
	// current quote and what the ledger shows as collected.
	RequestAdditionalCharge(ctx context.Context, orderID snowflake.ID) (*Intent, error)
	// Refund returns amount, or everything captured when amount is nil.
	Refund(ctx context.Context, orderID snowflake.ID, amount *money.Cents) error
	// Cancel releases a held authorization. Orders past capture are
	// rejected with ErrStateConflict.
	Cancel(ctx context.Context, orderID snowflake.ID) error
	// ReconcileOrder polls the processor for a stale authorization and
	// settles or releases it according to the intent's actual state.
	ReconcileOrder(ctx context.Context, orderID snowflake.ID) error
	// CommitCaptureByIntent is the webhook-driven capture path: it applies
	// the same capture transaction keyed by intent, as a no-op when the
	// order is already paid.
	CommitCaptureByIntent(ctx context.Context, intentID string) (*orderdomain.Order, error)
	// RecordRefundByIntent journals a processor-initiated refund.
	RecordRefundByIntent(ctx context.Context, intentID string, amount money.Cents) (*orderdomain.Order, error)
	// MarkAuthorizationFailed returns the order to draft after the
	// processor reports the authorization failed.
	MarkAuthorizationFailed(ctx context.Context, intentID string) (*orderdomain.Order, error)
}

// WebhookService ingests provider notifications exactly once.
type WebhookService interface {
	Ingest(ctx context.Context, payload []byte, signatureHeader string) error
	// RetryUnprocessed replays journaled events that failed processing.
	RetryUnprocessed(ctx context.Context, limit int) error
}
