package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/freshnest/freshnest/internal/clock"
	"github.com/freshnest/freshnest/internal/money"
	orderdomain "github.com/freshnest/freshnest/internal/order/domain"
	orderrepo "github.com/freshnest/freshnest/internal/order/repository"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubPayments struct {
	mu         sync.Mutex
	reconciled []snowflake.ID
}

func (p *stubPayments) CreateAuthorization(ctx context.Context, orderID snowflake.ID) (*paymentdomain.Intent, error) {
	return nil, nil
}

func (p *stubPayments) Capture(ctx context.Context, orderID snowflake.ID) error { return nil }

func (p *stubPayments) RequestAdditionalCharge(ctx context.Context, orderID snowflake.ID) (*paymentdomain.Intent, error) {
	return nil, nil
}

func (p *stubPayments) Refund(ctx context.Context, orderID snowflake.ID, amount *money.Cents) error {
	return nil
}

func (p *stubPayments) Cancel(ctx context.Context, orderID snowflake.ID) error { return nil }

func (p *stubPayments) ReconcileOrder(ctx context.Context, orderID snowflake.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconciled = append(p.reconciled, orderID)
	return nil
}

func (p *stubPayments) CommitCaptureByIntent(ctx context.Context, intentID string) (*orderdomain.Order, error) {
	return nil, nil
}

func (p *stubPayments) RecordRefundByIntent(ctx context.Context, intentID string, amount money.Cents) (*orderdomain.Order, error) {
	return nil, nil
}

func (p *stubPayments) MarkAuthorizationFailed(ctx context.Context, intentID string) (*orderdomain.Order, error) {
	return nil, nil
}

type stubWebhooks struct {
	mu      sync.Mutex
	retries int
}

func (w *stubWebhooks) Ingest(ctx context.Context, payload []byte, signatureHeader string) error {
	return nil
}

func (w *stubWebhooks) RetryUnprocessed(ctx context.Context, limit int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retries++
	return nil
}

type stubNotifier struct {
	mu        sync.Mutex
	reminders []snowflake.ID
}

func (n *stubNotifier) PaymentCaptured(ctx context.Context, order *orderdomain.Order, amount money.Cents) {
}

func (n *stubNotifier) AdditionalPaymentRequired(ctx context.Context, order *orderdomain.Order, amount money.Cents, paymentLink string) {
}

func (n *stubNotifier) PaymentFailed(ctx context.Context, order *orderdomain.Order) {}

func (n *stubNotifier) OfferConsumed(ctx context.Context, order *orderdomain.Order) {}

func (n *stubNotifier) PaymentReminder(ctx context.Context, order *orderdomain.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, order.ID)
}

func seedHeldOrder(t *testing.T, db *gorm.DB, node *snowflake.Node, updatedAt time.Time) snowflake.ID {
	t.Helper()
	order := &orderdomain.Order{
		ID:              node.Generate(),
		UserID:          node.Generate(),
		Currency:        "USD",
		Subtotal:        10000,
		Total:           10000,
		PaymentStatus:   orderdomain.PaymentStatusAuthorizationHeld,
		PaymentIntentID: "pi_" + node.Generate().String(),
		CreatedAt:       updatedAt,
		UpdatedAt:       updatedAt,
	}
	require.NoError(t, db.Create(order).Error)
	// gorm refreshes updated_at on create; pin the stale timestamp.
	require.NoError(t, db.Model(order).UpdateColumn("updated_at", updatedAt).Error)
	return order.ID
}

func TestRunOnceReconcilesOnlyStaleAuthorizations(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&orderdomain.Order{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	payments := &stubPayments{}
	webhooks := &stubWebhooks{}
	notifier := &stubNotifier{}

	stale := seedHeldOrder(t, db, node, fc.Now().Add(-time.Hour))
	seedHeldOrder(t, db, node, fc.Now().Add(-time.Minute))

	s, err := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fc,
		Orders:   orderrepo.Provide(),
		Payments: payments,
		Webhooks: webhooks,
		Notifier: notifier,
	})
	require.NoError(t, err)

	s.RunOnce(context.Background())

	require.Equal(t, []snowflake.ID{stale}, payments.reconciled)
	require.Equal(t, 1, webhooks.retries)
	// Neither hold is older than the one-day reminder threshold.
	require.Empty(t, notifier.reminders)
}

func TestRunOnceSendsRemindersForOldHolds(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&orderdomain.Order{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	payments := &stubPayments{}
	webhooks := &stubWebhooks{}
	notifier := &stubNotifier{}

	old := seedHeldOrder(t, db, node, fc.Now().Add(-48*time.Hour))

	s, err := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fc,
		Orders:   orderrepo.Provide(),
		Payments: payments,
		Webhooks: webhooks,
		Notifier: notifier,
	})
	require.NoError(t, err)

	s.RunOnce(context.Background())

	require.Equal(t, []snowflake.ID{old}, notifier.reminders)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
