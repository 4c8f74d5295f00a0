package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/freshnest/freshnest/internal/clock"
	"github.com/freshnest/freshnest/internal/config"
	"github.com/freshnest/freshnest/internal/money"
	orderdomain "github.com/freshnest/freshnest/internal/order/domain"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
	"github.com/freshnest/freshnest/internal/payment/gateway/stripe"
	paymentrepo "github.com/freshnest/freshnest/internal/payment/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bwmarrin/snowflake"
)

const testSecret = "whsec_test"

// stubPayments records lifecycle calls so tests can assert exactly-once
// dispatch without standing up the full payment fixture.
type stubPayments struct {
	commitCalls []string
	failedCalls []string
	refundCalls []struct {
		intentID string
		amount   money.Cents
	}
	commitErr error
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

func (p *stubPayments) ReconcileOrder(ctx context.Context, orderID snowflake.ID) error { return nil }

func (p *stubPayments) CommitCaptureByIntent(ctx context.Context, intentID string) (*orderdomain.Order, error) {
	p.commitCalls = append(p.commitCalls, intentID)
	if p.commitErr != nil {
		return nil, p.commitErr
	}
	return &orderdomain.Order{}, nil
}

func (p *stubPayments) RecordRefundByIntent(ctx context.Context, intentID string, amount money.Cents) (*orderdomain.Order, error) {
	p.refundCalls = append(p.refundCalls, struct {
		intentID string
		amount   money.Cents
	}{intentID, amount})
	return &orderdomain.Order{}, nil
}

func (p *stubPayments) MarkAuthorizationFailed(ctx context.Context, intentID string) (*orderdomain.Order, error) {
	p.failedCalls = append(p.failedCalls, intentID)
	return &orderdomain.Order{}, nil
}

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	payments *stubPayments
	svc      paymentdomain.WebhookService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&paymentdomain.WebhookEvent{}))

	fc := clock.NewFakeClock(time.Date(2026, 5, 2, 14, 0, 0, 0, time.UTC))
	payments := &stubPayments{}

	cfg := config.Config{}
	cfg.Stripe.WebhookSecret = testSecret

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fc,
		Verifier: stripe.NewVerifier(cfg),
		Payments: payments,
		Events:   paymentrepo.Provide(),
	})

	return &fixture{db: db, clock: fc, payments: payments, svc: svc}
}

func (f *fixture) sign(payload []byte) string {
	timestamp := strconv.FormatInt(f.clock.Now().Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, stripe.Sign(testSecret, timestamp, payload))
}

func intentSucceededPayload(eventID, intentID string, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":"payment_intent.succeeded","created":1770000000,"data":{"object":{"id":%q,"amount":%d,"amount_received":%d,"currency":"usd"}}}`,
		eventID, intentID, amount, amount,
	))
}

func chargeRefundedPayload(eventID, intentID string, amountRefunded int64) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":"charge.refunded","created":1770000000,"data":{"object":{"id":"ch_1","payment_intent":%q,"amount":10000,"amount_refunded":%d,"currency":"usd"}}}`,
		eventID, intentID, amountRefunded,
	))
}

func (f *fixture) storedEvent(t *testing.T, eventID string) *paymentdomain.WebhookEvent {
	t.Helper()
	var event paymentdomain.WebhookEvent
	require.NoError(t, f.db.First(&event, "event_id = ?", eventID).Error)
	return &event
}

func TestIngestRejectsInvalidSignature(t *testing.T) {
	f := newFixture(t)
	payload := intentSucceededPayload("evt_1", "pi_1", 10000)

	err := f.svc.Ingest(context.Background(), payload, "t=123,v1=deadbeef")
	require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	require.Empty(t, f.payments.commitCalls)
}

func TestIngestRejectsStaleTimestamp(t *testing.T) {
	f := newFixture(t)
	payload := intentSucceededPayload("evt_1", "pi_1", 10000)

	timestamp := strconv.FormatInt(f.clock.Now().Add(-10*time.Minute).Unix(), 10)
	header := fmt.Sprintf("t=%s,v1=%s", timestamp, stripe.Sign(testSecret, timestamp, payload))
	err := f.svc.Ingest(context.Background(), payload, header)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestIngestDispatchesIntentSucceeded(t *testing.T) {
	f := newFixture(t)
	payload := intentSucceededPayload("evt_1", "pi_1", 10000)

	require.NoError(t, f.svc.Ingest(context.Background(), payload, f.sign(payload)))
	require.Equal(t, []string{"pi_1"}, f.payments.commitCalls)

	event := f.storedEvent(t, "evt_1")
	require.True(t, event.IsProcessed)
	require.Empty(t, event.ErrorMessage)
}

func TestIngestReplayOfProcessedEventIsAcknowledgedNoOp(t *testing.T) {
	f := newFixture(t)
	payload := intentSucceededPayload("evt_1", "pi_1", 10000)

	require.NoError(t, f.svc.Ingest(context.Background(), payload, f.sign(payload)))
	require.NoError(t, f.svc.Ingest(context.Background(), payload, f.sign(payload)))

	// The redelivery never reaches the payment service again.
	require.Equal(t, []string{"pi_1"}, f.payments.commitCalls)
}

func TestIngestJournalsFailureForRetry(t *testing.T) {
	f := newFixture(t)
	payload := intentSucceededPayload("evt_1", "pi_1", 10000)

	f.payments.commitErr = errors.New("database unavailable")
	err := f.svc.Ingest(context.Background(), payload, f.sign(payload))
	require.Error(t, err)

	event := f.storedEvent(t, "evt_1")
	require.False(t, event.IsProcessed)
	require.Contains(t, event.ErrorMessage, "database unavailable")

	// The scheduler replays the journaled event once the fault clears.
	f.payments.commitErr = nil
	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.RetryUnprocessed(context.Background(), 10))
	require.Equal(t, []string{"pi_1", "pi_1"}, f.payments.commitCalls)
	require.True(t, f.storedEvent(t, "evt_1").IsProcessed)
}

func TestIngestIgnoresUnhandledEventTypes(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"evt_9","type":"customer.created","created":1770000000,"data":{"object":{}}}`)

	require.NoError(t, f.svc.Ingest(context.Background(), payload, f.sign(payload)))

	var n int64
	require.NoError(t, f.db.Model(&paymentdomain.WebhookEvent{}).Count(&n).Error)
	require.EqualValues(t, 0, n)
}

func TestIngestDispatchesRefundWithCumulativeAmount(t *testing.T) {
	f := newFixture(t)
	payload := chargeRefundedPayload("evt_2", "pi_1", 4000)

	require.NoError(t, f.svc.Ingest(context.Background(), payload, f.sign(payload)))
	require.Len(t, f.payments.refundCalls, 1)
	require.Equal(t, "pi_1", f.payments.refundCalls[0].intentID)
	require.EqualValues(t, 4000, f.payments.refundCalls[0].amount)
}

func TestIngestToleratesUnknownIntent(t *testing.T) {
	f := newFixture(t)
	payload := intentSucceededPayload("evt_3", "pi_unknown", 500)

	f.payments.commitErr = paymentdomain.ErrIntentNotFound
	require.NoError(t, f.svc.Ingest(context.Background(), payload, f.sign(payload)))
	require.True(t, f.storedEvent(t, "evt_3").IsProcessed)
}
