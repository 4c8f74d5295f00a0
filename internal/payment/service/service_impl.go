package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/freshnest/freshnest/internal/audit/domain"
	"github.com/freshnest/freshnest/internal/clock"
	"github.com/freshnest/freshnest/internal/config"
	giftcarddomain "github.com/freshnest/freshnest/internal/giftcard/domain"
	ledgerdomain "github.com/freshnest/freshnest/internal/ledger/domain"
	"github.com/freshnest/freshnest/internal/money"
	notificationdomain "github.com/freshnest/freshnest/internal/notification/domain"
	"github.com/freshnest/freshnest/internal/observability/metrics"
	orderdomain "github.com/freshnest/freshnest/internal/order/domain"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
	promodomain "github.com/freshnest/freshnest/internal/promocode/domain"
	offerdomain "github.com/freshnest/freshnest/internal/specialoffer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Clock      clock.Clock
	Gateway    paymentdomain.Gateway
	Orders     orderdomain.Repository
	Ledger     ledgerdomain.Service
	PromoCodes promodomain.Service
	GiftCards  giftcarddomain.Service
	Offers     offerdomain.Service
	Audit      auditdomain.Service
	Notifier   notificationdomain.Dispatcher
	Metrics    *metrics.Metrics `optional:"true"`
}

// Service drives each order's payment lifecycle. Every transition that
// moves money or consumes a discount happens in one transaction keyed by
// the order row, so concurrent captures and webhook replays collapse into
// a single effect.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	clock      clock.Clock
	gateway    paymentdomain.Gateway
	orders     orderdomain.Repository
	ledger     ledgerdomain.Service
	promoCodes promodomain.Service
	giftCards  giftcarddomain.Service
	offers     offerdomain.Service
	audit      auditdomain.Service
	notifier   notificationdomain.Dispatcher
	metrics    *metrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		cfg:        p.Config,
		clock:      p.Clock,
		gateway:    p.Gateway,
		orders:     p.Orders,
		ledger:     p.Ledger,
		promoCodes: p.PromoCodes,
		giftCards:  p.GiftCards,
		offers:     p.Offers,
		audit:      p.Audit,
		notifier:   p.Notifier,
		metrics:    p.Metrics,
	}
}

func (s *Service) CreateAuthorization(ctx context.Context, orderID snowflake.ID) (*paymentdomain.Intent, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// An order already holding a pending intent gets that intent back.
	// There is never a second authorization for the same order.
	if order.PaymentStatus == orderdomain.PaymentStatusAuthorizationHeld && order.PaymentIntentID != "" {
		return s.gateway.GetIntent(ctx, order.PaymentIntentID)
	}
	if order.PaymentStatus != orderdomain.PaymentStatusDraft {
		return nil, orderdomain.ErrStateConflict
	}

	// Fully covered by gift card: nothing to authorize, capture settles
	// the effects without touching the processor.
	if order.Total <= 0 {
		if err := s.orders.Update(ctx, s.db, order.ID, map[string]any{
			"payment_status": orderdomain.PaymentStatusAuthorizationHeld,
			"updated_at":     s.clock.Now(),
		}); err != nil {
			return nil, err
		}
		return &paymentdomain.Intent{Status: paymentdomain.IntentStatusRequiresCapture}, nil
	}

	intent, err := s.gateway.CreateAuthorization(ctx, paymentdomain.CreateIntentRequest{
		Amount:         order.Total,
		Currency:       order.Currency,
		OrderID:        order.ID,
		UserID:         order.UserID,
		IdempotencyKey: "order:" + order.ID.String() + ":auth",
	})
	if err != nil {
		return nil, err
	}

	if err := s.orders.Update(ctx, s.db, order.ID, map[string]any{
		"payment_intent_id":     intent.ID,
		"is_authorization_only": true,
		"payment_status":        orderdomain.PaymentStatusAuthorizationHeld,
		"updated_at":            s.clock.Now(),
	}); err != nil {
		return nil, err
	}

	s.auditLog(ctx, "authorization_created", order.ID, map[string]any{
		"intent_id": intent.ID,
		"amount":    int64(order.Total),
	})
	return intent, nil
}

func (s *Service) Capture(ctx context.Context, orderID snowflake.ID) error {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch order.PaymentStatus {
	case orderdomain.PaymentStatusPaid:
		// Idempotent: the retry of a capture that already landed.
		return nil
	case orderdomain.PaymentStatusAuthorizationHeld:
	default:
		return orderdomain.ErrStateConflict
	}

	// The processor call happens outside the local transaction. If it
	// succeeds and the local commit is lost, the webhook or the
	// reconciliation poll replays the commit; the status guard inside
	// makes the replay a no-op.
	if order.Total > 0 {
		_, err = s.gateway.Capture(ctx, order.PaymentIntentID, order.Total)
		if err != nil && !errors.Is(err, paymentdomain.ErrAlreadyCaptured) {
			return err
		}
	}

	_, err = s.commitCapture(ctx, order.ID)
	return err
}

// commitCapture is the single atomic unit behind every capture path:
// synchronous capture, webhook delivery, and reconciliation all funnel
// here, and the PaymentCapturedAt guard admits exactly one of them.
// Effects that became uncommittable between quote and capture (a promo
// counter filled, an offer grant spent, a gift card drained by another
// order) degrade instead of failing: the money already moved at the
// processor, so sinking the commit would also sink every webhook replay
// of it.
func (s *Service) commitCapture(ctx context.Context, orderID snowflake.ID) (*orderdomain.Order, error) {
	now := s.clock.Now()
	var captured *orderdomain.Order
	var alreadyDone bool
	var dropped []string
	var giftShortfall, capturedAmount money.Cents

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dropped = dropped[:0]
		giftShortfall = 0

		order, err := s.orders.FindForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		if order.Captured() {
			captured = order
			alreadyDone = true
			return nil
		}
		if order.PaymentStatus != orderdomain.PaymentStatusAuthorizationHeld {
			return orderdomain.ErrStateConflict
		}

		capturedAmount = order.Total
		fields := map[string]any{
			"payment_status":      orderdomain.PaymentStatusPaid,
			"payment_captured_at": now,
			"updated_at":          now,
		}

		if order.PromoCodeID != nil {
			err := s.promoCodes.Consume(ctx, tx, *order.PromoCodeID)
			switch {
			case errors.Is(err, promodomain.ErrCodeExhausted):
				// The business absorbs the discount the customer was
				// already charged with.
				fields["promo_code_id"] = nil
				order.PromoCodeID = nil
				dropped = append(dropped, "promo_code")
			case err != nil:
				return err
			}
		}
		if order.UserSpecialOfferID != nil {
			err := s.offers.Consume(ctx, tx, *order.UserSpecialOfferID, order.ID, now)
			switch {
			case errors.Is(err, offerdomain.ErrOfferUsed):
				fields["user_special_offer_id"] = nil
				order.UserSpecialOfferID = nil
				dropped = append(dropped, "special_offer")
			case err != nil:
				return err
			}
		}
		if order.GiftCardID != nil && order.GiftCardAmount > 0 {
			debited, err := s.giftCards.DebitUpTo(ctx, tx, *order.GiftCardID, order.ID, order.GiftCardAmount)
			if err != nil {
				return err
			}
			if debited < order.GiftCardAmount {
				// The card no longer covers its share; the uncovered
				// value becomes owed and is collected as an additional
				// charge after the commit.
				giftShortfall = order.GiftCardAmount - debited
				fields["gift_card_amount"] = debited
				fields["total"] = order.Total + giftShortfall
				order.GiftCardAmount = debited
				order.Total += giftShortfall
				dropped = append(dropped, "gift_card_balance")
			}
		}

		if err := s.ledger.Append(ctx, tx, &ledgerdomain.PaymentRecord{
			OrderID:         order.ID,
			PaymentType:     ledgerdomain.PaymentTypeCapture,
			Amount:          capturedAmount,
			Currency:        order.Currency,
			PaymentIntentID: order.PaymentIntentID,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		if err := s.orders.Update(ctx, tx, order.ID, fields); err != nil {
			return err
		}

		order.PaymentStatus = orderdomain.PaymentStatusPaid
		order.PaymentCapturedAt = &now
		captured = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyDone {
		return captured, nil
	}

	if len(dropped) > 0 {
		s.log.Warn("capture committed with degraded effects",
			zap.Int64("order_id", int64(captured.ID)),
			zap.Strings("dropped", dropped),
		)
		s.auditLog(ctx, "capture_effects_degraded", captured.ID, map[string]any{
			"intent_id": captured.PaymentIntentID,
			"dropped":   dropped,
		})
	}
	if giftShortfall > 0 {
		if _, err := s.RequestAdditionalCharge(ctx, captured.ID); err != nil &&
			!errors.Is(err, paymentdomain.ErrNothingToCapture) {
			s.log.Warn("additional charge for gift card shortfall failed",
				zap.Int64("order_id", int64(captured.ID)),
				zap.Error(err),
			)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordCapture(ctx, string(ledgerdomain.PaymentTypeCapture))
		if captured.GiftCardID != nil && captured.GiftCardAmount > 0 {
			s.metrics.RecordGiftCardDebit(ctx)
		}
	}
	s.auditLog(ctx, "payment_captured", captured.ID, map[string]any{
		"intent_id": captured.PaymentIntentID,
		"amount":    int64(capturedAmount),
	})
	s.notifier.PaymentCaptured(ctx, captured, capturedAmount)
	if captured.UserSpecialOfferID != nil {
		s.notifier.OfferConsumed(ctx, captured)
	}
	return captured, nil
}

func (s *Service) RequestAdditionalCharge(ctx context.Context, orderID snowflake.ID) (*paymentdomain.Intent, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Captured() {
		return nil, orderdomain.ErrStateConflict
	}

	// Reuse a still-pending additional intent instead of stacking holds.
	if order.PendingAdditionalIntentID != nil {
		return s.gateway.GetIntent(ctx, *order.PendingAdditionalIntentID)
	}

	// The delta comes from the ledger, never from the order's mutable
	// totals alone: what the customer owes is the current quote minus
	// what has actually been collected.
	collected, err := s.collected(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	delta := order.Total - collected
	if delta <= 0 {
		return nil, paymentdomain.ErrNothingToCapture
	}

	intent, err := s.gateway.CreateAuthorization(ctx, paymentdomain.CreateIntentRequest{
		Amount:         delta,
		Currency:       order.Currency,
		OrderID:        order.ID,
		UserID:         order.UserID,
		IdempotencyKey: "order:" + order.ID.String() + ":additional:" + strconv.FormatInt(int64(delta), 10),
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.orders.Update(ctx, s.db, order.ID, map[string]any{
		"pending_additional_intent_id": intent.ID,
		"payment_status":               orderdomain.PaymentStatusPartiallyPaid,
		"updated_at":                   now,
	}); err != nil {
		return nil, err
	}

	s.auditLog(ctx, "additional_charge_requested", order.ID, map[string]any{
		"intent_id": intent.ID,
		"amount":    int64(delta),
	})
	s.notifier.AdditionalPaymentRequired(ctx, order, delta, s.paymentLink(order.ID))
	return intent, nil
}

func (s *Service) Refund(ctx context.Context, orderID snowflake.ID, amount *money.Cents) error {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.Captured() {
		return orderdomain.ErrStateConflict
	}

	collected, err := s.collected(ctx, order.ID)
	if err != nil {
		return err
	}
	refund := collected
	if amount != nil {
		refund = *amount
	}
	if refund <= 0 || refund > collected {
		return paymentdomain.ErrRefundExceedsCaptured
	}

	refundedBefore, err := s.ledger.SumRefunded(ctx, s.db, order.ID)
	if err != nil {
		return err
	}
	idemKey := "order:" + order.ID.String() + ":refund:" + strconv.FormatInt(int64(refundedBefore+refund), 10)
	if err := s.gateway.Refund(ctx, order.PaymentIntentID, refund, idemKey); err != nil {
		return err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.orders.FindForUpdate(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return orderdomain.ErrOrderNotFound
		}

		if err := s.ledger.Append(ctx, tx, &ledgerdomain.PaymentRecord{
			OrderID:         locked.ID,
			PaymentType:     ledgerdomain.PaymentTypeRefund,
			Amount:          refund,
			Currency:        locked.Currency,
			PaymentIntentID: locked.PaymentIntentID,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		fields := map[string]any{"updated_at": now}
		if refund == collected {
			fields["payment_status"] = orderdomain.PaymentStatusRefunded
		}
		if err := s.orders.Update(ctx, tx, locked.ID, fields); err != nil {
			return err
		}

		// Consumption is final by default; the restore path exists only
		// behind an explicit policy flag.
		if s.cfg.Payment.RestoreDiscountsOnRefund && refund == collected {
			return s.restoreDiscounts(ctx, tx, locked)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordRefund(ctx)
	}
	s.auditLog(ctx, "payment_refunded", order.ID, map[string]any{
		"intent_id": order.PaymentIntentID,
		"amount":    int64(refund),
	})
	return nil
}

func (s *Service) restoreDiscounts(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) error {
	now := s.clock.Now()
	if order.PromoCodeID != nil {
		if err := s.promoCodes.Restore(ctx, tx, *order.PromoCodeID); err != nil {
			return err
		}
	}
	if order.UserSpecialOfferID != nil {
		if err := s.offers.Restore(ctx, tx, *order.UserSpecialOfferID, now); err != nil {
			return err
		}
	}
	if order.GiftCardID != nil && order.GiftCardAmount > 0 {
		if err := s.giftCards.Credit(ctx, tx, *order.GiftCardID, order.GiftCardAmount); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Cancel(ctx context.Context, orderID snowflake.ID) error {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch order.PaymentStatus {
	case orderdomain.PaymentStatusDraft, orderdomain.PaymentStatusAuthorizationHeld:
	default:
		// A captured order is unwound with Refund, never Cancel.
		return orderdomain.ErrStateConflict
	}

	if order.PaymentIntentID != "" {
		if err := s.gateway.CancelIntent(ctx, order.PaymentIntentID); err != nil &&
			!errors.Is(err, paymentdomain.ErrIntentNotFound) {
			return err
		}
	}

	now := s.clock.Now()
	if err := s.orders.Update(ctx, s.db, order.ID, map[string]any{
		"payment_status": orderdomain.PaymentStatusCanceled,
		"canceled_at":    now,
		"updated_at":     now,
	}); err != nil {
		return err
	}

	s.auditLog(ctx, "order_canceled", order.ID, map[string]any{
		"intent_id": order.PaymentIntentID,
	})
	return nil
}

func (s *Service) ReconcileOrder(ctx context.Context, orderID snowflake.ID) error {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentStatus != orderdomain.PaymentStatusAuthorizationHeld || order.PaymentIntentID == "" {
		return nil
	}

	intent, err := s.gateway.GetIntent(ctx, order.PaymentIntentID)
	if err != nil {
		return err
	}

	switch intent.Status {
	case paymentdomain.IntentStatusSucceeded:
		// The processor settled but the local commit was lost.
		_, err = s.commitCapture(ctx, order.ID)
		return err
	case paymentdomain.IntentStatusCanceled:
		now := s.clock.Now()
		return s.orders.Update(ctx, s.db, order.ID, map[string]any{
			"payment_status":    orderdomain.PaymentStatusDraft,
			"payment_intent_id": "",
			"updated_at":        now,
		})
	default:
		return nil
	}
}

func (s *Service) CommitCaptureByIntent(ctx context.Context, intentID string) (*orderdomain.Order, error) {
	order, err := s.orders.FindByIntentID(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, paymentdomain.ErrIntentNotFound
	}

	if order.PendingAdditionalIntentID != nil && *order.PendingAdditionalIntentID == intentID {
		return s.commitAdditionalCapture(ctx, order.ID, intentID)
	}
	if order.Captured() {
		// Delivery after a synchronous capture already landed.
		return order, nil
	}
	return s.commitCapture(ctx, order.ID)
}

func (s *Service) commitAdditionalCapture(ctx context.Context, orderID snowflake.ID, intentID string) (*orderdomain.Order, error) {
	now := s.clock.Now()
	var result *orderdomain.Order

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.FindForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		result = order
		if order.PendingAdditionalIntentID == nil || *order.PendingAdditionalIntentID != intentID {
			// Replay of an additional capture that already committed.
			return nil
		}

		collected, err := s.collectedTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		delta := order.Total - collected
		if delta > 0 {
			if err := s.ledger.Append(ctx, tx, &ledgerdomain.PaymentRecord{
				OrderID:         order.ID,
				PaymentType:     ledgerdomain.PaymentTypeAdditionalCharge,
				Amount:          delta,
				Currency:        order.Currency,
				PaymentIntentID: intentID,
				CreatedAt:       now,
			}); err != nil {
				return err
			}
		}

		if err := s.orders.Update(ctx, tx, order.ID, map[string]any{
			"payment_status":               orderdomain.PaymentStatusPaid,
			"pending_additional_intent_id": nil,
			"updated_at":                   now,
		}); err != nil {
			return err
		}
		order.PaymentStatus = orderdomain.PaymentStatusPaid
		order.PendingAdditionalIntentID = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordCapture(ctx, string(ledgerdomain.PaymentTypeAdditionalCharge))
	}
	s.auditLog(ctx, "additional_charge_captured", result.ID, map[string]any{
		"intent_id": intentID,
	})
	return result, nil
}

func (s *Service) RecordRefundByIntent(ctx context.Context, intentID string, amountRefunded money.Cents) (*orderdomain.Order, error) {
	order, err := s.orders.FindByIntentID(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, paymentdomain.ErrIntentNotFound
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.orders.FindForUpdate(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return orderdomain.ErrOrderNotFound
		}

		// The processor reports the cumulative refunded amount; only the
		// part the ledger has not seen yet is appended, so a webhook for
		// a refund this service initiated is a no-op.
		refundedSoFar, err := s.ledger.SumRefunded(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		delta := amountRefunded - refundedSoFar
		if delta <= 0 {
			return nil
		}

		if err := s.ledger.Append(ctx, tx, &ledgerdomain.PaymentRecord{
			OrderID:         locked.ID,
			PaymentType:     ledgerdomain.PaymentTypeRefund,
			Amount:          delta,
			Currency:        locked.Currency,
			PaymentIntentID: intentID,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		collected, err := s.collectedTx(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		fields := map[string]any{"updated_at": now}
		if collected <= 0 {
			fields["payment_status"] = orderdomain.PaymentStatusRefunded
		}
		return s.orders.Update(ctx, tx, locked.ID, fields)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) MarkAuthorizationFailed(ctx context.Context, intentID string) (*orderdomain.Order, error) {
	order, err := s.orders.FindByIntentID(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, paymentdomain.ErrIntentNotFound
	}

	now := s.clock.Now()
	if order.PendingAdditionalIntentID != nil && *order.PendingAdditionalIntentID == intentID {
		if err := s.orders.Update(ctx, s.db, order.ID, map[string]any{
			"pending_additional_intent_id": nil,
			"updated_at":                   now,
		}); err != nil {
			return nil, err
		}
	} else if order.PaymentStatus == orderdomain.PaymentStatusAuthorizationHeld {
		if err := s.orders.Update(ctx, s.db, order.ID, map[string]any{
			"payment_status":    orderdomain.PaymentStatusDraft,
			"payment_intent_id": "",
			"updated_at":        now,
		}); err != nil {
			return nil, err
		}
	}

	s.auditLog(ctx, "authorization_failed", order.ID, map[string]any{
		"intent_id": intentID,
	})
	s.notifier.PaymentFailed(ctx, order)
	return order, nil
}

func (s *Service) loadOrder(ctx context.Context, orderID snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.orders.Find(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) collected(ctx context.Context, orderID snowflake.ID) (money.Cents, error) {
	return s.collectedTx(ctx, s.db, orderID)
}

func (s *Service) collectedTx(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (money.Cents, error) {
	captured, err := s.ledger.SumCaptured(ctx, db, orderID)
	if err != nil {
		return 0, err
	}
	refunded, err := s.ledger.SumRefunded(ctx, db, orderID)
	if err != nil {
		return 0, err
	}
	return captured - refunded, nil
}

func (s *Service) paymentLink(orderID snowflake.ID) string {
	base := s.cfg.Payment.PaymentLinkBaseURL
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/orders/%s/pay", base, orderID.String())
}

func (s *Service) auditLog(ctx context.Context, action string, orderID snowflake.ID, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	// Audit failures are logged inside the audit service, never propagated.
	_ = s.audit.AuditLog(ctx, "system", action, "order", orderID.String(), metadata)
}
