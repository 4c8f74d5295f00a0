package webhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/freshnest/freshnest/internal/clock"
	"github.com/freshnest/freshnest/internal/observability/metrics"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Verifier paymentdomain.WebhookVerifier
	Payments paymentdomain.Service
	Events   paymentdomain.WebhookEventRepository
	Metrics  *metrics.Metrics `optional:"true"`
}

// Service turns provider notifications into local state transitions,
// exactly once per EventID. A redelivery of a processed event succeeds
// without touching anything.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	verifier paymentdomain.WebhookVerifier
	payments paymentdomain.Service
	events   paymentdomain.WebhookEventRepository
	metrics  *metrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		clock:    p.Clock,
		verifier: p.Verifier,
		payments: p.Payments,
		events:   p.Events,
		metrics:  p.Metrics,
	}
}

func (s *Service) Ingest(ctx context.Context, payload []byte, signatureHeader string) error {
	now := s.clock.Now()
	if err := s.verifier.Verify(payload, signatureHeader, now); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	event, err := s.verifier.Parse(payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}

	record := &paymentdomain.WebhookEvent{
		EventID:    event.EventID,
		Provider:   "stripe",
		EventType:  event.EventType,
		IntentID:   event.IntentID,
		Payload:    datatypes.JSON(payload),
		ReceivedAt: now,
	}
	inserted, err := s.events.InsertIfAbsent(ctx, s.db, record)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		if inserted {
			s.metrics.RecordWebhookEvent(ctx, event.EventType)
		} else {
			s.metrics.RecordWebhookDuplicate(ctx, event.EventType)
		}
	}
	if !inserted {
		stored, err := s.events.Find(ctx, s.db, event.EventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.IsProcessed {
			// Replay of a processed delivery: acknowledged, no effect.
			s.log.Debug("webhook event replayed", zap.String("event_id", event.EventID))
			return nil
		}
	}

	return s.process(ctx, event)
}

func (s *Service) process(ctx context.Context, event *paymentdomain.Event) error {
	err := s.dispatch(ctx, event)
	if err != nil {
		// The journal keeps the event unprocessed with the failure
		// attached; the scheduler replays it later.
		if markErr := s.events.MarkFailed(ctx, s.db, event.EventID, err.Error()); markErr != nil {
			s.log.Error("failed to record webhook failure",
				zap.String("event_id", event.EventID),
				zap.Error(markErr),
			)
		}
		return err
	}
	return s.events.MarkProcessed(ctx, s.db, event.EventID, s.clock.Now())
}

func (s *Service) dispatch(ctx context.Context, event *paymentdomain.Event) error {
	switch event.EventType {
	case paymentdomain.EventTypeIntentSucceeded:
		_, err := s.payments.CommitCaptureByIntent(ctx, event.IntentID)
		if errors.Is(err, paymentdomain.ErrIntentNotFound) {
			// An intent this system never opened; out-of-order delivery
			// or another environment's traffic.
			s.log.Warn("webhook for unknown intent", zap.String("intent_id", event.IntentID))
			return nil
		}
		return err
	case paymentdomain.EventTypeIntentFailed:
		_, err := s.payments.MarkAuthorizationFailed(ctx, event.IntentID)
		if errors.Is(err, paymentdomain.ErrIntentNotFound) {
			return nil
		}
		return err
	case paymentdomain.EventTypeChargeRefunded:
		_, err := s.payments.RecordRefundByIntent(ctx, event.IntentID, event.Amount)
		if errors.Is(err, paymentdomain.ErrIntentNotFound) {
			return nil
		}
		return err
	default:
		return nil
	}
}

func (s *Service) RetryUnprocessed(ctx context.Context, limit int) error {
	cutoff := s.clock.Now()
	events, err := s.events.ListUnprocessed(ctx, s.db, cutoff, limit)
	if err != nil {
		return err
	}
	for _, stored := range events {
		event, err := s.verifier.Parse(stored.Payload)
		if err != nil {
			if errors.Is(err, paymentdomain.ErrEventIgnored) {
				_ = s.events.MarkProcessed(ctx, s.db, stored.EventID, s.clock.Now())
				continue
			}
			s.log.Warn("unparseable journaled event",
				zap.String("event_id", stored.EventID),
				zap.Error(err),
			)
			continue
		}
		if err := s.process(ctx, event); err != nil {
			s.log.Warn("webhook retry failed",
				zap.String("event_id", stored.EventID),
				zap.Error(err),
			)
		}
	}
	return nil
}
