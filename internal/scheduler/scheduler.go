package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/freshnest/freshnest/internal/clock"
	notificationdomain "github.com/freshnest/freshnest/internal/notification/domain"
	orderdomain "github.com/freshnest/freshnest/internal/order/domain"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
	"github.com/freshnest/freshnest/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const runLockKey = "scheduler:run"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Orders   orderdomain.Repository
	Payments paymentdomain.Service
	Webhooks paymentdomain.WebhookService
	Notifier notificationdomain.Dispatcher
	Locker   *ratelimit.Locker `optional:"true"`
	Config   Config            `optional:"true"`
}

// Scheduler is the background reconciliation loop. It resolves payment
// states the synchronous path and the webhook path both missed, using the
// same payment service those paths use.
type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	orders   orderdomain.Repository
	payments paymentdomain.Service
	webhooks paymentdomain.WebhookService
	notifier notificationdomain.Dispatcher
	locker   *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Orders == nil || p.Payments == nil || p.Webhooks == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		orders:   p.Orders,
		payments: p.Payments,
		webhooks: p.Webhooks,
		notifier: p.Notifier,
		locker:   p.Locker,
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one scheduler pass. At most one instance runs a pass
// at a time when a lock backend is configured.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, runLockKey, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("scheduler lock unavailable", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := s.locker.Release(ctx, runLockKey, token); err != nil {
				s.log.Warn("scheduler lock release failed", zap.Error(err))
			}
		}()
	}

	s.runJob(ctx, "reconcile_stale_authorizations", s.reconcileStaleAuthorizations)
	s.runJob(ctx, "retry_webhook_events", s.retryWebhookEvents)
	s.runJob(ctx, "send_payment_reminders", s.sendPaymentReminders)
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	if err := fn(ctx); err != nil {
		log.Error("scheduler job failed", zap.Error(err), zap.Duration("elapsed", s.clock.Now().Sub(start)))
		return
	}
	log.Debug("scheduler job completed", zap.Duration("elapsed", s.clock.Now().Sub(start)))
}

// reconcileStaleAuthorizations polls the processor for orders whose
// authorization has been held past the threshold. A capture the processor
// settled but the local commit lost is committed here; a canceled intent
// releases the order back to draft.
func (s *Scheduler) reconcileStaleAuthorizations(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.StaleAuthorizationAge)
	orders, err := s.orders.ListStaleAuthorizations(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if err := s.payments.ReconcileOrder(ctx, order.ID); err != nil {
			s.log.Warn("order reconciliation failed",
				zap.Int64("order_id", int64(order.ID)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Scheduler) retryWebhookEvents(ctx context.Context) error {
	return s.webhooks.RetryUnprocessed(ctx, s.cfg.BatchSize)
}

func (s *Scheduler) sendPaymentReminders(ctx context.Context) error {
	if s.notifier == nil {
		return nil
	}
	cutoff := s.clock.Now().Add(-s.cfg.ReminderAge)
	orders, err := s.orders.ListStaleAuthorizations(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for i := range orders {
		s.notifier.PaymentReminder(ctx, &orders[i])
	}
	return nil
}
