package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/freshnest/freshnest/internal/audit/domain"
	auditservice "github.com/freshnest/freshnest/internal/audit/service"
	catalogdomain "github.com/freshnest/freshnest/internal/catalog/domain"
	catalogrepo "github.com/freshnest/freshnest/internal/catalog/repository"
	"github.com/freshnest/freshnest/internal/clock"
	"github.com/freshnest/freshnest/internal/config"
	giftcarddomain "github.com/freshnest/freshnest/internal/giftcard/domain"
	giftcardrepo "github.com/freshnest/freshnest/internal/giftcard/repository"
	giftcardservice "github.com/freshnest/freshnest/internal/giftcard/service"
	ledgerdomain "github.com/freshnest/freshnest/internal/ledger/domain"
	ledgerrepo "github.com/freshnest/freshnest/internal/ledger/repository"
	ledgerservice "github.com/freshnest/freshnest/internal/ledger/service"
	"github.com/freshnest/freshnest/internal/money"
	"github.com/freshnest/freshnest/internal/order/domain"
	orderrepo "github.com/freshnest/freshnest/internal/order/repository"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
	paymentservice "github.com/freshnest/freshnest/internal/payment/service"
	pricingdomain "github.com/freshnest/freshnest/internal/pricing/domain"
	pricingservice "github.com/freshnest/freshnest/internal/pricing/service"
	promodomain "github.com/freshnest/freshnest/internal/promocode/domain"
	promorepo "github.com/freshnest/freshnest/internal/promocode/repository"
	promoservice "github.com/freshnest/freshnest/internal/promocode/service"
	offerdomain "github.com/freshnest/freshnest/internal/specialoffer/domain"
	offerrepo "github.com/freshnest/freshnest/internal/specialoffer/repository"
	offerservice "github.com/freshnest/freshnest/internal/specialoffer/service"
	subscriptiondomain "github.com/freshnest/freshnest/internal/subscription/domain"
	subscriptionrepo "github.com/freshnest/freshnest/internal/subscription/repository"
	subscriptionservice "github.com/freshnest/freshnest/internal/subscription/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	intents   map[string]*paymentdomain.Intent
	createErr error

	createCalls  int
	cancelCalls  int
	lastAmount   money.Cents
	lastCurrency string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]*paymentdomain.Intent{}}
}

func (g *fakeGateway) CreateAuthorization(ctx context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	g.lastAmount = req.Amount
	g.lastCurrency = req.Currency
	intent := &paymentdomain.Intent{
		ID:           "pi_test_" + strconv.Itoa(g.seq),
		Status:       paymentdomain.IntentStatusRequiresCapture,
		Amount:       req.Amount,
		Currency:     req.Currency,
		ClientSecret: "secret_" + strconv.Itoa(g.seq),
	}
	g.intents[intent.ID] = intent
	return intent, nil
}

func (g *fakeGateway) Capture(ctx context.Context, intentID string, amount money.Cents) (*paymentdomain.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[intentID]
	if !ok {
		intent = &paymentdomain.Intent{ID: intentID, Amount: amount}
		g.intents[intentID] = intent
	}
	intent.Status = paymentdomain.IntentStatusSucceeded
	return intent, nil
}

func (g *fakeGateway) GetIntent(ctx context.Context, intentID string) (*paymentdomain.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, paymentdomain.ErrIntentNotFound
	}
	copied := *intent
	return &copied, nil
}

func (g *fakeGateway) Refund(ctx context.Context, intentID string, amount money.Cents, idempotencyKey string) error {
	return nil
}

func (g *fakeGateway) CancelIntent(ctx context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	if intent, ok := g.intents[intentID]; ok {
		intent.Status = paymentdomain.IntentStatusCanceled
	}
	return nil
}

type stubNotifier struct{}

func (stubNotifier) PaymentCaptured(ctx context.Context, order *domain.Order, amount money.Cents) {}
func (stubNotifier) AdditionalPaymentRequired(ctx context.Context, order *domain.Order, amount money.Cents, paymentLink string) {
}
func (stubNotifier) PaymentFailed(ctx context.Context, order *domain.Order) {}
func (stubNotifier) OfferConsumed(ctx context.Context, order *domain.Order) {}
func (stubNotifier) PaymentReminder(ctx context.Context, order *domain.Order) {}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	gateway  *fakeGateway
	userID   snowflake.ID
	payments paymentdomain.Service
	svc      domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// SQLite does not understand FOR UPDATE; strip it from raw queries.
	// Raw(...).Scan goes through the row callback chain, so the shim has
	// to sit on both chains.
	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(strings.ReplaceAll(sql, "FOR UPDATE", ""))
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked_query", stripForUpdate))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate))

	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Service{},
		&catalogdomain.ServiceRange{},
		&catalogdomain.ExtraService{},
		&subscriptiondomain.Tier{},
		&subscriptiondomain.Subscription{},
		&promodomain.PromoCode{},
		&giftcarddomain.GiftCard{},
		&giftcarddomain.GiftCardUsage{},
		&offerdomain.SpecialOffer{},
		&offerdomain.UserSpecialOffer{},
		&domain.Order{},
		&domain.OrderItem{},
		&domain.OrderExtra{},
		&ledgerdomain.PaymentRecord{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2026, 4, 20, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	gateway := newFakeGateway()
	cfg := config.Config{
		Currency: "USD",
		Pricing:  config.PricingConfig{TaxRateBps: 1000},
	}

	promoSvc := promoservice.NewService(promoservice.Params{
		DB: db, Log: log, Repo: promorepo.Provide(),
	})
	giftCardSvc := giftcardservice.NewService(giftcardservice.Params{
		DB: db, Log: log, GenID: node, Repo: giftcardrepo.Provide(),
	})
	offerSvc := offerservice.NewService(offerservice.Params{
		DB: db, Log: log, GenID: node, Repo: offerrepo.Provide(),
	})

	pricingSvc := pricingservice.NewService(pricingservice.Params{
		DB:      db,
		Log:     log,
		Config:  cfg,
		Clock:   fc,
		Catalog: catalogrepo.Provide(),
		Subscriptions: subscriptionservice.NewService(subscriptionservice.Params{
			DB: db, Log: log, Repo: subscriptionrepo.Provide(),
		}),
		PromoCodes: promoSvc,
		GiftCards:  giftCardSvc,
		Offers:     offerSvc,
	})

	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:         db,
		Log:        log,
		Config:     cfg,
		Clock:      fc,
		Gateway:    gateway,
		Orders:     orderrepo.Provide(),
		Ledger:     ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Repo: ledgerrepo.Provide()}),
		PromoCodes: promoSvc,
		GiftCards:  giftCardSvc,
		Offers:     offerSvc,
		Audit:      auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node}),
		Notifier:   stubNotifier{},
	})

	f := &fixture{
		db:       db,
		node:     node,
		clock:    fc,
		gateway:  gateway,
		userID:   node.Generate(),
		payments: paymentSvc,
	}
	f.svc = NewService(Params{
		DB:       db,
		Log:      log,
		Config:   cfg,
		Clock:    fc,
		GenID:    node,
		Repo:     orderrepo.Provide(),
		Pricing:  pricingSvc,
		Payments: paymentSvc,
	})
	return f
}

func (f *fixture) seedPerUnitService(t *testing.T, code string, unitAmount money.Cents) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	svc := &catalogdomain.Service{
		ID:          f.node.Generate(),
		Code:        code,
		Name:        "Standard cleaning",
		PricingMode: catalogdomain.PricingModePerUnit,
		UnitAmount:  unitAmount,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.db.Create(svc).Error)
	return svc.ID
}

func (f *fixture) seedPromo(t *testing.T, code string, bps money.BasisPoints) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.db.Create(&promodomain.PromoCode{
		ID:           f.node.Generate(),
		Code:         code,
		DiscountType: promodomain.DiscountTypePercent,
		DiscountBps:  bps,
		ValidFrom:    now.AddDate(0, 0, -1),
		ValidUntil:   now.AddDate(0, 0, 30),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}).Error)
}

func (f *fixture) seedGiftCard(t *testing.T, code string, balance money.Cents) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.db.Create(&giftcarddomain.GiftCard{
		ID:                f.node.Generate(),
		Code:              code,
		OriginalAmount:    balance,
		CurrentBalance:    balance,
		IsPaid:            true,
		PaidAt:            &now,
		PurchasedByUserID: f.userID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}).Error)
}

func (f *fixture) bookingRequest(serviceID snowflake.ID, quantity int64) domain.CreateBookingRequest {
	return domain.CreateBookingRequest{
		Quote: pricingdomain.QuoteRequest{
			UserID: f.userID,
			Lines:  []pricingdomain.LineSelection{{ServiceID: serviceID, Quantity: quantity}},
		},
	}
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *domain.Order {
	t.Helper()
	var order domain.Order
	require.NoError(t, f.db.First(&order, "id = ?", id).Error)
	return &order
}

func TestCreateBookingAuthorizesChargeableTotal(t *testing.T) {
	f := newFixture(t)
	serviceID := f.seedPerUnitService(t, "standard_clean", 5000)

	result, err := f.svc.CreateBooking(context.Background(), f.bookingRequest(serviceID, 2))
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	require.NotEmpty(t, result.IntentID)
	require.NotEmpty(t, result.ClientSecret)

	// 2 x 5000 subtotal plus 10% tax.
	require.Equal(t, money.Cents(10000), result.Order.Subtotal)
	require.Equal(t, money.Cents(1000), result.Order.Tax)
	require.Equal(t, money.Cents(11000), result.Order.Total)
	require.Equal(t, "USD", result.Order.Currency)
	require.Equal(t, domain.PaymentStatusAuthorizationHeld, result.Order.PaymentStatus)
	require.Equal(t, result.IntentID, result.Order.PaymentIntentID)

	require.Equal(t, 1, f.gateway.createCalls)
	require.Equal(t, money.Cents(11000), f.gateway.lastAmount)

	var items []domain.OrderItem
	require.NoError(t, f.db.Where("order_id = ?", result.Order.ID).Find(&items).Error)
	require.Len(t, items, 1)
	require.Equal(t, serviceID, items[0].ServiceID)
	require.Equal(t, int64(2), items[0].Quantity)
	require.Equal(t, money.Cents(10000), items[0].Amount)
}

func TestCreateBookingSnapshotsDiscountEffects(t *testing.T) {
	f := newFixture(t)
	serviceID := f.seedPerUnitService(t, "standard_clean", 10000)
	f.seedPromo(t, "SPRING20", 2000)
	f.seedGiftCard(t, "GC-SNAP", 4000)

	req := f.bookingRequest(serviceID, 1)
	req.Quote.PromoCode = "SPRING20"
	req.Quote.GiftCardCode = "GC-SNAP"

	result, err := f.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)

	order := result.Order
	require.Equal(t, money.Cents(2000), order.PromoDiscount)
	require.Equal(t, money.Cents(4000), order.GiftCardAmount)
	require.NotNil(t, order.PromoCodeID)
	require.NotNil(t, order.GiftCardID)

	// Effects are only snapshotted at booking; the balance moves at capture.
	var card giftcarddomain.GiftCard
	require.NoError(t, f.db.First(&card, "code = ?", "GC-SNAP").Error)
	require.Equal(t, money.Cents(4000), card.CurrentBalance)
}

func TestCreateBookingRejectsEmptyLines(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBooking(context.Background(), domain.CreateBookingRequest{
		Quote: pricingdomain.QuoteRequest{UserID: f.userID},
	})
	require.ErrorIs(t, err, domain.ErrEmptyOrder)
}

func TestCreateBookingAuthorizationFailureLeavesDraft(t *testing.T) {
	f := newFixture(t)
	serviceID := f.seedPerUnitService(t, "standard_clean", 5000)
	f.gateway.createErr = errors.New("processor unavailable")

	_, err := f.svc.CreateBooking(context.Background(), f.bookingRequest(serviceID, 1))
	require.Error(t, err)

	var orders []domain.Order
	require.NoError(t, f.db.Where("user_id = ?", f.userID).Find(&orders).Error)
	require.Len(t, orders, 1)
	require.Equal(t, domain.PaymentStatusDraft, orders[0].PaymentStatus)
	require.Empty(t, orders[0].PaymentIntentID)
}

func TestEditRepricesAndReplacesLines(t *testing.T) {
	f := newFixture(t)
	serviceID := f.seedPerUnitService(t, "standard_clean", 5000)

	booked, err := f.svc.CreateBooking(context.Background(), f.bookingRequest(serviceID, 1))
	require.NoError(t, err)

	result, err := f.svc.Edit(context.Background(), booked.Order.ID, f.bookingRequest(serviceID, 3))
	require.NoError(t, err)

	require.Equal(t, money.Cents(15000), result.Order.Subtotal)
	require.Equal(t, money.Cents(16500), result.Order.Total)

	var items []domain.OrderItem
	require.NoError(t, f.db.Where("order_id = ?", booked.Order.ID).Find(&items).Error)
	require.Len(t, items, 1)
	require.Equal(t, int64(3), items[0].Quantity)
}

func TestEditPersistsDiscountEffectIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	serviceID := f.seedPerUnitService(t, "standard_clean", 5000)
	f.seedPromo(t, "SPRING20", 2000)
	f.seedGiftCard(t, "GC-EDIT", 5000)

	booked, err := f.svc.CreateBooking(ctx, f.bookingRequest(serviceID, 2))
	require.NoError(t, err)
	require.Nil(t, booked.Order.GiftCardID)

	// Attaching codes on edit has to land their IDs on the order row.
	req := f.bookingRequest(serviceID, 2)
	req.Quote.PromoCode = "SPRING20"
	req.Quote.GiftCardCode = "GC-EDIT"
	result, err := f.svc.Edit(ctx, booked.Order.ID, req)
	require.NoError(t, err)
	require.Equal(t, money.Cents(2000), result.Order.PromoDiscount)
	require.Equal(t, money.Cents(5000), result.Order.GiftCardAmount)

	order := f.reload(t, booked.Order.ID)
	require.NotNil(t, order.PromoCodeID)
	require.NotNil(t, order.GiftCardID)

	// Dropping the codes clears the columns again.
	_, err = f.svc.Edit(ctx, booked.Order.ID, f.bookingRequest(serviceID, 2))
	require.NoError(t, err)

	order = f.reload(t, booked.Order.ID)
	require.Nil(t, order.PromoCodeID)
	require.Nil(t, order.GiftCardID)
	require.Equal(t, money.Cents(0), order.GiftCardAmount)
}

func TestEditCapturedOrderRequestsAdditionalCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	serviceID := f.seedPerUnitService(t, "standard_clean", 5000)

	booked, err := f.svc.CreateBooking(ctx, f.bookingRequest(serviceID, 1))
	require.NoError(t, err)
	require.NoError(t, f.payments.Capture(ctx, booked.Order.ID))

	result, err := f.svc.Edit(ctx, booked.Order.ID, f.bookingRequest(serviceID, 2))
	require.NoError(t, err)
	require.NotEmpty(t, result.IntentID)
	require.NotEqual(t, booked.IntentID, result.IntentID)
	require.Equal(t, 2, f.gateway.createCalls)

	order := f.reload(t, booked.Order.ID)
	require.Equal(t, domain.PaymentStatusPartiallyPaid, order.PaymentStatus)
	require.NotNil(t, order.PendingAdditionalIntentID)
	require.Equal(t, result.IntentID, *order.PendingAdditionalIntentID)
	// The delta is the raised total minus the 5500 already captured.
	require.Equal(t, money.Cents(5500), f.gateway.lastAmount)
}

func TestEditCapturedGiftFundedOrderChargesOnlyTheIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	serviceID := f.seedPerUnitService(t, "standard_clean", 5000)
	f.seedGiftCard(t, "GC-FUND", 5000)

	req := f.bookingRequest(serviceID, 2)
	req.Quote.GiftCardCode = "GC-FUND"
	booked, err := f.svc.CreateBooking(ctx, req)
	require.NoError(t, err)
	// 11000 before the gift card, 6000 charged.
	require.Equal(t, money.Cents(5000), booked.Order.GiftCardAmount)
	require.Equal(t, money.Cents(6000), booked.Order.Total)
	require.NoError(t, f.payments.Capture(ctx, booked.Order.ID))

	result, err := f.svc.Edit(ctx, booked.Order.ID, f.bookingRequest(serviceID, 3))
	require.NoError(t, err)
	require.NotEmpty(t, result.IntentID)

	// The consumed gift card rides along at its captured value, so the
	// additional charge is the 5500 service increase and nothing more.
	require.Equal(t, money.Cents(5500), f.gateway.lastAmount)

	order := f.reload(t, booked.Order.ID)
	require.Equal(t, domain.PaymentStatusPartiallyPaid, order.PaymentStatus)
	require.NotNil(t, order.GiftCardID)
	require.Equal(t, money.Cents(5000), order.GiftCardAmount)
	require.Equal(t, money.Cents(11500), order.Total)
}

func TestEditCapturedOrderWithoutDeltaIsTolerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	serviceID := f.seedPerUnitService(t, "standard_clean", 5000)

	booked, err := f.svc.CreateBooking(ctx, f.bookingRequest(serviceID, 1))
	require.NoError(t, err)
	require.NoError(t, f.payments.Capture(ctx, booked.Order.ID))

	result, err := f.svc.Edit(ctx, booked.Order.ID, f.bookingRequest(serviceID, 1))
	require.NoError(t, err)
	require.Empty(t, result.IntentID)
	require.Equal(t, 1, f.gateway.createCalls)
	require.Equal(t, domain.PaymentStatusPaid, f.reload(t, booked.Order.ID).PaymentStatus)
}

func TestEditRejectsCanceledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	serviceID := f.seedPerUnitService(t, "standard_clean", 5000)

	booked, err := f.svc.CreateBooking(ctx, f.bookingRequest(serviceID, 1))
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, booked.Order.ID))

	_, err = f.svc.Edit(ctx, booked.Order.ID, f.bookingRequest(serviceID, 2))
	require.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestCancelReleasesHeldAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	serviceID := f.seedPerUnitService(t, "standard_clean", 5000)

	booked, err := f.svc.CreateBooking(ctx, f.bookingRequest(serviceID, 1))
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, booked.Order.ID))
	require.Equal(t, 1, f.gateway.cancelCalls)
	require.Equal(t, domain.PaymentStatusCanceled, f.reload(t, booked.Order.ID).PaymentStatus)
}

func TestGetUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), f.node.Generate())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListForUserScopesToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	serviceID := f.seedPerUnitService(t, "standard_clean", 5000)

	_, err := f.svc.CreateBooking(ctx, f.bookingRequest(serviceID, 1))
	require.NoError(t, err)
	_, err = f.svc.CreateBooking(ctx, f.bookingRequest(serviceID, 2))
	require.NoError(t, err)

	other := f.bookingRequest(serviceID, 1)
	other.Quote.UserID = f.node.Generate()
	_, err = f.svc.CreateBooking(ctx, other)
	require.NoError(t, err)

	orders, err := f.svc.ListForUser(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, orders, 2)
}
