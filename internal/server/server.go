package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/audit"
	auditdomain "github.com/freshnest/freshnest/internal/audit/domain"
	"github.com/freshnest/freshnest/internal/catalog"
	"github.com/freshnest/freshnest/internal/clock"
	"github.com/freshnest/freshnest/internal/config"
	"github.com/freshnest/freshnest/internal/giftcard"
	giftcarddomain "github.com/freshnest/freshnest/internal/giftcard/domain"
	"github.com/freshnest/freshnest/internal/ledger"
	ledgerdomain "github.com/freshnest/freshnest/internal/ledger/domain"
	"github.com/freshnest/freshnest/internal/notification"
	"github.com/freshnest/freshnest/internal/observability"
	obsmiddleware "github.com/freshnest/freshnest/internal/observability/logger"
	obsmetrics "github.com/freshnest/freshnest/internal/observability/metrics"
	obstracing "github.com/freshnest/freshnest/internal/observability/tracing"
	"github.com/freshnest/freshnest/internal/order"
	orderdomain "github.com/freshnest/freshnest/internal/order/domain"
	"github.com/freshnest/freshnest/internal/payment"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
	"github.com/freshnest/freshnest/internal/pricing"
	pricingdomain "github.com/freshnest/freshnest/internal/pricing/domain"
	"github.com/freshnest/freshnest/internal/promocode"
	"github.com/freshnest/freshnest/internal/providers"
	"github.com/freshnest/freshnest/internal/ratelimit"
	"github.com/freshnest/freshnest/internal/scheduler"
	"github.com/freshnest/freshnest/internal/specialoffer"
	offerdomain "github.com/freshnest/freshnest/internal/specialoffer/domain"
	"github.com/freshnest/freshnest/internal/subscription"
	"github.com/freshnest/freshnest/pkg/db"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	clock.Module,
	observability.Module,
	db.Module,
	fx.Provide(registerGin),
	audit.Module,
	catalog.Module,
	subscription.Module,
	promocode.Module,
	giftcard.Module,
	specialoffer.Module,
	pricing.Module,
	ledger.Module,
	order.Module,
	payment.Module,
	notification.Module,
	providers.Module,
	ratelimit.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	auditSvc       auditdomain.Service
	pricingSvc     pricingdomain.Service
	orderSvc       orderdomain.Service
	paymentSvc     paymentdomain.Service
	webhookSvc     paymentdomain.WebhookService
	giftCardSvc    giftcarddomain.Service
	offerSvc       offerdomain.Service
	ledgerSvc      ledgerdomain.Service
	webhookLimiter *ratelimit.WebhookLimiter
	obsMetrics     *obsmetrics.Metrics

	scheduler *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	AuditSvc       auditdomain.Service
	PricingSvc     pricingdomain.Service
	OrderSvc       orderdomain.Service
	PaymentSvc     paymentdomain.Service
	WebhookSvc     paymentdomain.WebhookService
	GiftCardSvc    giftcarddomain.Service
	OfferSvc       offerdomain.Service
	LedgerSvc      ledgerdomain.Service
	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`

	Scheduler *scheduler.Scheduler
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("http.server"),
		genID:          p.GenID,
		clock:          p.Clock,
		auditSvc:       p.AuditSvc,
		pricingSvc:     p.PricingSvc,
		orderSvc:       p.OrderSvc,
		paymentSvc:     p.PaymentSvc,
		webhookSvc:     p.WebhookSvc,
		giftCardSvc:    p.GiftCardSvc,
		offerSvc:       p.OfferSvc,
		ledgerSvc:      p.LedgerSvc,
		webhookLimiter: p.WebhookLimiter,
		obsMetrics:     p.ObsMetrics,
		scheduler:      p.Scheduler,
	}

	svc.registerOrderRoutes()
	svc.registerGiftCardRoutes()
	svc.registerOfferRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}
