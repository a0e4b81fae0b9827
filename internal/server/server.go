package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/paperstreamhq/paperstream/internal/billing"
	billingdomain "github.com/paperstreamhq/paperstream/internal/billing/domain"
	"github.com/paperstreamhq/paperstream/internal/config"
	"github.com/paperstreamhq/paperstream/internal/migration"
	"github.com/paperstreamhq/paperstream/internal/observability"
	obsmiddleware "github.com/paperstreamhq/paperstream/internal/observability/logger"
	"github.com/paperstreamhq/paperstream/internal/payment"
	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
	"github.com/paperstreamhq/paperstream/internal/plan"
	"github.com/paperstreamhq/paperstream/internal/usage"
	usagedomain "github.com/paperstreamhq/paperstream/internal/usage/domain"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	fx.Provide(plan.NewCatalog),
	billing.Module,
	payment.Module,
	usage.Module,
	migration.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
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
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger

	billingSvc billingdomain.Service
	usageSvc   usagedomain.Service
	webhookSvc paymentdomain.WebhookService
}

type ServerParams struct {
	fx.In

	Gin *gin.Engine
	Cfg config.Config
	DB  *gorm.DB
	Log *zap.Logger

	BillingSvc billingdomain.Service
	UsageSvc   usagedomain.Service
	WebhookSvc paymentdomain.WebhookService
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		db:     p.DB,
		log:    p.Log.Named("server"),

		billingSvc: p.BillingSvc,
		usageSvc:   p.UsageSvc,
		webhookSvc: p.WebhookSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api", OrgMiddleware())

	billingGroup := api.Group("/billing")
	billingGroup.POST("/checkout", s.Checkout)
	billingGroup.GET("/preview/upgrade", s.PreviewUpgrade)
	billingGroup.GET("/preview/downgrade", s.PreviewDowngrade)
	billingGroup.POST("/upgrade", s.Upgrade)
	billingGroup.POST("/downgrade", s.Downgrade)
	billingGroup.POST("/cancel", s.Cancel)
	billingGroup.POST("/reactivate", s.Reactivate)
	billingGroup.POST("/portal", s.Portal)
	billingGroup.GET("/summary", s.Summary)
	billingGroup.DELETE("/account", s.DeleteAccount)

	usageGroup := api.Group("/usage")
	usageGroup.POST("/check", s.UsageCheck)
	usageGroup.POST("/commit", s.UsageCommit)

	s.engine.POST("/webhooks/stripe", s.StripeWebhook)
}
