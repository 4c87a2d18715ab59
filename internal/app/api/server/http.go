package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/docs"
	"github.com/fatflowers/entitlement/internal/app/api/handlers"
	mw "github.com/fatflowers/entitlement/internal/app/api/middleware"
	nh "github.com/fatflowers/entitlement/internal/app/service/notification_handler"
	"github.com/fatflowers/entitlement/internal/app/service/purchase"
	"github.com/fatflowers/entitlement/internal/app/service/refresh"
	"github.com/fatflowers/entitlement/internal/app/service/statistics"
	subsvc "github.com/fatflowers/entitlement/internal/app/service/subscription"
	cfgpkg "github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// The webhook contract answers 405 for wrong methods.
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) { c.Status(http.StatusMethodNotAllowed) })
	r.Use(mw.TraceMiddleware())
	return r
}

type routeParams struct {
	fx.In

	Engine       *gin.Engine
	Log          *zap.SugaredLogger
	Cfg          *cfgpkg.Config
	DB           *gorm.DB
	NotifHandler *nh.NotificationHandler
	Refresh      *refresh.Controller
	Purchase     *purchase.Service
	Sub          *subsvc.Service
	Stats        *statistics.Service
}

func registerRoutes(p routeParams) {
	r, log, cfg := p.Engine, p.Log, p.Cfg

	if cfg.MetricsAddr != "" {
		prom := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			MetricsList: []*metrics.Metric{metrics.MetricsBusinessProcess},
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return "unmatched"
			},
			Logger: log,
		})
		prom.SetListenAddress(cfg.MetricsAddr)
		prom.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}

	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub, p.DB)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))

	// Trust comes from the payload signature, not from caller credentials.
	handlers.RegisterWebhookRoutes(apiV1.Group("/webhook"), p.NotifHandler)

	subGroup := apiV1.Group("/subscription")
	subGroup.Use(mw.BearerAuthMiddleware(cfg.Auth, log))
	handlers.RegisterSubscriptionRoutes(subGroup, p.Refresh, p.Purchase, log)

	admin := apiV1.Group("/admin")
	admin.Use(mw.AdminTokenMiddleware(cfg.Auth, log))
	handlers.RegisterAdminRoutes(admin, p.Sub, p.Stats, p.Refresh, log)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
