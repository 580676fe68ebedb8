package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/capstan/internal/config"
	"github.com/smallbiznis/capstan/internal/job"
	jobdomain "github.com/smallbiznis/capstan/internal/job/domain"
	"github.com/smallbiznis/capstan/internal/observability"
	obsmiddleware "github.com/smallbiznis/capstan/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/capstan/internal/observability/metrics"
	obstracing "github.com/smallbiznis/capstan/internal/observability/tracing"
	"github.com/smallbiznis/capstan/internal/policy"
	"github.com/smallbiznis/capstan/internal/pool"
	pooldomain "github.com/smallbiznis/capstan/internal/pool/domain"
	"github.com/smallbiznis/capstan/internal/principal"
	"github.com/smallbiznis/capstan/internal/ratelimit"
	"github.com/smallbiznis/capstan/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/capstan/internal/subscription/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	policy.Module,
	pool.Module,
	subscription.Module,
	job.Module,
	ratelimit.Module,
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
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
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
		Addr:    cfg.HTTPAddr,
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
	engine          *gin.Engine
	cfg             config.Config
	poolSvc         pooldomain.Service
	subscriptionSvc subscriptiondomain.Service
	jobSvc          jobdomain.Service
	refreshLimiter  *ratelimit.RefreshLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	PoolSvc         pooldomain.Service
	SubscriptionSvc subscriptiondomain.Service
	JobSvc          jobdomain.Service
	RefreshLimiter  *ratelimit.RefreshLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		poolSvc:         p.PoolSvc,
		subscriptionSvc: p.SubscriptionSvc,
		jobSvc:          p.JobSvc,
		refreshLimiter:  p.RefreshLimiter,
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(principal.GinMiddleware())

	consumers := api.Group("/consumers/:consumer_id")
	{
		consumers.POST("/entitlements", s.createEntitlements)
		consumers.GET("/entitlements", s.listEntitlements)
		consumers.PUT("/entitlements/:id", s.updateEntitlementQuantity)
		consumers.DELETE("/entitlements/:id", s.revokeEntitlement)
	}

	api.GET("/pools", s.listPools)
	api.GET("/pools/:id", s.getPool)
	api.DELETE("/pools/:id", s.deletePool)

	owners := api.Group("/owners/:owner_key")
	{
		owners.GET("/pools", s.listOwnerPools)
		owners.POST("/pools/refresh", AsyncDispatchMiddleware(s.jobSvc), s.refreshOwnerPools)
		owners.POST("/subscriptions", s.importSubscriptions)
		owners.GET("/subscriptions", s.listSubscriptions)
	}
	api.DELETE("/subscriptions/:id", s.deleteSubscription)

	api.GET("/jobs", s.listJobs)
	api.GET("/jobs/:id", s.getJob)
	api.DELETE("/jobs/:id", s.cancelJob)
}
