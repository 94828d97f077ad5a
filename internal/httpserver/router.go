package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/pkg/otel"
	"github.com/seweryn-pilarska/email-reply/pkg/rbac"
	"github.com/seweryn-pilarska/email-reply/pkg/util"
)

// ReadinessCheck /readyz 依赖检查（数据库、MQ）
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Options struct {
	JWTSecret string
	// RateLimiter 为 nil 时不限流
	RateLimiter util.RateLimiter
	Ready       []ReadinessCheck
	Logger      *zap.Logger
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(chatHandler *ChatHandler, adminHandler *AdminHandler, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := gin.Default()
	r.Use(otel.GinMiddleware(), TraceMiddleware(), MetricsMiddleware())

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/readyz", readyz(opts.Ready))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(AuthMiddleware(opts.JWTSecret))
	if opts.JWTSecret != "" {
		api.Use(RequirePermission(rbac.PermissionCreateReply))
	}
	if opts.RateLimiter != nil {
		api.Use(RateLimitMiddleware(opts.RateLimiter, opts.Logger))
	}
	{
		api.POST("/chat", chatHandler.Chat)
		api.POST("/chat/async", chatHandler.ChatAsync)
	}

	// 管理接口必须鉴权：未配置 JWT secret 时不注册
	if adminHandler != nil && opts.JWTSecret != "" {
		admin := r.Group("/admin")
		admin.Use(AuthMiddleware(opts.JWTSecret))
		if adminHandler.replayer != nil {
			replay := RequirePermission(rbac.PermissionReplayOutbox)
			admin.POST("/outbox/replay", replay, adminHandler.ReplayOutboxEvent)
			admin.POST("/outbox/replay-failed", replay, adminHandler.ReplayFailedEvents)
			admin.GET("/outbox/failed", replay, adminHandler.ListFailedEvents)
		}
		if adminHandler.runs != nil {
			readRuns := RequirePermission(rbac.PermissionReadRuns)
			admin.GET("/runs", readRuns, adminHandler.ListRuns)
			admin.GET("/runs/:id", readRuns, adminHandler.GetRun)
		}
	}

	return &Router{Engine: r}
}

func readyz(checks []ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"status": check.Name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func (r *Router) Run(addr string) error {
	return r.Engine.Run(addr)
}
