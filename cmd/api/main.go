package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/internal/bootstrap"
	"github.com/seweryn-pilarska/email-reply/internal/config"
	"github.com/seweryn-pilarska/email-reply/internal/httpserver"
	"github.com/seweryn-pilarska/email-reply/pkg/logger"
	"github.com/seweryn-pilarska/email-reply/pkg/otel"
	"github.com/seweryn-pilarska/email-reply/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLoggerWithLevel(cfg.Log.Level)
	defer log.Sync()

	shutdownTracing, err := otel.Init(cfg.OTel, log)
	if err != nil {
		log.Fatal("OpenTelemetry initialization failed", zap.Error(err))
	}
	defer shutdownTracing()

	ctx := context.Background()

	deps, err := bootstrap.Open(ctx, cfg, log, "email-reply-api")
	if err != nil {
		log.Fatal("Dependency initialization failed", zap.Error(err))
	}
	defer deps.Close()

	engine, err := bootstrap.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Fatal("Workflow engine initialization failed", zap.Error(err))
	}
	replyService := deps.ReplyService(engine)

	// Admin
	var replayer httpserver.OutboxReplayer
	if rs := deps.ReplayService(); rs != nil {
		replayer = rs
	}
	var runs httpserver.RunLister
	if repo := deps.RunRepository(); repo != nil {
		runs = repo
	}
	var adminHandler *httpserver.AdminHandler
	if replayer != nil || runs != nil {
		adminHandler = httpserver.NewAdminHandler(replayer, runs, log)
	}

	// Rate limit: redis 固定窗口，否则进程内令牌桶
	var limiter util.RateLimiter
	if n := cfg.RateLimit.RequestsPerMinute; n > 0 {
		if deps.Redis != nil {
			limiter = util.NewRedisRateLimiter(deps.Redis, n, time.Minute)
		} else {
			limiter = util.NewLocalRateLimiter(n, time.Minute)
		}
	}

	var ready []httpserver.ReadinessCheck
	if deps.DB != nil {
		ready = append(ready, httpserver.ReadinessCheck{Name: "db", Check: deps.DB.Ping})
	}
	if deps.Publisher != nil {
		ready = append(ready, httpserver.ReadinessCheck{Name: "mq", Check: func(context.Context) error {
			if !deps.Publisher.IsConnected() {
				return errors.New("publisher disconnected")
			}
			return nil
		}})
	}

	router := httpserver.NewRouter(
		httpserver.NewChatHandler(replyService, log),
		adminHandler,
		httpserver.Options{
			JWTSecret:   cfg.JWT.Secret,
			RateLimiter: limiter,
			Ready:       ready,
			Logger:      log,
		},
	)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Engine,
	}

	go func() {
		log.Info("Starting email-reply API",
			zap.String("port", cfg.Server.Port),
			zap.String("llm_provider", cfg.LLM.Provider),
			zap.String("calendar_provider", cfg.Calendar.Provider),
			zap.Bool("async", replyService.AsyncEnabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server start failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down email-reply API gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	log.Info("email-reply API shutdown complete")
}
