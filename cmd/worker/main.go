package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	mqcontracts "github.com/seweryn-pilarska/email-reply/contracts/mq"
	"github.com/seweryn-pilarska/email-reply/internal/bootstrap"
	"github.com/seweryn-pilarska/email-reply/internal/config"
	"github.com/seweryn-pilarska/email-reply/internal/mqhandler"
	"github.com/seweryn-pilarska/email-reply/pkg/logger"
	"github.com/seweryn-pilarska/email-reply/pkg/mq"
	"github.com/seweryn-pilarska/email-reply/pkg/otel"
	"github.com/seweryn-pilarska/email-reply/pkg/outbox"
	"github.com/seweryn-pilarska/email-reply/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLoggerWithLevel(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting email-reply worker...")

	shutdownTracing, err := otel.Init(cfg.OTel, log)
	if err != nil {
		log.Fatal("OpenTelemetry initialization failed", zap.Error(err))
	}
	defer shutdownTracing()

	// worker 依赖全部子系统
	if !cfg.DB.Enabled() || !cfg.MQ.Enabled() || !cfg.Redis.Enabled() {
		log.Fatal("Worker requires db, mq and redis to be configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := bootstrap.Open(ctx, cfg, log, "email-reply-worker")
	if err != nil {
		log.Fatal("Dependency initialization failed", zap.Error(err))
	}
	defer deps.Close()

	engine, err := bootstrap.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Fatal("Workflow engine initialization failed", zap.Error(err))
	}

	deduper := util.NewDeduper(deps.Redis, cfg.Worker.DedupTTL, log)
	retryCounter := util.NewRetryCounter(deps.Redis, cfg.Worker.DedupTTL)

	handler := mqhandler.NewReplyRequestedHandler(
		deps.ReplyService(engine),
		deduper,
		retryCounter,
		cfg.Worker.MaxRetries,
		log,
	)

	// Outbox Dispatcher
	dispatcher := outbox.NewDispatcher(outbox.NewRepository(deps.DB), deps.Publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)
	go dispatcher.Start(ctx)

	// -------------------------
	// Reply Request Consumer
	// -------------------------
	log.Info("Init consumer", zap.String("queue", cfg.Worker.Queue))
	consumer, err := mq.NewConsumer(
		cfg.MQ.URL,
		cfg.Worker.Queue,
		mqcontracts.RoutingKeyReplyRequested,
		cfg.Worker.Prefetch,
		log,
	)
	if err != nil {
		log.Fatal("Reply consumer init failed", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(handler.Handle)

	go func() {
		if err := consumer.StartConsuming(ctx); err != nil {
			log.Error("Reply consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	log.Info("Worker running")

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("Shutting down email-reply worker gracefully...")
	cancel()
	log.Info("email-reply worker shutdown complete")
}
