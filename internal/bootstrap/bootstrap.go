// Package bootstrap builds the process-scoped dependencies shared by the
// api, worker and replyctl binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/internal/agent"
	"github.com/seweryn-pilarska/email-reply/internal/calendar"
	"github.com/seweryn-pilarska/email-reply/internal/config"
	"github.com/seweryn-pilarska/email-reply/internal/llm"
	"github.com/seweryn-pilarska/email-reply/internal/repository"
	"github.com/seweryn-pilarska/email-reply/internal/service/reply"
	"github.com/seweryn-pilarska/email-reply/pkg/db"
	"github.com/seweryn-pilarska/email-reply/pkg/mq"
	"github.com/seweryn-pilarska/email-reply/pkg/outbox"
	"github.com/seweryn-pilarska/email-reply/pkg/redis"
)

// Deps 可选子系统在未配置时为 nil
type Deps struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *pgxpool.Pool
	Redis     *goredis.Client
	Publisher *mq.Publisher
}

// Open 连接已配置的数据库、Redis 和 MQ。失败时关闭已打开的连接
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, source string) (*Deps, error) {
	d := &Deps{Config: cfg, Logger: logger}

	if cfg.DB.Enabled() {
		pool, err := db.NewConnection(ctx, cfg.DB, logger)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("db: %w", err)
		}
		d.DB = pool
		logger.Info("DB ready")
	}

	if cfg.Redis.Enabled() {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.Redis = rdb
		logger.Info("Redis ready")
	}

	if cfg.MQ.Enabled() {
		publisher, err := mq.NewPublisher(cfg.MQ.URL, source)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("mq: %w", err)
		}
		d.Publisher = publisher
		logger.Info("MQ publisher ready")
	}

	return d, nil
}

func (d *Deps) Close() {
	if d.Publisher != nil {
		d.Publisher.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// NewEngine 构建文本生成客户端、日历客户端和工作流引擎
func NewEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*agent.Engine, error) {
	textGen, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	cal, err := calendar.New(ctx, cfg.Calendar, logger)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	return agent.NewEngine(textGen, cal, cfg.Engine(), logger), nil
}

// RunRepository 未配置数据库时返回 nil
func (d *Deps) RunRepository() *repository.RunRepository {
	if d.DB == nil {
		return nil
	}
	return repository.NewRunRepository(d.DB)
}

// ReplyService 按已连接的子系统装配 reply.Service
func (d *Deps) ReplyService(engine reply.Runner) *reply.Service {
	var recorder reply.Recorder
	if repo := d.RunRepository(); repo != nil {
		recorder = repo
	}
	var publisher reply.Publisher
	if d.Publisher != nil {
		publisher = d.Publisher
	}
	return reply.NewService(engine, recorder, publisher, d.Logger)
}

// ReplayService 需要数据库和 MQ，否则返回 nil
func (d *Deps) ReplayService() *outbox.ReplayService {
	if d.DB == nil || d.Publisher == nil {
		return nil
	}
	return outbox.NewReplayService(outbox.NewRepository(d.DB), d.Publisher, d.Logger).
		WithMaxRetries(d.Config.Outbox.MaxRetries)
}
