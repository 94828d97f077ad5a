package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	mqcontracts "github.com/seweryn-pilarska/email-reply/contracts/mq"
	"github.com/seweryn-pilarska/email-reply/internal/service/reply"
	"github.com/seweryn-pilarska/email-reply/pkg/logger"
	"github.com/seweryn-pilarska/email-reply/pkg/mq"
	"github.com/seweryn-pilarska/email-reply/pkg/trace"
	"github.com/seweryn-pilarska/email-reply/pkg/util"
)

const (
	handlerName       = "reply"
	defaultMaxRetries = 5
)

// ReplyService 由 reply.Service 实现
type ReplyService interface {
	Reply(ctx context.Context, req reply.Request) (*reply.Result, error)
	RecordFailure(ctx context.Context, req reply.Request, res *reply.Result, cause error, retryCount int64) error
}

// Deduper 由 util.Deduper 实现
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, requestID string) bool
	Release(ctx context.Context, handler, requestID string)
}

// RetryCounter 由 util.RetryCounter 实现
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type ReplyRequestedHandler struct {
	service      ReplyService
	deduper      Deduper
	retryCounter RetryCounter
	maxRetries   int64
	logger       *zap.Logger
}

func NewReplyRequestedHandler(
	service ReplyService,
	deduper Deduper,
	retryCounter RetryCounter,
	maxRetries int64,
	logger *zap.Logger,
) *ReplyRequestedHandler {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &ReplyRequestedHandler{
		service:      service,
		deduper:      deduper,
		retryCounter: retryCounter,
		maxRetries:   maxRetries,
		logger:       logger,
	}
}

// Handle 处理 email.reply.requested。
// 返回 nil → ack；ErrNonRetryable → 进入 DLQ；其他错误 → 重新入队
func (h *ReplyRequestedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	// --------------------------
	// Step 1: decode payload
	// --------------------------
	var payload mqcontracts.ReplyRequestedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid ReplyRequestedPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: bad payload: %v", mq.ErrNonRetryable, err)
	}
	if payload.RequestID == "" || strings.TrimSpace(payload.HumanMessage) == "" {
		h.logger.Error("ReplyRequestedPayload missing request_id or human_message, sending to DLQ",
			zap.String("request_id", payload.RequestID),
		)
		return fmt.Errorf("%w: request_id and human_message are required", mq.ErrNonRetryable)
	}

	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(zap.String("request_id", payload.RequestID))

	// Redis 去重（避免重复投递被处理两次）
	if !h.deduper.AcquireOnce(ctx, handlerName, payload.RequestID) {
		log.Info("Duplicated reply request, skip")
		return nil
	}

	// --------------------------
	// Step 2: retry count
	// --------------------------
	retryKey := util.FormatRetryKey(handlerName, payload.RequestID)
	retryCount, err := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if err != nil {
		log.Warn("Failed to increment retry count", zap.Error(err))
	}

	// --------------------------
	// Step 3: run workflow
	// --------------------------
	req := reply.Request{
		RequestID: payload.RequestID,
		Source:    reply.SourceMQ,
		Email:     payload.HumanMessage,
	}
	res, err := h.service.Reply(ctx, req)
	if err != nil {
		return h.handleReplyError(ctx, log, req, res, err, retryKey, retryCount)
	}

	_ = h.retryCounter.Reset(ctx, retryKey)
	log.Info("Reply request processed",
		zap.String("run_id", res.Run.RunID),
		zap.String("intent", string(res.Run.Intent)),
		zap.Int64("latency_ms", res.Run.LatencyMs),
	)
	return nil
}

func (h *ReplyRequestedHandler) handleReplyError(
	ctx context.Context,
	log *zap.Logger,
	req reply.Request,
	res *reply.Result,
	err error,
	retryKey string,
	retryCount int64,
) error {
	// 工作流已成功，只是记录失败：保留去重 key，不重跑、不写 failed 记录，消息进入 DLQ
	if errors.Is(err, reply.ErrRecordFailed) {
		_ = h.retryCounter.Reset(ctx, retryKey)
		log.Error("Reply generated but run could not be recorded, sending to DLQ", zap.Error(err))
		return fmt.Errorf("%w: %w", mq.ErrNonRetryable, err)
	}

	isRetryable, errType := util.IsRetryableError(err)
	log.Warn("Reply workflow failed",
		zap.String("type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry", retryCount),
		zap.Error(err),
	)

	if util.ShouldRetry(retryCount, h.maxRetries, isRetryable) {
		h.deduper.Release(ctx, handlerName, req.RequestID)
		return err // nack → 重试
	}

	// 重试耗尽或不可重试 → failed 运行记录 + email.reply.failed
	if recErr := h.service.RecordFailure(ctx, req, res, err, retryCount); recErr != nil {
		log.Error("Failed to record reply failure", zap.Error(recErr))
		h.deduper.Release(ctx, handlerName, req.RequestID)
		return recErr
	}
	_ = h.retryCounter.Reset(ctx, retryKey)

	log.Warn("Reply request failed permanently", zap.String("type", errType))
	return nil // ack
}
