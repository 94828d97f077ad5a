// Package reply wraps the workflow engine with run auditing and the async
// request/event flow.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "github.com/seweryn-pilarska/email-reply/contracts/mq"
	"github.com/seweryn-pilarska/email-reply/internal/agent"
	"github.com/seweryn-pilarska/email-reply/internal/model"
	"github.com/seweryn-pilarska/email-reply/internal/repository"
	"github.com/seweryn-pilarska/email-reply/pkg/logger"
	"github.com/seweryn-pilarska/email-reply/pkg/trace"
	"github.com/seweryn-pilarska/email-reply/pkg/util"
)

const (
	SourceHTTP = "http"
	SourceMQ   = "mq"
	SourceCLI  = "cli"
)

const (
	defaultRecordAttempts = 3
	defaultRecordBackoff  = 200 * time.Millisecond
)

var (
	// ErrAsyncDisabled 未配置 MQ 时不支持异步请求
	ErrAsyncDisabled = errors.New("async replies are disabled")
	// ErrRecordFailed 工作流已成功（可能已创建日历事件），但运行记录写入失败。
	// 调用方不得重新执行工作流
	ErrRecordFailed = errors.New("workflow succeeded but the run could not be recorded")
)

// Runner 执行一次工作流（agent.Engine）
type Runner interface {
	Run(ctx context.Context, email string) (*model.WorkflowState, error)
}

// Recorder 写入运行记录及 outbox 事件（repository.RunRepository）
type Recorder interface {
	Record(ctx context.Context, run *model.WorkflowRun, events ...repository.Event) error
	// FindByRequestID 不存在时返回 repository.ErrRunNotFound
	FindByRequestID(ctx context.Context, requestID string) (*model.WorkflowRun, error)
}

type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Request 一次回复请求。RequestID 只在异步流程中设置
type Request struct {
	RequestID string
	Source    string
	Email     string
}

// Result is returned on failure too; Run holds the audit fields of the attempt.
type Result struct {
	Reply string
	State *model.WorkflowState
	Run   *model.WorkflowRun
}

type Service struct {
	engine         Runner
	recorder       Recorder
	publisher      Publisher
	logger         *zap.Logger
	now            func() time.Time
	recordAttempts int
	recordBackoff  time.Duration
}

// NewService recorder 和 publisher 可以为 nil（未配置数据库 / MQ）
func NewService(engine Runner, recorder Recorder, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:         engine,
		recorder:       recorder,
		publisher:      publisher,
		logger:         logger,
		now:            time.Now,
		recordAttempts: defaultRecordAttempts,
		recordBackoff:  defaultRecordBackoff,
	}
}

// WithRecordRetry 设置异步成功结果写入的重试次数和退避间隔
func (s *Service) WithRecordRetry(attempts int, backoff time.Duration) *Service {
	if attempts > 0 {
		s.recordAttempts = attempts
	}
	if backoff >= 0 {
		s.recordBackoff = backoff
	}
	return s
}

func (s *Service) AsyncEnabled() bool {
	return s.publisher != nil
}

// Reply runs the workflow once and audits it.
//
// Synchronous requests are recorded whether they succeed or fail, and an
// audit write failure never affects the reply. Async requests (RequestID set)
// are recorded only on success, together with their outbox events. The write
// is retried on its own; if it still fails the error wraps ErrRecordFailed and
// the workflow must not be run again, since its side effects already happened.
// Failed async attempts are left to the caller: retry, or RecordFailure.
// An async request that already has a run is not executed again; Result.Run
// is the stored run and Reply is empty.
func (s *Service) Reply(ctx context.Context, req Request) (*Result, error) {
	ctx = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, s.logger)

	if req.RequestID != "" && s.recorder != nil {
		existing, err := s.recorder.FindByRequestID(ctx, req.RequestID)
		switch {
		case err == nil:
			log.Info("Request already processed, skipping workflow",
				zap.String("request_id", req.RequestID),
				zap.String("run_id", existing.RunID),
				zap.String("status", existing.Status),
			)
			return &Result{Run: existing}, nil
		case !errors.Is(err, repository.ErrRunNotFound):
			return &Result{}, fmt.Errorf("lookup run for request %s: %w", req.RequestID, err)
		}
	}

	start := s.now()
	state, err := s.engine.Run(ctx, req.Email)
	run := s.newRun(ctx, req, state, start)

	res := &Result{State: state, Run: run}
	if err != nil {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		if req.RequestID == "" {
			s.record(ctx, log, run)
		}
		return res, err
	}

	res.Reply = state.Reply
	run.Status = model.RunStatusSucceeded
	run.ReplyChars = len(state.Reply)

	if req.RequestID == "" {
		s.record(ctx, log, run)
		return res, nil
	}

	if s.recorder != nil {
		if err := s.recordWithRetry(ctx, log, run, s.successEvents(ctx, req, state, run)); err != nil {
			return res, fmt.Errorf("%w: %w", ErrRecordFailed, err)
		}
	}
	return res, nil
}

// recordWithRetry 只重试写入，不重跑工作流
func (s *Service) recordWithRetry(ctx context.Context, log *zap.Logger, run *model.WorkflowRun, events []repository.Event) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = s.recorder.Record(ctx, run, events...); err == nil {
			return nil
		}
		retryable, errType := util.IsRetryableError(err)
		if !retryable || attempt >= s.recordAttempts {
			return err
		}
		log.Warn("Failed to record workflow run, retrying",
			zap.String("run_id", run.RunID),
			zap.Int("attempt", attempt),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * s.recordBackoff):
		}
	}
}

// RecordFailure 写入失败的运行记录及 email.reply.failed 事件
func (s *Service) RecordFailure(ctx context.Context, req Request, res *Result, cause error, retryCount int64) error {
	if s.recorder == nil {
		return nil
	}

	var run *model.WorkflowRun
	if res != nil {
		run = res.Run
	}
	if run == nil {
		run = s.newRun(ctx, req, nil, s.now())
	}
	run.Status = model.RunStatusFailed
	run.Error = cause.Error()

	_, errType := util.IsRetryableError(cause)
	payload := mqcontracts.ReplyFailedPayload{
		RequestID:  req.RequestID,
		RunID:      run.RunID,
		Intent:     string(run.Intent),
		Error:      cause.Error(),
		ErrorType:  errType,
		RetryCount: retryCount,
		FailedAt:   s.now(),
		TraceID:    trace.FromContext(ctx),
	}
	return s.recorder.Record(ctx, run, repository.Event{
		RoutingKey: mqcontracts.RoutingKeyReplyFailed,
		Payload:    payload,
	})
}

// Enqueue 发布 email.reply.requested，返回 request_id
func (s *Service) Enqueue(ctx context.Context, email, source string) (string, error) {
	if s.publisher == nil {
		return "", ErrAsyncDisabled
	}
	if strings.TrimSpace(email) == "" {
		return "", agent.ErrEmptyEmail
	}

	ctx = trace.Ensure(ctx)
	payload := mqcontracts.ReplyRequestedPayload{
		RequestID:    uuid.NewString(),
		HumanMessage: email,
		Source:       source,
		RequestedAt:  s.now(),
		TraceID:      trace.FromContext(ctx),
	}
	if err := s.publisher.PublishWithContext(ctx, mqcontracts.RoutingKeyReplyRequested, payload); err != nil {
		return "", err
	}

	logger.WithTrace(ctx, s.logger).Info("Reply request enqueued", zap.String("request_id", payload.RequestID))
	return payload.RequestID, nil
}

func (s *Service) newRun(ctx context.Context, req Request, state *model.WorkflowState, start time.Time) *model.WorkflowRun {
	run := &model.WorkflowRun{
		RunID:     uuid.NewString(),
		RequestID: req.RequestID,
		TraceID:   trace.FromContext(ctx),
		Source:    req.Source,
		LatencyMs: s.now().Sub(start).Milliseconds(),
	}
	if state != nil {
		run.Intent = state.Intent
		run.Handler = state.Handler
	}
	return run
}

func (s *Service) successEvents(ctx context.Context, req Request, state *model.WorkflowState, run *model.WorkflowRun) []repository.Event {
	traceID := trace.FromContext(ctx)
	events := []repository.Event{{
		RoutingKey: mqcontracts.RoutingKeyReplyGenerated,
		Payload: mqcontracts.ReplyGeneratedPayload{
			RequestID:   req.RequestID,
			RunID:       run.RunID,
			Intent:      string(state.Intent),
			Handler:     string(state.Handler),
			Response:    state.Reply,
			GeneratedAt: s.now(),
			TraceID:     traceID,
		},
	}}

	if state.Scheduling != nil && state.Scheduling.Created && state.Meeting != nil {
		events = append(events, repository.Event{
			RoutingKey: mqcontracts.RoutingKeyMeetingScheduled,
			Payload: mqcontracts.MeetingScheduledPayload{
				RequestID:     req.RequestID,
				RunID:         run.RunID,
				EventID:       state.Scheduling.EventID,
				HTMLLink:      state.Scheduling.Link,
				Summary:       state.Meeting.Summary,
				AttendeeEmail: state.Meeting.AttendeeEmail,
				Date:          state.Meeting.Date,
				StartTime:     state.Meeting.StartTime,
				EndTime:       state.Meeting.EndTime,
				TraceID:       traceID,
			},
		})
	}
	return events
}

func (s *Service) record(ctx context.Context, log *zap.Logger, run *model.WorkflowRun) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, run); err != nil {
		log.Warn("Failed to record workflow run", zap.String("run_id", run.RunID), zap.Error(err))
	}
}
