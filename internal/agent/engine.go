// Package agent implements the intent-routing reply workflow:
// classify → route → (extract → schedule) | complaint | default → reply.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/internal/calendar"
	"github.com/seweryn-pilarska/email-reply/internal/llm"
	"github.com/seweryn-pilarska/email-reply/internal/model"
	"github.com/seweryn-pilarska/email-reply/pkg/logger"
	"github.com/seweryn-pilarska/email-reply/pkg/metrics"
	"github.com/seweryn-pilarska/email-reply/pkg/otel"
)

// Config 引擎配置
type Config struct {
	// Model is used for extraction and reply generation.
	Model string
	// ClassifierModel defaults to Model.
	ClassifierModel string
	// ReplyTemperature applies to complaint and default replies; classification
	// and extraction always run at 0.
	ReplyTemperature float32
	SystemPrompt     string
	Meeting          MeetingPolicy
}

// Engine runs one workflow per call. It holds no per-run state and is safe
// for concurrent use.
type Engine struct {
	classifier *IntentClassifier
	extractor  *MeetingInfoExtractor
	scheduler  *ScheduleReplyComposer
	complaint  *ReplyGenerator
	fallback   *ReplyGenerator
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Engine)

// WithClock overrides the reference date source used for extraction.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(textGen llm.Client, cal calendar.Client, cfg Config, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	classifierModel := cfg.ClassifierModel
	if classifierModel == "" {
		classifierModel = cfg.Model
	}

	e := &Engine{
		classifier: NewIntentClassifier(textGen, classifierModel, cfg.SystemPrompt),
		extractor:  NewMeetingInfoExtractor(textGen, cfg.Model, cfg.SystemPrompt),
		scheduler:  NewScheduleReplyComposer(cal, cfg.Meeting),
		complaint:  NewComplaintReplyGenerator(textGen, cfg.Model, cfg.ReplyTemperature, cfg.SystemPrompt),
		fallback:   NewDefaultReplyGenerator(textGen, cfg.Model, cfg.ReplyTemperature, cfg.SystemPrompt),
		logger:     log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the workflow for one email. On error the returned state still
// carries the stages reached (and the intent, if classification succeeded);
// its Reply is empty.
func (e *Engine) Run(ctx context.Context, email string) (state *model.WorkflowState, err error) {
	if strings.TrimSpace(email) == "" {
		return nil, ErrEmptyEmail
	}

	ctx, span := otel.StartSpan(ctx, "agent.run")
	log := logger.WithTrace(ctx, e.logger)
	state = model.NewWorkflowState(email, e.now())

	defer func() {
		status := model.RunStatusSucceeded
		if err != nil {
			status = model.RunStatusFailed
		}
		metrics.IncrementWorkflowRun(string(state.Handler), status)
		span.SetAttributes(
			attribute.String("intent", string(state.Intent)),
			attribute.String("handler", string(state.Handler)),
		)
		otel.EndSpan(span, err)
	}()

	// Step 1: classify
	intent, err := e.classify(ctx, email)
	if err != nil {
		log.Error("Intent classification failed", zap.Error(err))
		return state, &StageError{Stage: model.StageClassified, Kind: ErrClassification, Err: err}
	}
	state.Intent = intent
	state.Enter(model.StageClassified)
	metrics.IncrementIntent(intentLabel(intent))

	// Step 2: route
	state.Handler = Route(intent)
	state.Enter(model.StageRouted)
	log = log.With(zap.String("intent", string(intent)), zap.String("handler", string(state.Handler)))
	log.Info("Email routed")

	// Step 3: run exactly one terminal handler
	switch state.Handler {
	case model.HandlerExtractMeetingInfo:
		e.scheduleMeeting(ctx, state, log)
	case model.HandlerComplaintAgent:
		err = e.generate(ctx, state, model.StageHandlingComplaint, e.complaint)
	default:
		err = e.generate(ctx, state, model.StageGeneratingDefault, e.fallback)
	}
	if err != nil {
		log.Error("Reply generation failed", zap.Error(err))
		return state, err
	}

	state.Enter(model.StageTerminal)
	log.Info("Workflow completed", zap.Int("reply_chars", len(state.Reply)))
	return state, nil
}

func (e *Engine) classify(ctx context.Context, email string) (model.Intent, error) {
	ctx, span := otel.StartSpan(ctx, "agent.classify")
	intent, err := e.classifier.Classify(ctx, email)
	otel.EndSpan(span, err)
	return intent, err
}

// scheduleMeeting 抽取失败或排期失败都转为回复文本，不返回错误
func (e *Engine) scheduleMeeting(ctx context.Context, state *model.WorkflowState, log *zap.Logger) {
	state.Enter(model.StageExtractingMeeting)
	extractCtx, span := otel.StartSpan(ctx, "agent.extract_meeting")
	info, err := e.extractor.Extract(extractCtx, state.Email, e.now())
	otel.EndSpan(span, err)
	if err != nil {
		var failure *ExtractionFailure
		if !errors.As(err, &failure) {
			failure = &ExtractionFailure{Reason: "unexpected error", Err: err}
		}
		log.Warn("Meeting extraction failed", zap.String("reason", failure.Reason), zap.Error(failure.Err))
		state.Reply = failure.Reply()
		return
	}
	state.Meeting = info

	state.Enter(model.StageSchedulingMeeting)
	scheduleCtx, span := otel.StartSpan(ctx, "agent.schedule_meeting")
	reply, outcome := e.scheduler.Schedule(scheduleCtx, state.Email, *info)
	span.SetAttributes(attribute.Bool("calendar.created", outcome.Created))
	span.End()

	if !outcome.Created {
		log.Warn("Meeting scheduling failed", zap.String("reason", outcome.Reason))
	}
	state.Scheduling = &outcome
	state.Reply = reply
}

func (e *Engine) generate(ctx context.Context, state *model.WorkflowState, stage model.Stage, gen *ReplyGenerator) error {
	state.Enter(stage)
	ctx, span := otel.StartSpan(ctx, "agent."+gen.purpose)
	reply, err := gen.Generate(ctx, state.Email, state.Intent)
	otel.EndSpan(span, err)
	if err != nil {
		return &StageError{Stage: stage, Kind: ErrGeneration, Err: err}
	}
	state.Reply = reply
	return nil
}

// intentLabel 未知标签统一记为 unknown，避免指标基数膨胀
func intentLabel(intent model.Intent) string {
	if intent.Known() {
		return string(intent)
	}
	return "unknown"
}
