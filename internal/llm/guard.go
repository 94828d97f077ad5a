package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seweryn-pilarska/email-reply/pkg/circuitbreaker"
	"github.com/seweryn-pilarska/email-reply/pkg/logger"
	"github.com/seweryn-pilarska/email-reply/pkg/metrics"
	"github.com/seweryn-pilarska/email-reply/pkg/otel"
	"github.com/seweryn-pilarska/email-reply/pkg/util"
)

// guard 包装每次 provider 调用：限流 → 熔断 → 超时 → 指标，可选重试
type guard struct {
	provider   string
	limiter    *rate.Limiter
	cb         *circuitbreaker.CircuitBreaker
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

func newGuard(provider string, cfg Config, log *zap.Logger) *guard {
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &guard{
		provider:   provider,
		limiter:    rate.NewLimiter(limit, burst),
		cb:         circuitbreaker.Observed("llm."+provider, cfg.CircuitBreaker, log),
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		logger:     log,
	}
}

func (g *guard) do(ctx context.Context, req Request, call func(context.Context) (string, error)) (string, error) {
	ctx, span := otel.ClientSpan(ctx, "llm", req.Purpose,
		attribute.String("llm.provider", g.provider),
		attribute.String("llm.model", req.Model),
	)

	var (
		out string
		err error
	)
	for attempt := 0; ; attempt++ {
		out, err = g.once(ctx, req, call)
		if err == nil || attempt >= g.maxRetries {
			break
		}
		retryable, errType := util.IsRetryableError(err)
		if !retryable {
			break
		}
		logger.WithTrace(ctx, g.logger).Warn("Retrying text generation call",
			zap.String("purpose", req.Purpose),
			zap.Int("attempt", attempt+1),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(time.Duration(attempt+1) * g.backoff):
			continue
		}
		break
	}

	otel.EndSpan(span, err)
	return out, err
}

func (g *guard) once(ctx context.Context, req Request, call func(context.Context) (string, error)) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var out string
	err := g.cb.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		start := time.Now()
		text, err := call(callCtx)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				err = ErrEmptyCompletion
			}
		}
		metrics.RecordLLMCallLatency(g.provider, req.Purpose, statusLabel(err), time.Since(start))
		out = text
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	var se *StatusError
	switch {
	case errors.As(err, &se) && se.StatusCode >= 500:
		return "5xx"
	case errors.As(err, &se):
		return "4xx"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrEmptyCompletion):
		return "empty"
	default:
		return "error"
	}
}
