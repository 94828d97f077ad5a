// Package calendar creates meeting events through the calendar MCP server
// or directly through Google Calendar API v3.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/pkg/circuitbreaker"
	"github.com/seweryn-pilarska/email-reply/pkg/metrics"
	"github.com/seweryn-pilarska/email-reply/pkg/otel"
)

const (
	ProviderMCP    = "mcp"
	ProviderGoogle = "google"
)

// ErrNotCreated 日历服务未确认创建（非 201）
var ErrNotCreated = errors.New("calendar: event not created")

// Client is implemented by every calendar provider.
type Client interface {
	CreateEvent(ctx context.Context, event Event, sendNotifications bool) (*Created, error)
}

// Created 已创建的事件
type Created struct {
	ID       string `json:"id"`
	HTMLLink string `json:"htmlLink"`
	Status   string `json:"status"`
}

// StatusError 日历服务返回的非成功状态
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("calendar returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("calendar returned status %d: %s", e.StatusCode, e.Detail)
}

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

func (e *StatusError) Unwrap() error { return ErrNotCreated }

// Config 日历配置（calendar 段）
type Config struct {
	Provider        string                `yaml:"provider"`
	URL             string                `yaml:"url"`
	CalendarID      string                `yaml:"calendar_id"`
	CredentialsFile string                `yaml:"credentials_file"`
	Timeout         time.Duration         `yaml:"timeout"`
	CircuitBreaker  circuitbreaker.Config `yaml:"circuit_breaker"`
}

func (c Config) calendarID() string {
	if c.CalendarID == "" {
		return "primary"
	}
	return c.CalendarID
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

// New builds the configured provider.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case "", ProviderMCP:
		if cfg.URL == "" {
			return nil, errors.New("calendar.url is required for the mcp provider")
		}
		return NewMCPClient(cfg, logger), nil
	case ProviderGoogle:
		return NewGoogleClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown calendar provider %q", cfg.Provider)
	}
}

// guarded 熔断 + 超时 + 指标 + span，两个 provider 共用
type guarded struct {
	provider string
	cb       *circuitbreaker.CircuitBreaker
	timeout  time.Duration
}

func newGuarded(provider string, cfg Config, logger *zap.Logger) guarded {
	return guarded{
		provider: provider,
		cb:       circuitbreaker.Observed("calendar."+provider, cfg.CircuitBreaker, logger),
		timeout:  cfg.timeout(),
	}
}

func (g guarded) create(ctx context.Context, event Event, fn func(context.Context) (*Created, error)) (*Created, error) {
	ctx, span := otel.ClientSpan(ctx, "calendar", "create_event",
		attribute.String("calendar.provider", g.provider),
		attribute.Int("calendar.attendees", len(event.Attendees)),
	)

	var created *Created
	err := g.cb.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		start := time.Now()
		var err error
		created, err = fn(callCtx)
		metrics.RecordCalendarCallLatency(g.provider, statusLabel(err), time.Since(start))
		return err
	})

	otel.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func statusLabel(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "created"
	case errors.As(err, &se):
		return fmt.Sprintf("%d", se.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
