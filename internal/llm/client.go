// Package llm wraps the text-generation providers behind a single
// Complete call with rate limiting, a circuit breaker, per-call timeouts
// and latency metrics.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/pkg/circuitbreaker"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ErrEmptyCompletion 模型返回空内容
var ErrEmptyCompletion = errors.New("llm: empty completion")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request 一次文本生成调用
type Request struct {
	// Purpose labels the call in metrics and spans (classify, extract, reply...).
	Purpose     string
	Model       string
	Temperature float32
	Messages    []Message
	JSONMode    bool
	MaxTokens   int
}

// Client is implemented by every text-generation provider. Implementations
// are safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// StatusError 上游返回的非 2xx 状态
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Config 文本生成配置（llm 段）
type Config struct {
	Provider          string                `yaml:"provider"`
	APIKey            string                `yaml:"api_key"`
	BaseURL           string                `yaml:"base_url"`
	Model             string                `yaml:"model"`
	ClassifierModel   string                `yaml:"classifier_model"`
	Temperature       float32               `yaml:"temperature"`
	MaxTokens         int                   `yaml:"max_tokens"`
	Timeout           time.Duration         `yaml:"timeout"`
	MaxRetries        int                   `yaml:"max_retries"`
	RetryBackoff      time.Duration         `yaml:"retry_backoff"`
	RequestsPerSecond float64               `yaml:"requests_per_second"`
	Burst             int                   `yaml:"burst"`
	SystemPrompt      string                `yaml:"system_prompt"`
	CircuitBreaker    circuitbreaker.Config `yaml:"circuit_breaker"`
}

// New builds the configured provider.
func New(cfg Config, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return NewOpenAIClient(cfg, logger), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
