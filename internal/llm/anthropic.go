package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicClient Anthropic Messages API provider
type AnthropicClient struct {
	client    *anthropic.Client
	guard     *guard
	maxTokens int
}

func NewAnthropicClient(cfg Config, logger *zap.Logger) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicClient{
		client:    &client,
		guard:     newGuard(ProviderAnthropic, cfg, logger),
		maxTokens: firstPositive(cfg.MaxTokens, defaultAnthropicMaxTokens),
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	return c.guard.do(ctx, req, func(ctx context.Context) (string, error) {
		msg, err := c.client.Messages.New(ctx, c.buildParams(req))
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) {
				return "", &StatusError{Provider: ProviderAnthropic, StatusCode: apiErr.StatusCode, Err: err}
			}
			return "", err
		}

		var sb strings.Builder
		for _, block := range msg.Content {
			if b, ok := block.AsAny().(anthropic.TextBlock); ok {
				sb.WriteString(b.Text)
			}
		}
		return sb.String(), nil
	})
}

// buildParams system 消息单独放到 System 字段，其余按顺序转换
func (c *AnthropicClient) buildParams(req Request) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.JSONMode {
		system = append(system, anthropic.TextBlockParam{Text: "Respond with a single JSON object and nothing else."})
	}

	return anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(firstPositive(req.MaxTokens, c.maxTokens)),
		System:      system,
		Messages:    messages,
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
}
