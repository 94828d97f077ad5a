package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/seweryn-pilarska/email-reply/internal/llm"
	"github.com/seweryn-pilarska/email-reply/internal/model"
)

// ReplyGenerator writes a free-text reply with a purpose-specific prompt.
type ReplyGenerator struct {
	client       llm.Client
	purpose      string
	model        string
	temperature  float32
	systemPrompt string
	prompt       func(email string, intent model.Intent) string
}

// NewComplaintReplyGenerator 投诉：道歉语气
func NewComplaintReplyGenerator(client llm.Client, modelName string, temperature float32, systemPrompt string) *ReplyGenerator {
	return &ReplyGenerator{
		client:       client,
		purpose:      "complaint",
		model:        modelName,
		temperature:  temperature,
		systemPrompt: systemPrompt,
		prompt:       func(email string, _ model.Intent) string { return complaintPrompt(email) },
	}
}

// NewDefaultReplyGenerator 其余意图：专业回复，prompt 中带意图
func NewDefaultReplyGenerator(client llm.Client, modelName string, temperature float32, systemPrompt string) *ReplyGenerator {
	return &ReplyGenerator{
		client:       client,
		purpose:      "reply",
		model:        modelName,
		temperature:  temperature,
		systemPrompt: systemPrompt,
		prompt:       defaultPrompt,
	}
}

func (g *ReplyGenerator) Generate(ctx context.Context, email string, intent model.Intent) (string, error) {
	out, err := g.client.Complete(ctx, llm.Request{
		Purpose:     g.purpose,
		Model:       g.model,
		Temperature: g.temperature,
		Messages:    messages(g.systemPrompt, g.prompt(email, intent)),
	})
	if err != nil {
		return "", fmt.Errorf("%s reply: %w", g.purpose, err)
	}
	if out = strings.TrimSpace(out); out == "" {
		return "", fmt.Errorf("%s reply: %w", g.purpose, llm.ErrEmptyCompletion)
	}
	return out, nil
}
