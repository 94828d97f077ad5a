package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/seweryn-pilarska/email-reply/internal/llm"
	"github.com/seweryn-pilarska/email-reply/internal/model"
)

// IntentClassifier labels an email with one intent. The label is returned as
// produced; unknown labels are left for the router's default branch.
type IntentClassifier struct {
	client       llm.Client
	model        string
	systemPrompt string
}

func NewIntentClassifier(client llm.Client, modelName, systemPrompt string) *IntentClassifier {
	return &IntentClassifier{client: client, model: modelName, systemPrompt: systemPrompt}
}

func (c *IntentClassifier) Classify(ctx context.Context, email string) (model.Intent, error) {
	out, err := c.client.Complete(ctx, llm.Request{
		Purpose:     "classify",
		Model:       c.model,
		Temperature: 0,
		Messages:    messages(c.systemPrompt, classifyPrompt(email)),
	})
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	return model.Intent(strings.TrimSpace(out)), nil
}
