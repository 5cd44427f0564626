package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

const defaultAnthropicMaxTokens = 1024

// Anthropic interprets addresses with a Claude model.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic creates an Anthropic interpreter.
func NewAnthropic(apiKey, model, baseURL string, maxTokens int) *Anthropic {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &Anthropic{
		client:    anthropic.NewClient(apiKey, opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Interpret sends the prompt as a single user message and joins the text
// blocks of the reply.
func (a *Anthropic) Interpret(ctx context.Context, req Request) ([]byte, error) {
	resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(a.model),
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(req.Prompt)},
			},
		},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, c := range resp.Content {
		if c.Text != nil {
			b.WriteString(*c.Text)
		}
	}
	if b.Len() == 0 {
		return nil, errEmptyResponse
	}
	return []byte(b.String()), nil
}

// Model returns the model name.
func (a *Anthropic) Model() string {
	return a.model
}
