package oracle

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAI interprets addresses with an OpenAI chat model, or any server that
// speaks the same API when baseURL is set.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAI creates an OpenAI interpreter.
func NewOpenAI(apiKey, model, baseURL string, temperature float32) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		temperature: temperature,
	}
}

// Interpret sends the prompt in JSON mode and returns the first choice.
func (o *OpenAI) Interpret(ctx context.Context, req Request) ([]byte, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, errEmptyResponse
	}
	return []byte(resp.Choices[0].Message.Content), nil
}

// Model returns the model name.
func (o *OpenAI) Model() string {
	return o.model
}
