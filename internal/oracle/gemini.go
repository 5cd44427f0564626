package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini interprets addresses with a Google Gemini model.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGemini creates a Gemini interpreter.
func NewGemini(ctx context.Context, apiKey, model string, temperature float32) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, temperature: temperature}, nil
}

// Interpret sends the prompt and returns the concatenated text parts of the
// first candidate.
func (g *Gemini) Interpret(ctx context.Context, req Request) ([]byte, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(g.temperature)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errEmptyResponse
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return nil, errEmptyResponse
	}
	return []byte(b.String()), nil
}

// Model returns the model name.
func (g *Gemini) Model() string {
	return g.model
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
