package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Interpreter is the injected address interpretation capability. It takes an
// assembled request and returns the raw response body, which the caller
// checks with ValidateOutput.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) ([]byte, error)
}

// InterpreterFunc adapts a function to the Interpreter interface.
type InterpreterFunc func(ctx context.Context, req Request) ([]byte, error)

// Interpret calls f(ctx, req).
func (f InterpreterFunc) Interpret(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// Named is implemented by interpreters that can report the model they use.
type Named interface {
	Model() string
}

// ModelName returns the model behind an interpreter, or "" when unknown.
func ModelName(i Interpreter) string {
	if n, ok := i.(Named); ok {
		return n.Model()
	}
	return ""
}

// Supported providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	// ProviderRules interprets addresses from the rule set alone. It is
	// built outside this package since it shares scoring with validation.
	ProviderRules = "rules"
)

// Default models per provider.
const (
	DefaultGeminiModel    = "gemini-2.0-flash"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
)

// ErrMissingAPIKey is returned by NewInterpreter when no API key is set.
var ErrMissingAPIKey = errors.New("oracle api key is not set")

// Config selects and configures a provider.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

// NewInterpreter builds the interpreter for cfg.Provider.
func NewInterpreter(ctx context.Context, cfg Config) (Interpreter, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini, "":
		g, err := NewGemini(ctx, cfg.APIKey, withDefault(cfg.Model, DefaultGeminiModel), cfg.Temperature)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, withDefault(cfg.Model, DefaultOpenAIModel), cfg.BaseURL, cfg.Temperature), nil
	case ProviderAnthropic, "claude":
		return NewAnthropic(cfg.APIKey, withDefault(cfg.Model, DefaultAnthropicModel), cfg.BaseURL, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", cfg.Provider)
	}
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// errEmptyResponse is returned when a provider answers without any text.
var errEmptyResponse = errors.New("oracle returned no content")
