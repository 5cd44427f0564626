package core

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/addrintel/internal/config"
	"github.com/JonMunkholm/addrintel/internal/oracle"
	"github.com/JonMunkholm/addrintel/internal/validation"
)

// NewInterpreter builds the configured oracle. The rules provider, or any
// provider without an API key, interprets addresses from the rule sets
// alone.
func NewInterpreter(ctx context.Context, cfg config.OracleConfig) (oracle.Interpreter, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == oracle.ProviderRules {
		return validation.NewRuleInterpreter(), nil
	}
	if cfg.APIKey == "" {
		slog.Warn("ORACLE_API_KEY not set, using rule-based validation", "provider", provider)
		return validation.NewRuleInterpreter(), nil
	}

	return oracle.NewInterpreter(ctx, oracle.Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: float32(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
	})
}

// CloseInterpreter releases clients held by interp, if any.
func CloseInterpreter(interp oracle.Interpreter) error {
	if c, ok := interp.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
