package llm

import (
	"context"
	"fmt"
	"log/slog"

	"agent-market/internal/domain"
	"agent-market/internal/infra/config"
)

// NewProvider builds the configured LLM provider, wrapped in a circuit
// breaker when enabled.
func NewProvider(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	var p domain.LLMProvider
	switch cfg.Provider {
	case "bedrock":
		bp, err := NewBedrockProvider(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		p = bp
	case "anthropic":
		p = NewAnthropicProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", domain.ErrInvalidInput, cfg.Provider)
	}

	if cfg.CircuitBreaker.Enabled {
		p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
	}
	return p, nil
}
