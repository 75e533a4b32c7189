package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/ken/internal/config"
)

// Provider names accepted in config.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// New builds the provider selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLM, logger zerolog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		opts := []OpenAIOption{}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, WithMaxTokens(cfg.MaxTokens))
		}
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, logger, opts...), nil
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires llm.api_key")
		}
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			BaseURL:   cfg.BaseURL,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
