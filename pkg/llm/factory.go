package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/config"
)

// NewClientFromConfig creates the configured provider's client. Supported
// providers are "openai" (including OpenAI-compatible endpoints) and
// "anthropic".
func NewClientFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (Client, error) {
	clientCfg := &Config{
		Endpoint:  cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}

	switch cfg.Provider {
	case "openai":
		client, err := NewOpenAIClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil
	case "anthropic":
		client, err := NewAnthropicClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
