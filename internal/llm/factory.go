package llm

import (
	"fmt"

	"github.com/scrypster/mneme/internal/config"
)

// NewChatGenerator constructs the chat adapter selected by cfg.Provider.
// Provider "none" returns nil without error: the extraction pipeline then
// runs in pattern-only mode.
func NewChatGenerator(cfg config.LLMConfig) (ChatGenerator, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL:        cfg.OllamaURL,
			Model:          cfg.OllamaModel,
			RequestsPerSec: cfg.RequestsPerSec,
		}), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("llm: openai provider requires an API key")
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		}), nil
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("llm: anthropic provider requires an API key")
		}
		return NewAnthropicClient(AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
		}), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
