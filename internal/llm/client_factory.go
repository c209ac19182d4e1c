package llm

import (
	"context"
	"fmt"

	"tenderpipe/internal/config"
)

// NewClientFromConfig builds the backend selected by cfg.Provider.
func NewClientFromConfig(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaClient(cfg.BaseURL), nil
	case "openai":
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		return NewOpenAIClientWithConfig(oc), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey)
	case "mock":
		return &ScriptedClient{Handler: echoHandler}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// OptionsFromConfig converts the config section into generation defaults.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	opts := DefaultOptions()
	if cfg.Model != "" {
		opts.Model = cfg.Model
	}
	opts.Temperature = cfg.Temperature
	if cfg.ContextWindow > 0 {
		opts.ContextWindow = cfg.ContextWindow
	}
	if cfg.MaxOutputTokens > 0 {
		opts.MaxOutputTokens = cfg.MaxOutputTokens
	}
	return opts
}

// echoHandler backs the mock provider used for dry runs: it answers with a
// JSON envelope so downstream parsing paths are exercised.
func echoHandler(req ChatRequest) (string, error) {
	n := len(req.Prompt)
	if n > 200 {
		n = 200
	}
	return fmt.Sprintf(`{"model": %q, "echo": %q}`, req.Model, req.Prompt[:n]), nil
}
