package llm

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-relay/internal/config"
)

// New builds the generator selected by cfg.Mode. The result is shared by
// every request.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "cohere":
		return NewCohereGenerator(cfg.Endpoint, cfg.APIKey), nil
	case "openai":
		return NewOpenAIGenerator(cfg.Endpoint, cfg.APIKey), nil
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.Endpoint, cfg.APIKey)
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
