package stt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-relay/internal/config"
)

// New builds the recognizer selected by cfg.Mode.
func New(ctx context.Context, cfg config.STTConfig, logger *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "worker":
		return NewExecRecognizer(cfg, logger)
	case "openai":
		return NewOpenAIRecognizer(cfg), nil
	case "google":
		return NewGoogleRecognizer(ctx, cfg)
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

// OptionsFromConfig returns the fixed decoding options for every request.
func OptionsFromConfig(cfg config.STTConfig, language string) Options {
	return Options{Language: language, VADFilter: cfg.VADFilter, BeamSize: cfg.BeamSize}
}
