package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-relay/internal/config"
)

// Responder runs one single-turn exchange: fixed system instruction plus the
// caller's transcript.
type Responder struct {
	generator          Generator
	model              string
	systemPrompt       string
	fallbackTranscript string
	fallbackReply      string
	maxTokens          int
	temperature        float64
	logger             *slog.Logger
}

func NewResponder(generator Generator, llmCfg config.LLMConfig, relayCfg config.RelayConfig, logger *slog.Logger) *Responder {
	return &Responder{
		generator:          generator,
		model:              llmCfg.Model,
		systemPrompt:       relayCfg.SystemPrompt,
		fallbackTranscript: relayCfg.FallbackTranscript,
		fallbackReply:      relayCfg.FallbackReply,
		maxTokens:          llmCfg.MaxTokens,
		temperature:        llmCfg.Temperature,
		logger:             logger.With(slog.String("component", "responder")),
	}
}

// Prompt returns the text sent as the user turn: the transcript, or the
// fallback placeholder when nothing was recognized.
func (r *Responder) Prompt(transcript string) string {
	if strings.TrimSpace(transcript) == "" {
		return r.fallbackTranscript
	}
	return transcript
}

// Answer is the reply text and whether the fallback acknowledgment replaced
// an answer without text blocks.
type Answer struct {
	Text     string
	Fallback bool
}

// Respond returns the reply text. An answer with no text blocks becomes the
// fallback acknowledgment.
func (r *Responder) Respond(ctx context.Context, transcript string) (Answer, error) {
	req := Request{
		Model: r.model,
		Messages: []Message{
			{Role: RoleSystem, Content: r.systemPrompt},
			{Role: RoleUser, Content: r.Prompt(transcript)},
		},
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	}

	start := time.Now()
	reply, err := r.generator.Generate(ctx, req)
	if err != nil {
		return Answer{}, err
	}
	text := reply.Text()
	r.logger.Debug("chat reply received",
		slog.Int("blocks", len(reply.Blocks)),
		slog.Int("prompt_tokens", reply.PromptTokens),
		slog.Int("completion_tokens", reply.CompletionTokens),
		slog.Duration("latency", time.Since(start)))
	if text == "" {
		return Answer{Text: r.fallbackReply, Fallback: true}, nil
	}
	return Answer{Text: text}, nil
}
