package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/fault"
	openai "github.com/sashabaranov/go-openai"
)

// openAIRecognizer talks to the OpenAI transcription API or any server that
// implements it (self-hosted faster-whisper servers usually do). VAD and beam
// width are engine-side settings there and are not sent.
type openAIRecognizer struct {
	client *openai.Client
	model  string
}

func NewOpenAIRecognizer(cfg config.STTConfig) Recognizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openAIRecognizer{client: openai.NewClientWithConfig(clientCfg), model: model}
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, path string, opts Options) (Result, error) {
	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: path,
		Language: opts.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Result{}, classifyOpenAIError(err)
	}

	result := Result{Language: resp.Language, Duration: resp.Duration}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	if len(result.Segments) == 0 && resp.Text != "" {
		result.Segments = []Segment{{End: resp.Duration, Text: resp.Text}}
	}
	return result, nil
}

func (r *openAIRecognizer) Close() error { return nil }

func classifyOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &fault.Error{Kind: fault.FromHTTPStatus(apiErr.HTTPStatusCode), Err: fmt.Errorf("transcription api: %w", err)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &fault.Error{Kind: fault.FromHTTPStatus(reqErr.HTTPStatusCode), Err: fmt.Errorf("transcription api: %w", err)}
	}
	return fault.Upstream(fmt.Errorf("transcription api: %w", err))
}
