package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/loqalabs/loqa-relay/internal/fault"
	openai "github.com/sashabaranov/go-openai"
)

type openAISynth struct {
	client *openai.Client
	model  string
	voice  string
}

// NewOpenAISynth uses the OpenAI speech endpoint. The language is inferred by
// the model from the text itself.
func NewOpenAISynth(endpoint, apiKey, model, voice string) Synthesizer {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &openAISynth{client: openai.NewClientWithConfig(cfg), model: model, voice: voice}
}

func (s *openAISynth) Synthesize(ctx context.Context, req Request) (Audio, error) {
	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Audio{}, &fault.Error{Kind: fault.FromHTTPStatus(apiErr.HTTPStatusCode), Err: fmt.Errorf("openai speech: %w", err)}
		}
		return Audio{}, fault.Upstream(fmt.Errorf("openai speech: %w", err))
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return Audio{}, fault.Upstream(fmt.Errorf("read openai speech: %w", err))
	}
	return Audio{Data: data, Format: "mp3"}, nil
}
