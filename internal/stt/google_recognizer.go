package stt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/fault"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// googleRecognizer uses Cloud Speech synchronous recognition. Browsers record
// Opus at 48kHz; WAV and FLAC carry their own header.
type googleRecognizer struct {
	client *speech.Client
	model  string
}

// Cloud Speech wants a regional tag; bare language codes map to a default
// region.
var googleLanguageCodes = map[string]string{
	"ar": "ar-SA",
	"en": "en-US",
	"fr": "fr-FR",
	"es": "es-ES",
	"de": "de-DE",
}

func NewGoogleRecognizer(ctx context.Context, cfg config.STTConfig) (Recognizer, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	model := cfg.Model
	if model == "whisper-1" {
		model = ""
	}
	return &googleRecognizer{client: client, model: model}, nil
}

func (r *googleRecognizer) Transcribe(ctx context.Context, path string, opts Options) (Result, error) {
	recCfg, err := recognitionConfig(filepath.Ext(path), opts.Language)
	if err != nil {
		return Result{}, fault.BadInput(err)
	}
	recCfg.Model = r.model
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fault.Internal(fmt.Errorf("read audio: %w", err))
	}

	resp, err := r.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recCfg,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: data}},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		if status.Code(err) == codes.InvalidArgument {
			return Result{}, fault.BadInput(fmt.Errorf("speech recognize: %w", err))
		}
		return Result{}, fault.Upstream(fmt.Errorf("speech recognize: %w", err))
	}

	result := Result{Language: opts.Language}
	var start float64
	for _, res := range resp.GetResults() {
		if len(res.GetAlternatives()) == 0 {
			continue
		}
		end := res.GetResultEndTime().AsDuration().Seconds()
		text := res.GetAlternatives()[0].GetTranscript()
		// Results are separate utterances; keep a word boundary between them.
		if len(result.Segments) > 0 && !strings.HasPrefix(text, " ") {
			text = " " + text
		}
		result.Segments = append(result.Segments, Segment{Start: start, End: end, Text: text})
		start = end
	}
	result.Duration = start
	return result, nil
}

func (r *googleRecognizer) Close() error {
	return r.client.Close()
}

func recognitionConfig(suffix, language string) (*speechpb.RecognitionConfig, error) {
	code := language
	if mapped, ok := googleLanguageCodes[strings.ToLower(language)]; ok {
		code = mapped
	}
	cfg := &speechpb.RecognitionConfig{LanguageCode: code}
	switch strings.ToLower(suffix) {
	case ".webm":
		cfg.Encoding = speechpb.RecognitionConfig_WEBM_OPUS
		cfg.SampleRateHertz = 48000
	case ".ogg", ".opus":
		cfg.Encoding = speechpb.RecognitionConfig_OGG_OPUS
		cfg.SampleRateHertz = 48000
	case ".wav", ".flac":
		cfg.Encoding = speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	default:
		return nil, fmt.Errorf("container %q is not supported by cloud speech", suffix)
	}
	return cfg, nil
}
