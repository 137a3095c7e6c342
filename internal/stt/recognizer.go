package stt

import (
	"context"
	"log/slog"
	"strings"
)

// Options are the decoding parameters passed to every recognizer call.
type Options struct {
	Language  string
	VADFilter bool
	BeamSize  int
}

// Segment is one recognized span of speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result captures recognizer output. Segments are in playback order.
type Result struct {
	Segments []Segment
	Language string
	Duration float64
}

// Recognizer abstracts STT backends that work on an audio file on disk.
type Recognizer interface {
	Transcribe(ctx context.Context, path string, opts Options) (Result, error)
	Close() error
}

// Transcriber applies the fixed decoding options and flattens segments into
// a single transcript.
type Transcriber struct {
	recognizer Recognizer
	opts       Options
	logger     *slog.Logger
}

func NewTranscriber(recognizer Recognizer, opts Options, logger *slog.Logger) *Transcriber {
	return &Transcriber{
		recognizer: recognizer,
		opts:       opts,
		logger:     logger.With(slog.String("component", "transcriber")),
	}
}

// Transcribe returns the trimmed concatenation of all segment texts. No
// segments yields an empty transcript, not an error.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	result, err := t.recognizer.Transcribe(ctx, path, t.opts)
	if err != nil {
		return "", err
	}
	t.logger.Debug("transcription complete",
		slog.Int("segments", len(result.Segments)),
		slog.String("language", result.Language),
		slog.Float64("duration", result.Duration))
	return JoinSegments(result.Segments), nil
}

// JoinSegments concatenates segment texts without a separator and trims the
// outer whitespace; engines already carry the inter-word spacing.
func JoinSegments(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Text)
	}
	return strings.TrimSpace(b.String())
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
