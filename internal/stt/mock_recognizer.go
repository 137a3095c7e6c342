package stt

import (
	"context"
	"fmt"
	"os"
)

type mockRecognizer struct {
	segments []Segment
}

// NewMockRecognizer returns a recognizer that answers every file with the
// given segments. With no segments it describes the file size instead.
func NewMockRecognizer(segments ...Segment) Recognizer {
	return &mockRecognizer{segments: segments}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, path string, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("mock stt: %w", err)
	}
	segments := m.segments
	if len(segments) == 0 {
		segments = []Segment{{Text: fmt.Sprintf("[mock transcript bytes=%d]", info.Size())}}
	}
	return Result{
		Segments: append([]Segment(nil), segments...),
		Language: opts.Language,
	}, nil
}

func (m *mockRecognizer) Close() error { return nil }
