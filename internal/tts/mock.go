package tts

import (
	"context"
	"time"
)

type mockSynth struct{}

// NewMockSynth returns a synthesizer whose audio is the text itself behind a
// fixed marker, which makes round trips easy to assert.
func NewMockSynth() Synthesizer {
	return &mockSynth{}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (Audio, error) {
	select {
	case <-ctx.Done():
		return Audio{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	return Audio{Data: append([]byte("mock-mp3:"), req.Text...), Format: "mp3"}, nil
}
