package tts

import (
	"context"
	"errors"
	"strings"

	"github.com/loqalabs/loqa-relay/internal/fault"
)

// ErrEmptyText is returned for requests with nothing to speak.
var ErrEmptyText = errors.New("tts: text is empty")

// Request contains parameters to synthesize speech.
type Request struct {
	Text     string
	Language string
	Voice    string
}

// Audio is a fully buffered encoded clip.
type Audio struct {
	Data   []byte
	Format string
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

type nonEmpty struct {
	next Synthesizer
}

// RequireText rejects blank text before the engine is contacted.
func RequireText(next Synthesizer) Synthesizer {
	return &nonEmpty{next: next}
}

func (n *nonEmpty) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Audio{}, fault.BadInput(ErrEmptyText)
	}
	return n.next.Synthesize(ctx, req)
}
