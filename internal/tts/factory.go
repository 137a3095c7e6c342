package tts

import (
	"fmt"

	"github.com/loqalabs/loqa-relay/internal/config"
)

// New builds the synthesizer selected by cfg.Mode, guarded against blank
// input.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	var synth Synthesizer
	switch cfg.Mode {
	case "gtranslate":
		synth = NewGTranslateSynth(cfg.Endpoint, cfg.MaxChunkRunes)
	case "openai":
		synth = NewOpenAISynth(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Voice)
	case "exec":
		s, err := NewExecSynth(cfg.Command)
		if err != nil {
			return nil, err
		}
		synth = s
	case "mock":
		synth = NewMockSynth()
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
	return RequireText(synth), nil
}
