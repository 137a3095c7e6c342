// Package audio inspects uploaded and synthesized clips. It never transcodes;
// probing is used for metrics and logging only.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnknownDuration is returned when the container cannot be probed.
var ErrUnknownDuration = errors.New("audio: duration unknown")

// WAVDuration reports the playback length of a RIFF/WAVE clip.
func WAVDuration(r io.ReadSeeker) (time.Duration, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%w: not a wav file", ErrUnknownDuration)
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration: %w", err)
	}
	return d, nil
}

// MP3Duration decodes frame headers to compute the clip length. go-mp3 always
// emits 16-bit stereo, so one sample frame is four bytes.
func MP3Duration(data []byte) (time.Duration, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("mp3 decode: %w", err)
	}
	length := dec.Length()
	rate := dec.SampleRate()
	if length <= 0 || rate <= 0 {
		return 0, ErrUnknownDuration
	}
	frames := length / 4
	return time.Duration(frames) * time.Second / time.Duration(rate), nil
}

// Duration probes data according to the file suffix (".wav", ".mp3").
// Other containers return ErrUnknownDuration, as does any decoder panic on
// malformed input: the data is client controlled.
func Duration(suffix string, data []byte) (d time.Duration, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d, err = 0, fmt.Errorf("%w: decoder panic: %v", ErrUnknownDuration, rec)
		}
	}()
	switch suffix {
	case ".wav":
		return WAVDuration(bytes.NewReader(data))
	case ".mp3":
		return MP3Duration(data)
	default:
		return 0, ErrUnknownDuration
	}
}
