package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-relay/internal/fault"
	"github.com/mattn/go-shellwords"
)

// execSynth runs a local TTS command per request. The command reads one JSON
// request on stdin and writes NDJSON lines of base64 audio; parts are
// concatenated in order until a line marks final.
type execSynth struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Voice    string `json:"voice,omitempty"`
}

type execResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format,omitempty"`
	Final       bool   `json:"final"`
	Error       string `json:"error,omitempty"`
}

func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (Audio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(execRequest{Text: req.Text, Language: req.Language, Voice: req.Voice})
	if err != nil {
		return Audio{}, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Audio{}, err
	}
	if err := cmd.Start(); err != nil {
		return Audio{}, fault.Internal(fmt.Errorf("start tts command: %w", err))
	}

	audio := Audio{Format: "mp3"}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	var decodeErr error
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			decodeErr = fmt.Errorf("decode tts response: %w", err)
			break
		}
		if resp.Error != "" {
			decodeErr = fmt.Errorf("tts command: %s", resp.Error)
			break
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
		if err != nil {
			decodeErr = fmt.Errorf("decode tts audio: %w", err)
			break
		}
		audio.Data = append(audio.Data, chunk...)
		if resp.Format != "" {
			audio.Format = resp.Format
		}
		if resp.Final {
			break
		}
	}
	if decodeErr == nil {
		decodeErr = scanner.Err()
	}
	if decodeErr != nil {
		_ = cmd.Process.Kill()
	}
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return Audio{}, ctx.Err()
	case decodeErr != nil:
		return Audio{}, fault.Internal(decodeErr)
	case waitErr != nil:
		return Audio{}, fault.Internal(fmt.Errorf("tts command failed: %w: %s", waitErr, strings.TrimSpace(stderr.String())))
	}
	return audio, nil
}
