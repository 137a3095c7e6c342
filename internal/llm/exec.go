package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-relay/internal/fault"
	"github.com/mattn/go-shellwords"
)

// execGenerator runs a local command per request. The request is written as
// JSON to stdin; the command answers with either plain content or typed
// blocks on stdout.
type execGenerator struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type execResponse struct {
	Content          string  `json:"content"`
	Blocks           []Block `json:"blocks,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("llm command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := json.Marshal(execRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Reply{}, err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, fault.Upstream(fmt.Errorf("llm exec command failed: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Reply{}, fault.Upstream(fmt.Errorf("decode llm exec response: %w", err))
	}
	reply := Reply{
		Blocks:           resp.Blocks,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}
	if len(reply.Blocks) == 0 && resp.Content != "" {
		reply.Blocks = []Block{{Type: BlockText, Text: resp.Content}}
	}
	return reply, nil
}
