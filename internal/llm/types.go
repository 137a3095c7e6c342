package llm

import (
	"context"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// BlockText is the only content block type that reaches the caller.
	BlockText = "text"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single chat completion.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Block is a typed piece of model output (text, thinking, tool call...).
type Block struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Reply is the ordered content of the assistant message.
type Reply struct {
	Blocks           []Block
	PromptTokens     int
	CompletionTokens int
}

// Text joins the non-empty text blocks with newlines and trims the result.
func (r Reply) Text() string {
	var parts []string
	for _, b := range r.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// Generator defines a pluggable chat backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}
