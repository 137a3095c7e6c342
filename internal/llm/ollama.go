package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-relay/internal/fault"
)

const defaultOllamaEndpoint = "http://localhost:11434"

type ollamaGenerator struct {
	endpoint string
	model    string
}

func NewOllamaGenerator(endpoint, model string) Generator {
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	return &ollamaGenerator{endpoint: strings.TrimRight(endpoint, "/"), model: model}
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Message struct {
		Role     string `json:"role"`
		Content  string `json:"content"`
		Thinking string `json:"thinking,omitempty"`
	} `json:"message"`
	Done            bool   `json:"done"`
	EvalCount       int    `json:"eval_count,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Generate consumes the NDJSON stream from /api/chat and buffers it into a
// single reply.
func (g *ollamaGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	payload := ollamaRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   true,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return Reply{}, fault.Upstream(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Reply{}, fault.Upstream(fmt.Errorf("ollama returned status %s", resp.Status))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var content, thinking strings.Builder
	var reply Reply
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Reply{}, fault.Upstream(fmt.Errorf("decode ollama chunk: %w", err))
		}
		if chunk.Error != "" {
			return Reply{}, fault.Upstream(fmt.Errorf("ollama: %s", chunk.Error))
		}
		content.WriteString(chunk.Message.Content)
		thinking.WriteString(chunk.Message.Thinking)
		if chunk.EvalCount > 0 {
			reply.CompletionTokens = chunk.EvalCount
		}
		if chunk.PromptEvalCount > 0 {
			reply.PromptTokens = chunk.PromptEvalCount
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Reply{}, fault.Upstream(err)
	}
	if thinking.Len() > 0 {
		reply.Blocks = append(reply.Blocks, Block{Type: "thinking", Text: thinking.String()})
	}
	if content.Len() > 0 {
		reply.Blocks = append(reply.Blocks, Block{Type: BlockText, Text: content.String()})
	}
	return reply, nil
}
