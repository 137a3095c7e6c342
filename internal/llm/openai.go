package llm

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-relay/internal/fault"
	openai "github.com/sashabaranov/go-openai"
)

type openAIGenerator struct {
	client *openai.Client
}

// NewOpenAIGenerator targets the OpenAI chat completions API or a compatible
// endpoint.
func NewOpenAIGenerator(endpoint, apiKey string) Generator {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &openAIGenerator{client: openai.NewClientWithConfig(cfg)}
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return Reply{}, fault.Upstream(fmt.Errorf("openai chat: %w", err))
	}

	reply := Reply{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		return reply, nil
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		reply.Blocks = append(reply.Blocks, Block{Type: BlockText, Text: msg.Content})
	}
	for _, part := range msg.MultiContent {
		reply.Blocks = append(reply.Blocks, Block{Type: string(part.Type), Text: part.Text})
	}
	return reply, nil
}
