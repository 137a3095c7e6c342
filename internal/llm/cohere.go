package llm

import (
	"context"
	"fmt"
	"strings"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/option"
	"github.com/loqalabs/loqa-relay/internal/fault"
)

type cohereGenerator struct {
	client *cohereclient.Client
}

// NewCohereGenerator speaks the Cohere v2 chat API through the official SDK.
// An empty endpoint keeps the SDK's default base URL.
func NewCohereGenerator(endpoint, apiKey string) Generator {
	opts := []option.RequestOption{
		option.WithToken(apiKey),
		// The stage deadline bounds the call; SDK retries would only eat it.
		option.WithMaxAttempts(1),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(endpoint, "/")))
	}
	return &cohereGenerator{client: cohereclient.NewClient(opts...)}
}

func (g *cohereGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	chatReq := &cohere.V2ChatRequest{
		Model:    req.Model,
		Messages: cohereMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = &req.Temperature
	}

	resp, err := g.client.V2.Chat(ctx, chatReq)
	if err != nil {
		return Reply{}, fault.Upstream(fmt.Errorf("cohere chat: %w", err))
	}

	var reply Reply
	if resp.Usage != nil && resp.Usage.Tokens != nil {
		if n := resp.Usage.Tokens.InputTokens; n != nil {
			reply.PromptTokens = int(*n)
		}
		if n := resp.Usage.Tokens.OutputTokens; n != nil {
			reply.CompletionTokens = int(*n)
		}
	}
	if resp.Message == nil {
		return reply, nil
	}
	for _, item := range resp.Message.Content {
		if item == nil {
			continue
		}
		if item.Text != nil {
			reply.Blocks = append(reply.Blocks, Block{Type: BlockText, Text: item.Text.Text})
			continue
		}
		reply.Blocks = append(reply.Blocks, Block{Type: item.Type})
	}
	return reply, nil
}

func cohereMessages(msgs []Message) cohere.ChatMessages {
	out := make(cohere.ChatMessages, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, &cohere.ChatMessageV2{
				Role:   "system",
				System: &cohere.SystemMessage{Content: &cohere.SystemMessageContent{String: m.Content}},
			})
		case RoleAssistant:
			out = append(out, &cohere.ChatMessageV2{
				Role:      "assistant",
				Assistant: &cohere.AssistantMessage{Content: &cohere.AssistantMessageContent{String: m.Content}},
			})
		default:
			out = append(out, &cohere.ChatMessageV2{
				Role: "user",
				User: &cohere.UserMessage{Content: &cohere.UserMessageContent{String: m.Content}},
			})
		}
	}
	return out
}
