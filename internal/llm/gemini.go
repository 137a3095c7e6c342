package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-relay/internal/fault"
	"google.golang.org/genai"
)

type geminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator uses the Gemini API backend. The system turn is sent as
// the system instruction; remaining turns become contents.
func NewGeminiGenerator(ctx context.Context, endpoint, apiKey string) (Generator, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiGenerator{client: client}, nil
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}

	var system []string
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n"), genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return Reply{}, fault.Upstream(fmt.Errorf("gemini generate: %w", err))
	}

	var reply Reply
	if resp.UsageMetadata != nil {
		reply.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		reply.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return reply, nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.Thought:
			reply.Blocks = append(reply.Blocks, Block{Type: "thinking", Text: part.Text})
		case part.Text != "":
			reply.Blocks = append(reply.Blocks, Block{Type: BlockText, Text: part.Text})
		case part.FunctionCall != nil:
			reply.Blocks = append(reply.Blocks, Block{Type: "tool_call"})
		}
	}
	return reply, nil
}
