package utils

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"leadflow/config"
	"leadflow/engine"
)

const defaultChatModel = "gpt-4o-mini"

// OpenAIGenerator implements engine.ContentGenerator on the OpenAI chat
// API. Every call carries a hard timeout and a token ceiling; an empty
// completion is treated as a failure so rendering stays fail-closed.
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

func NewOpenAIGenerator(cfg config.OpenAIConfig) *OpenAIGenerator {
	model := cfg.Model
	if model == "" {
		model = defaultChatModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAIGenerator{
		client:    openai.NewClient(cfg.APIKey),
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req engine.GenerationRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.Instruction},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("content generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", engine.ErrEmptyGeneration
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", engine.ErrEmptyGeneration
	}
	return content, nil
}

func buildPrompt(req engine.GenerationRequest) string {
	var b strings.Builder

	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) > 0 {
		b.WriteString("Context:\n")
		for _, k := range keys {
			if req.Context[k] == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", k, req.Context[k])
		}
		b.WriteString("\n")
	}

	if req.Skeleton != "" {
		b.WriteString("Write only the body content that belongs inside this HTML skeleton, without repeating the skeleton itself:\n")
		b.WriteString(req.Skeleton)
		b.WriteString("\n")
	}

	if b.Len() == 0 {
		return "Write the email content now."
	}
	return b.String()
}
