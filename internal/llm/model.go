package llm

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Model 把任意 Client 暴露为 langchaingo 的 llms.Model，便于放入 chains 中使用。
type Model struct {
	client Client
}

var _ llms.Model = (*Model)(nil)

// NewModel 创建适配器。
func NewModel(client Client) *Model {
	return &Model{client: client}
}

// Call 以单条提示词调用模型。
func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// GenerateContent 将 system 消息合并为 Request.System，其余文本拼接为 Request.Prompt。
func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	var system, prompt []string
	for _, msg := range messages {
		for _, part := range msg.Parts {
			text, ok := part.(llms.TextContent)
			if !ok {
				continue
			}
			if msg.Role == schema.ChatMessageTypeSystem {
				system = append(system, text.Text)
			} else {
				prompt = append(prompt, text.Text)
			}
		}
	}

	resp, err := m.client.Generate(ctx, Request{
		System:      strings.Join(system, "\n"),
		Prompt:      strings.Join(prompt, "\n"),
		Model:       opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content: resp.Text,
			GenerationInfo: map[string]any{
				"Model":            resp.Model,
				"PromptTokens":     resp.PromptTokens,
				"CompletionTokens": resp.CompletionTokens,
			},
		}},
	}, nil
}
