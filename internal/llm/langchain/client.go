// Package langchain 通过 langchaingo 的模型实现调用大模型。
package langchain

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/llm"
)

const (
	providerName          = "langchain"
	defaultCompatibleBase = "https://dashscope.aliyuncs.com/compatible-mode/v1"
)

// Config 描述通过 langchaingo 调用通义千问所需的参数。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client 把 langchaingo 的 llms.Model 包装为 llm.Client。
type Client struct {
	model       llms.Model
	name        string
	temperature float64
	maxTokens   int
}

// Option 定义 Client 的可选配置。
type Option func(*Client)

// WithModelName 指定默认模型名称。
func WithModelName(name string) Option {
	return func(c *Client) {
		c.name = strings.TrimSpace(name)
	}
}

// WithDefaults 设置默认的温度与最大 token 数。
func WithDefaults(temperature float64, maxTokens int) Option {
	return func(c *Client) {
		if temperature > 0 {
			c.temperature = temperature
		}
		if maxTokens > 0 {
			c.maxTokens = maxTokens
		}
	}
}

// New 包装任意 langchaingo 模型。
func New(model llms.Model, opts ...Option) *Client {
	c := &Client{
		model:       model,
		temperature: llm.DefaultTemperature,
		maxTokens:   llm.DefaultMaxTokens,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewTongyi 基于 langchaingo 的 OpenAI 模型访问 DashScope 兼容模式。
func NewTongyi(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeMissingCredential, "未提供 DashScope API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultCompatibleBase
	}
	name := strings.TrimSpace(cfg.Model)
	if name == "" {
		name = llm.DefaultModel
	}

	model, err := lcopenai.New(
		lcopenai.WithToken(apiKey),
		lcopenai.WithModel(name),
		lcopenai.WithBaseURL(baseURL),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 langchaingo 模型失败")
	}
	return New(model, WithModelName(name), WithDefaults(cfg.Temperature, cfg.MaxTokens)), nil
}

// Generate 通过 langchaingo 发送 system 与 human 消息。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if c == nil || c.model == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "langchaingo 模型未初始化")
	}

	messages := make([]llms.MessageContent, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt))

	temperature := c.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	name := c.name
	if m := strings.TrimSpace(req.Model); m != "" {
		name = m
	}

	opts := []llms.CallOption{
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
	}
	if name != "" {
		opts = append(opts, llms.WithModel(name))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, llm.TransportError(providerName, err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, llm.EmptyResponse(providerName)
	}

	choice := resp.Choices[0]
	return &llm.Response{
		Text:             choice.Content,
		Model:            name,
		PromptTokens:     intFrom(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: intFrom(choice.GenerationInfo, "CompletionTokens"),
	}, nil
}

func intFrom(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
