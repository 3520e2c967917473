// Package dashscope 调用 DashScope 原生的文本生成接口 (Generation API)。
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/llm"
)

const (
	providerName   = "dashscope"
	defaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"
	generationPath = "/services/aigc/text-generation/generation"
	defaultTimeout = 60 * time.Second
)

// Config 描述原生接口的调用参数。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Client 是 DashScope Generation API 的 HTTP 客户端。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewClient 创建客户端，缺少 API Key 时返回错误。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeMissingCredential, "未提供 DashScope API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = llm.DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = llm.DefaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type input struct {
	Prompt   string    `json:"prompt,omitempty"`
	Messages []message `json:"messages,omitempty"`
}

type parameters struct {
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	ResultFormat string  `json:"result_format"`
}

type generationRequest struct {
	Model      string     `json:"model"`
	Input      input      `json:"input"`
	Parameters parameters `json:"parameters"`
}

type generationResponse struct {
	RequestID string `json:"request_id"`
	Output    struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Generate 调用 Generation API 并返回 output.text。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := c.model
	if m := strings.TrimSpace(req.Model); m != "" {
		model = m
	}
	body := generationRequest{
		Model: model,
		Parameters: parameters{
			Temperature:  c.temperature,
			MaxTokens:    c.maxTokens,
			ResultFormat: "text",
		},
	}
	if req.Temperature > 0 {
		body.Parameters.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		body.Parameters.MaxTokens = req.MaxTokens
	}
	if system := strings.TrimSpace(req.System); system != "" {
		body.Input.Messages = []message{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Prompt},
		}
	} else {
		body.Input.Prompt = req.Prompt
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 DashScope 请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generationPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 DashScope 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(providerName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, llm.TransportError(providerName, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Code != "" {
			return nil, llm.StatusError(providerName, resp.StatusCode,
				fmt.Sprintf("%s: %s (request_id=%s)", apiErr.Code, apiErr.Message, apiErr.RequestID))
		}
		return nil, llm.StatusError(providerName, resp.StatusCode, string(raw))
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, xerrors.Wrap(llm.CodeUpstream, err, "解析 DashScope 响应失败")
	}
	if strings.TrimSpace(decoded.Output.Text) == "" {
		return nil, llm.EmptyResponse(providerName)
	}

	return &llm.Response{
		Text:             decoded.Output.Text,
		Model:            model,
		PromptTokens:     decoded.Usage.InputTokens,
		CompletionTokens: decoded.Usage.OutputTokens,
	}, nil
}
