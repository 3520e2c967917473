// Package llm 定义调用大模型的统一接口，以及重试、指标与 langchaingo 适配等通用能力。
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	xerrors "text-pipeline/internal/errors"
)

// 通义千问调用的默认参数。
const (
	DefaultModel       = "qwen3-235b-a22b-instruct-2507"
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 2000
)

// 大模型调用相关的错误码。
const (
	CodeUpstream      xerrors.Code = "LLM_UPSTREAM"
	CodeRateLimited   xerrors.Code = "LLM_RATE_LIMITED"
	CodeRejected      xerrors.Code = "LLM_REJECTED"
	CodeEmptyResponse xerrors.Code = "LLM_EMPTY_RESPONSE"
)

func init() {
	xerrors.Register(CodeUpstream, xerrors.Attributes{
		Message:    "llm provider unavailable",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		HTTPStatus: http.StatusBadGateway,
	})
	xerrors.Register(CodeRateLimited, xerrors.Attributes{
		Message:    "llm provider rate limited",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		HTTPStatus: http.StatusTooManyRequests,
	})
	xerrors.Register(CodeRejected, xerrors.Attributes{
		Message:    "llm provider rejected request",
		Severity:   xerrors.SeverityCritical,
		HTTPStatus: http.StatusBadGateway,
	})
	xerrors.Register(CodeEmptyResponse, xerrors.Attributes{
		Message:    "llm returned empty response",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusBadGateway,
	})

	// 供应商返回的状态码：限流与服务端错误可以重试，其余 4xx 视为请求被拒绝。
	xerrors.RegisterStatusRange(400, 499, CodeRejected)
	xerrors.RegisterStatusRange(http.StatusRequestTimeout, http.StatusRequestTimeout, CodeUpstream)
	xerrors.RegisterStatusRange(http.StatusTooManyRequests, http.StatusTooManyRequests, CodeRateLimited)
	xerrors.RegisterStatusRange(500, 599, CodeUpstream)
}

// Request 描述一次发送给大模型的调用。零值字段交由具体客户端使用其默认配置。
type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response 是大模型返回的原始文本及用量信息。
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 允许使用普通函数实现 Client。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 调用函数本身。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Complete 发送单条提示词并只返回文本。
func Complete(ctx context.Context, client Client, prompt string) (string, error) {
	if client == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "大模型客户端未初始化")
	}
	resp, err := client.Generate(ctx, Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// StatusError 根据 HTTP 状态码把供应商错误映射为统一错误码。
func StatusError(provider string, status int, body string) error {
	return xerrors.New(xerrors.CodeForStatus(status, CodeRejected),
		fmt.Sprintf("%s 返回错误状态 %d: %s", provider, status, strings.TrimSpace(body)),
		xerrors.WithMetadata("provider", provider),
		xerrors.WithMetadata("status", strconv.Itoa(status)),
	)
}

// TransportError 包装网络层错误；上下文取消与超时原样返回，避免被重试。
func TransportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return xerrors.Wrap(CodeUpstream, err, fmt.Sprintf("请求 %s 失败", provider),
		xerrors.WithMetadata("provider", provider))
}

// EmptyResponse 返回供应商响应为空时的错误。
func EmptyResponse(provider string) error {
	return xerrors.New(CodeEmptyResponse, fmt.Sprintf("%s 响应内容为空", provider),
		xerrors.WithMetadata("provider", provider))
}
