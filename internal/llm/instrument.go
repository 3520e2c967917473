package llm

import (
	"context"
	"time"

	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/observability/metrics"
)

type instrumentedClient struct {
	next     Client
	provider string
}

// Instrument 为客户端记录调用次数、耗时与 token 用量。
func Instrument(client Client, provider string) Client {
	return &instrumentedClient{next: client, provider: provider}
}

func (c *instrumentedClient) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.next.Generate(ctx, req)
	outcome := "success"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
	}
	metrics.ObserveLLMRequest(c.provider, outcome, time.Since(start))
	if resp != nil {
		metrics.ObserveLLMTokens(c.provider, resp.PromptTokens, resp.CompletionTokens)
	}
	return resp, err
}
