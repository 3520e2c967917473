package llm

import (
	"context"
	"time"

	xerrors "text-pipeline/internal/errors"
	"text-pipeline/pkg/logger"
)

type retryClient struct {
	next     Client
	attempts int
	backoff  time.Duration
}

// WithRetry 对可重试错误进行指数退避重试，attempts 为总尝试次数。
func WithRetry(client Client, attempts int, backoff time.Duration) Client {
	if attempts <= 1 {
		return client
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &retryClient{next: client, attempts: attempts, backoff: backoff}
}

func (r *retryClient) Generate(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		resp, err := r.next.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !xerrors.RetryableError(err) || attempt == r.attempts {
			break
		}

		wait := r.backoff << (attempt - 1)
		logger.Named("llm").Warn("大模型调用失败，准备重试",
			"attempt", attempt,
			"wait", wait,
			"code", xerrors.CodeOf(err),
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}
