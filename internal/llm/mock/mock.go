// Package mock 提供模拟真实调用行为的 Mock 大模型，用于离线演示与测试。
package mock

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"text-pipeline/internal/llm"
)

// 与演示程序保持一致的默认参数。
const (
	DefaultMaxConcurrent = 3
	DefaultDelay         = 100 * time.Millisecond

	modelName       = "mock"
	genericResponse = "这是一个通用的Mock LLM响应，用于演示LCEL功能。"
)

// Stats 是 Mock 大模型的运行统计。
type Stats struct {
	Type               string        `json:"type"`
	MaxConcurrentCalls int64         `json:"max_concurrent_calls"`
	MockDelay          time.Duration `json:"mock_delay"`
	TotalCalls         int64         `json:"total_calls"`
	CurrentAvailable   int64         `json:"current_available"`
}

// Manager 限制并发调用数量，并根据提示词关键字返回预定义回复。
type Manager struct {
	maxConcurrent int64
	delay         time.Duration
	sem           *semaphore.Weighted
	calls         atomic.Int64
	inFlight      atomic.Int64
}

// Option 定义 Manager 的可选配置。
type Option func(*Manager)

// WithDelay 覆盖模拟延迟。
func WithDelay(delay time.Duration) Option {
	return func(m *Manager) {
		if delay >= 0 {
			m.delay = delay
		}
	}
}

// WithMaxConcurrent 覆盖最大并发数。
func WithMaxConcurrent(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxConcurrent = int64(n)
		}
	}
}

// New 创建 Mock 大模型。
func New(opts ...Option) *Manager {
	m := &Manager{
		maxConcurrent: DefaultMaxConcurrent,
		delay:         DefaultDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.sem = semaphore.NewWeighted(m.maxConcurrent)
	return m
}

// Generate 占用一个并发名额，等待模拟延迟后返回匹配的模板。
func (m *Manager) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	m.inFlight.Add(1)
	defer func() {
		m.inFlight.Add(-1)
		m.sem.Release(1)
	}()

	m.calls.Add(1)

	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return &llm.Response{Text: Respond(req.Prompt), Model: modelName}, nil
}

// BatchInvoke 并发处理所有提示词，失败的提示词在对应位置返回占位文本。
func (m *Manager) BatchInvoke(ctx context.Context, prompts []string) []string {
	results := make([]string, len(prompts))
	var g errgroup.Group
	for i, prompt := range prompts {
		i, prompt := i, prompt
		g.Go(func() error {
			resp, err := m.Generate(ctx, llm.Request{Prompt: prompt})
			if err != nil {
				results[i] = failurePlaceholder(prompt)
				return nil
			}
			results[i] = resp.Text
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Stats 返回当前统计。
func (m *Manager) Stats() Stats {
	return Stats{
		Type:               "MockLLMManager",
		MaxConcurrentCalls: m.maxConcurrent,
		MockDelay:          m.delay,
		TotalCalls:         m.calls.Load(),
		CurrentAvailable:   m.maxConcurrent - m.inFlight.Load(),
	}
}

func failurePlaceholder(prompt string) string {
	runes := []rune(prompt)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return "[处理失败] " + string(runes) + "..."
}

// Respond 按理论、表格、报告的顺序匹配关键字并返回对应模板。
func Respond(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "理论") || strings.Contains(lower, "theory"):
		return theoryResponse
	case strings.Contains(lower, "表格") || strings.Contains(lower, "table"):
		return tableResponse
	case strings.Contains(lower, "报告") || strings.Contains(lower, "report"):
		return reportResponse
	default:
		return genericResponse
	}
}

const theoryResponse = `## 理论框架分析

### 研究背景
- 基于现有研究，该理论探讨了...
- 在相关领域，学者们发现...

### 核心假设
- 主要假设包括...
- 理论基于以下假设...

### 研究方法
- 采用定量分析方法
- 结合定性和定量研究

### 主要发现
- 研究发现支持了理论假设
- 数据表明理论模型有效

### 结论
- 该理论为相关研究提供了新视角
- 研究结果具有重要的理论和实践意义

`

const tableResponse = `## 表格数据分析

**Interpretation**: 该表格显示了重要的数据趋势，支持了研究假设。

**Key_Findings**: 数据表明存在显著的相关性，p值小于0.05。

**Implications**: 这些发现对理论发展具有重要意义。

`

const reportResponse = `# 分析报告

## Summary
基于理论分析和表格数据，本研究得出以下结论：

## Background
研究背景清晰，理论基础扎实。

## Methodology
研究方法科学，数据分析合理。

## Results
研究结果支持了理论假设。

## Conclusion
研究结论具有重要的理论和实践意义。

`
