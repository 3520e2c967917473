package component

import (
	"context"
	"fmt"
	"strings"

	"text-pipeline/internal/chain"
	"text-pipeline/internal/llm"
	"text-pipeline/pkg/logger"
)

// DefaultTheoryLines 是理论提取读取的行数。
const DefaultTheoryLines = 20

const theoryPrompt = `你是一名学术研究助理。请根据以下论文开头内容提取理论框架，
分别说明研究背景、核心假设、研究方法、主要发现和结论。

{{.lines}}

请使用Markdown格式输出。`

// Theory 是理论提取的结果，JSON 键与演示程序的输出保持一致。
type Theory struct {
	Lines    []string `json:"前20行内容"`
	Analysis string   `json:"理论框架分析,omitempty"`
}

// Empty 判断是否没有任何理论内容。
func (t Theory) Empty() bool {
	return len(t.Lines) == 0 && strings.TrimSpace(t.Analysis) == ""
}

// TheoryExtractor 选取文档开头的非空行，可选地交给大模型分析。
type TheoryExtractor struct {
	lineLimit int
	chain     *chain.PromptChain
}

// TheoryOption 定义理论提取器的可选配置。
type TheoryOption func(*TheoryExtractor)

// WithTheoryAnalysis 启用大模型分析。
func WithTheoryAnalysis(client llm.Client) TheoryOption {
	return func(e *TheoryExtractor) {
		if client != nil {
			e.chain = chain.FromClient(client, theoryPrompt, []string{"lines"})
		}
	}
}

// WithLineLimit 修改读取的行数。
func WithLineLimit(n int) TheoryOption {
	return func(e *TheoryExtractor) {
		if n > 0 {
			e.lineLimit = n
		}
	}
}

// NewTheoryExtractor 创建理论提取器。
func NewTheoryExtractor(opts ...TheoryOption) *TheoryExtractor {
	e := &TheoryExtractor{lineLimit: DefaultTheoryLines}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Extract 取前 N 行中去除首尾空白后的非空行。
func (e *TheoryExtractor) Extract(ctx context.Context, content string) (*Result[Theory], error) {
	lines := strings.Split(content, "\n")
	if len(lines) > e.lineLimit {
		lines = lines[:e.lineLimit]
	}
	logger.Named("component.theory").Debug("使用文档开头内容进行分析", "lines", len(lines))

	theory := Theory{Lines: make([]string, 0, len(lines))}
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			theory.Lines = append(theory.Lines, trimmed)
		}
	}

	if e.chain != nil && len(theory.Lines) > 0 {
		analysis, err := e.chain.Invoke(ctx, map[string]any{"lines": strings.Join(theory.Lines, "\n")})
		if err != nil {
			return nil, fmt.Errorf("理论框架分析失败: %w", err)
		}
		theory.Analysis = analysis
	}

	return &Result[Theory]{
		Type:     TypeTheory,
		Content:  theory,
		Status:   StatusSuccess,
		Summary:  "理论框架提取完成",
		Metadata: map[string]int{"line_count": len(theory.Lines)},
	}, nil
}
