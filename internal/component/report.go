package component

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"text-pipeline/internal/chain"
	"text-pipeline/internal/llm"
)

// 数据不足时返回的固定提示。
const (
	InsufficientDataContent = "⚠️ 警告：理论框架和表格数据都为空，无法生成有意义的分析报告。"
	InsufficientDataSummary = "数据不足，无法生成报告"

	noTheoryFallback = "暂无理论框架数据"
	noTablesFallback = "暂无表格数据"
)

// ReportPrompt 是生成分析报告使用的模板。
const ReportPrompt = `你是一个专业的论文分析专家，擅长基于理论和数据生成分析报告。

请基于以下信息生成一份详细的论文分析报告：

## 理论框架
{{.theory_content}}

## 表格数据
{{.tables_content}}

请生成一份结构清晰、内容详实的分析报告，包括：
1. 研究背景和目的
2. 主要理论观点
3. 数据分析和发现
4. 结论和建议

请使用Markdown格式，确保报告逻辑清晰、内容完整。`

// ReportGenerator 基于理论与表格结果生成分析报告。
type ReportGenerator struct {
	chain *chain.PromptChain
}

// NewReportGenerator 创建报告生成器。
func NewReportGenerator(client llm.Client) *ReportGenerator {
	return &ReportGenerator{
		chain: chain.FromClient(client, ReportPrompt, []string{"theory_content", "tables_content"}),
	}
}

// Generate 在理论与表格都为空时直接返回警告，否则调用大模型生成报告。
func (g *ReportGenerator) Generate(ctx context.Context, theory *Result[Theory], tables *Result[[]TableData]) (*Result[string], error) {
	theoryContent, hasTheory := renderTheory(theory)
	tablesContent, hasTables := renderTables(tables)

	if !hasTheory && !hasTables {
		return &Result[string]{
			Type:     TypeReport,
			Content:  InsufficientDataContent,
			Status:   StatusWarning,
			Summary:  InsufficientDataSummary,
			Metadata: map[string]int{},
		}, nil
	}

	report, err := g.chain.Invoke(ctx, map[string]any{
		"theory_content": theoryContent,
		"tables_content": tablesContent,
	})
	if err != nil {
		return nil, fmt.Errorf("生成报告失败: %w", err)
	}

	return &Result[string]{
		Type:    TypeReport,
		Content: report,
		Status:  StatusSuccess,
		Summary: "报告生成完成",
		Metadata: map[string]int{
			"word_count": len(strings.Fields(report)),
			"char_count": utf8.RuneCountInString(report),
		},
	}, nil
}

func renderTheory(theory *Result[Theory]) (string, bool) {
	if theory == nil || theory.Content.Empty() {
		return noTheoryFallback, false
	}
	var b strings.Builder
	b.WriteString(strings.Join(theory.Content.Lines, "\n"))
	if analysis := strings.TrimSpace(theory.Content.Analysis); analysis != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(analysis)
	}
	return b.String(), true
}

func renderTables(tables *Result[[]TableData]) (string, bool) {
	if tables == nil || len(tables.Content) == 0 {
		return noTablesFallback, false
	}
	parts := make([]string, 0, len(tables.Content))
	for _, table := range tables.Content {
		part := table.Markdown()
		if interp := strings.TrimSpace(table.Interpretation); interp != "" {
			part += "\n" + interp + "\n"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "\n"), true
}
