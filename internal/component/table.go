package component

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"text-pipeline/internal/chain"
	"text-pipeline/internal/llm"
)

const tablePrompt = `请解读以下表格数据，说明数据含义、关键发现以及对研究的启示。

{{.table}}`

var separatorRow = regexp.MustCompile(`^\|[\s\-:|]+\|$`)

// TableData 描述文档中的一个 Markdown 表格，行号从 0 开始。
type TableData struct {
	Title          string     `json:"title"`
	Headers        []string   `json:"headers"`
	Rows           [][]string `json:"rows"`
	StartLine      int        `json:"start_line"`
	EndLine        int        `json:"end_line"`
	Interpretation string     `json:"interpretation,omitempty"`
}

// Markdown 把表格重新渲染为 Markdown。
func (t TableData) Markdown() string {
	var b strings.Builder
	if t.Title != "" {
		b.WriteString("### " + t.Title + "\n\n")
	}
	writeRow(&b, t.Headers)
	sep := make([]string, len(t.Headers))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep)
	for _, row := range t.Rows {
		writeRow(&b, row)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
}

// TableExtractor 提取 Markdown 表格，可选地让大模型解读每个表格。
type TableExtractor struct {
	chain       *chain.PromptChain
	concurrency int
}

// TableOption 定义表格提取器的可选配置。
type TableOption func(*TableExtractor)

// WithTableInterpretation 启用大模型解读。
func WithTableInterpretation(client llm.Client) TableOption {
	return func(e *TableExtractor) {
		if client != nil {
			e.chain = chain.FromClient(client, tablePrompt, []string{"table"})
		}
	}
}

// WithInterpretationConcurrency 限制同时解读的表格数量。
func WithInterpretationConcurrency(n int) TableOption {
	return func(e *TableExtractor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewTableExtractor 创建表格提取器。
func NewTableExtractor(opts ...TableOption) *TableExtractor {
	e := &TableExtractor{concurrency: 3}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Extract 扫描全文中的表格。
func (e *TableExtractor) Extract(ctx context.Context, content string) (*Result[[]TableData], error) {
	tables := ParseTables(content)

	if e.chain != nil && len(tables) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for i := range tables {
			i := i
			g.Go(func() error {
				text, err := e.chain.Invoke(gctx, map[string]any{"table": tables[i].Markdown()})
				if err != nil {
					return fmt.Errorf("表格 %d 解读失败: %w", i+1, err)
				}
				tables[i].Interpretation = text
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return &Result[[]TableData]{
		Type:     TypeTable,
		Content:  tables,
		Status:   StatusSuccess,
		Summary:  "表格提取完成",
		Metadata: map[string]int{"table_count": len(tables)},
	}, nil
}

// ParseTables 把连续的表格行合并为一个表格，跳过分隔行并丢弃空表。
func ParseTables(content string) []TableData {
	lines := strings.Split(content, "\n")
	tables := make([]TableData, 0)
	title := ""

	for i := 0; i < len(lines); {
		if !isTableLine(lines[i]) {
			if heading, ok := markdownHeading(lines[i]); ok {
				title = heading
			}
			i++
			continue
		}

		start := i
		var cells [][]string
		for i < len(lines) && isTableLine(lines[i]) {
			line := strings.TrimSpace(lines[i])
			if !separatorRow.MatchString(line) {
				if row := splitCells(line); len(row) > 0 {
					cells = append(cells, row)
				}
			}
			i++
		}
		if len(cells) == 0 {
			continue
		}
		tables = append(tables, TableData{
			Title:     title,
			Headers:   cells[0],
			Rows:      cells[1:],
			StartLine: start,
			EndLine:   i - 1,
		})
	}
	return tables
}

func isTableLine(line string) bool {
	return strings.Count(strings.TrimSpace(line), "|") >= 2
}

// splitCells 丢弃第一个与最后一个竖线之外的片段。
func splitCells(line string) []string {
	parts := strings.Split(line, "|")
	if len(parts) < 2 {
		return nil
	}
	parts = parts[1 : len(parts)-1]
	cells := make([]string, len(parts))
	for i, part := range parts {
		cells[i] = strings.TrimSpace(part)
	}
	return cells
}

func markdownHeading(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	return heading, heading != ""
}
