package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"text-pipeline/internal/component"
	"text-pipeline/internal/config"
	"text-pipeline/internal/llm/mock"
	"text-pipeline/internal/pipeline"
	"text-pipeline/internal/sample"
)

type demoOptions struct {
	sync         bool
	simple       bool
	pipelineOnly bool
	verbose      bool
	input        string
}

func newDemoCmd(a *app) *cobra.Command {
	var opts demoOptions
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "运行文本分析管道演示",
		Example: `  textpipeline demo                  # 默认数据，并行管道
  textpipeline demo --sync           # 串行管道
  textpipeline demo --simple         # 使用简化数据
  textpipeline demo --pipeline-only  # 仅演示管道构建`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), a, opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.sync, "sync", false, "使用串行管道")
	flags.BoolVar(&opts.simple, "simple", false, "使用简化数据")
	flags.BoolVar(&opts.pipelineOnly, "pipeline-only", false, "仅演示管道构建")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "逐个组件演示并输出预览")
	flags.StringVarP(&opts.input, "input", "i", "", "输入文件，不存在时回退到内置示例")
	return cmd
}

func runDemo(ctx context.Context, a *app, opts demoOptions) error {
	out := a.out
	fmt.Fprintln(out, "文本分析管道演示")
	fmt.Fprintln(out, strings.Repeat("=", 60))
	if opts.verbose {
		fmt.Fprintln(out, "参数信息:")
		fmt.Fprintf(out, "  - 串行模式: %t\n", opts.sync)
		fmt.Fprintf(out, "  - 简化数据: %t\n", opts.simple)
		fmt.Fprintf(out, "  - 仅管道演示: %t\n", opts.pipelineOnly)
		fmt.Fprintf(out, "  - 详细模式: %t\n", opts.verbose)
		fmt.Fprintf(out, "  - 模型调用方式: %s\n", a.cfg.LLM.Provider)
	}

	var mockLLM *mock.Manager
	client, cleanup, err := createLLMClient(ctx, a.cfg, func(m *mock.Manager) { mockLLM = m })
	if err != nil {
		return err
	}
	defer releaseResources(cleanup)
	components := buildComponents(a.cfg, client)

	switch {
	case opts.pipelineOnly:
		demoPipelineBuilding(out, a.cfg, components)
		if mockLLM != nil {
			demoMockBatch(ctx, out, mockLLM)
		}
	case opts.verbose && !opts.sync:
		content, err := demoContent(opts)
		if err != nil {
			return err
		}
		if err := demoComponentWorkflow(ctx, out, components, content); err != nil {
			return err
		}
	default:
		content, err := demoContent(opts)
		if err != nil {
			return err
		}
		p := pipeline.NewParallel(components, pipelineOptions(a.cfg)...)
		if opts.sync {
			p = pipeline.NewSerial(components, pipelineOptions(a.cfg)...)
		}
		if err := demoPipelineRun(ctx, out, p, content, opts.verbose); err != nil {
			return err
		}
	}

	if mockLLM != nil {
		printMockStats(out, mockLLM.Stats())
	}
	fmt.Fprintln(out, "\n演示程序运行完成")
	return nil
}

var batchPrompts = []string{
	"请提取文档中的理论框架",
	"请提取文档中的表格数据",
	"请生成综合分析报告",
}

// demoMockBatch 并发发出一组提示词，展示并发上限对耗时的影响。
func demoMockBatch(ctx context.Context, out io.Writer, m *mock.Manager) {
	fmt.Fprintln(out, "\n并发调用演示")
	fmt.Fprintln(out, strings.Repeat("-", 50))
	start := time.Now()
	results := m.BatchInvoke(ctx, batchPrompts)
	fmt.Fprintf(out, "并发处理 %d 个提示词，耗时: %.2f 秒\n", len(results), time.Since(start).Seconds())
	for i, text := range results {
		fmt.Fprintf(out, "  %d. %s\n", i+1, preview(strings.TrimSpace(text), 40))
	}
}

func printMockStats(out io.Writer, st mock.Stats) {
	fmt.Fprintln(out, "\nMock 大模型统计:")
	fmt.Fprintf(out, "  总调用次数: %d\n", st.TotalCalls)
	fmt.Fprintf(out, "  最大并发调用数: %d\n", st.MaxConcurrentCalls)
	fmt.Fprintf(out, "  当前可用槽位: %d\n", st.CurrentAvailable)
	fmt.Fprintf(out, "  模拟延迟: %s\n", st.MockDelay)
}

func demoContent(opts demoOptions) (string, error) {
	if opts.simple {
		return sample.Simple(), nil
	}
	return sample.Load(opts.input)
}

func demoPipelineBuilding(out io.Writer, cfg *config.Config, c pipeline.Components) {
	fmt.Fprintln(out, "\n管道构建演示")
	fmt.Fprintln(out, strings.Repeat("-", 50))

	fmt.Fprintln(out, "\n1. 大模型客户端")
	fmt.Fprintf(out, "   调用方式: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(out, "   模型: %s\n", cfg.LLM.Model)
	if cfg.LLM.Provider == config.ProviderMock {
		fmt.Fprintf(out, "   最大并发调用数: %d\n", cfg.LLM.Mock.MaxConcurrent)
		fmt.Fprintf(out, "   Mock 延迟: %s\n", time.Duration(cfg.LLM.Mock.DelayMillis)*time.Millisecond)
	}

	fmt.Fprintln(out, "\n2. 分析组件")
	fmt.Fprintf(out, "   理论提取器: %T\n", c.Theory)
	fmt.Fprintf(out, "   表格提取器: %T\n", c.Tables)
	fmt.Fprintf(out, "   报告生成器: %T\n", c.Report)

	for i, p := range []*pipeline.Pipeline{pipeline.NewParallel(c), pipeline.NewSerial(c)} {
		fmt.Fprintf(out, "\n%d. %s 管道\n", i+3, p.Mode())
		fmt.Fprintf(out, "   阶段: %s\n", strings.Join(p.Stages(), " -> "))
	}
	fmt.Fprintln(out, "\n管道构建演示完成")
}

func demoPipelineRun(ctx context.Context, out io.Writer, p *pipeline.Pipeline, content string, verbose bool) error {
	fmt.Fprintf(out, "\n%s 管道处理演示\n", p.Mode())
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "输入内容长度: %d 字符\n", utf8.RuneCountInString(content))

	start := time.Now()
	result, err := p.Run(ctx, pipeline.Input{Content: content})
	if err != nil {
		fmt.Fprintf(out, "处理失败: %v\n", err)
		return err
	}
	report := result.Report.Content
	fmt.Fprintf(out, "处理完成，耗时: %.2f 秒\n", time.Since(start).Seconds())
	fmt.Fprintf(out, "报告状态: %s（%s）\n", result.Report.Status, result.Report.Summary)
	fmt.Fprintf(out, "输出结果长度: %d 字符\n", utf8.RuneCountInString(report))
	for _, stage := range p.Stages() {
		fmt.Fprintf(out, "  - %s: %s\n", stage, result.Timings[stage].Round(time.Millisecond))
	}

	if verbose {
		fmt.Fprintln(out, "\n输出结果预览:")
		fmt.Fprintln(out, strings.Repeat("-", 40))
		fmt.Fprintln(out, preview(report, 500))
		fmt.Fprintln(out, strings.Repeat("-", 40))
	}
	return nil
}

func demoComponentWorkflow(ctx context.Context, out io.Writer, c pipeline.Components, content string) error {
	fmt.Fprintln(out, "\n组件工作流程演示")
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "输入内容长度: %d 字符\n", utf8.RuneCountInString(content))

	fmt.Fprintln(out, "\n1. 理论框架提取")
	theory, err := c.Theory.Extract(ctx, content)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   提取的行数: %d\n", len(theory.Content.Lines))

	fmt.Fprintln(out, "\n2. 表格数据提取")
	tables, err := c.Tables.Extract(ctx, content)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   提取的表格数量: %d\n", len(tables.Content))

	fmt.Fprintln(out, "\n3. 分析报告生成")
	report, err := c.Report.Generate(ctx, theory, tables)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   生成的报告长度: %d 字符\n", utf8.RuneCountInString(report.Content))

	fmt.Fprintln(out, "\n理论框架预览:")
	for i, line := range theory.Content.Lines {
		if i == 3 {
			break
		}
		fmt.Fprintf(out, "   %s\n", preview(line, 60))
	}
	fmt.Fprintln(out, "\n表格数据预览:")
	for i, table := range tables.Content {
		if i == 2 {
			break
		}
		fmt.Fprintf(out, "   表格 %d: %d 列 × %d 行\n", i+1, len(table.Headers), len(table.Rows))
	}
	fmt.Fprintln(out, "\n报告预览:")
	fmt.Fprintln(out, strings.Repeat("-", 40))
	fmt.Fprintln(out, preview(report.Content, 300))
	fmt.Fprintln(out, strings.Repeat("-", 40))

	if report.Status == component.StatusWarning {
		fmt.Fprintln(out, "报告生成返回警告：输入中没有可用的理论或表格数据")
	}
	fmt.Fprintln(out, "\n组件工作流程演示完成")
	return nil
}

// preview 按字符截断长文本。
func preview(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
