package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"text-pipeline/internal/pipeline"
	"text-pipeline/internal/sample"
)

func newBenchCmd(a *app) *cobra.Command {
	var (
		input  string
		simple bool
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "对比并行与串行管道的耗时",
		Long:  "并行执行：理论提取和表格提取同时进行；串行执行：理论提取 -> 表格提取 -> 报告生成。",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			content := sample.Simple()
			if !simple {
				var err error
				if content, err = sample.Load(input); err != nil {
					return err
				}
			}

			client, cleanup, err := createLLMClient(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer releaseResources(cleanup)
			components := buildComponents(a.cfg, client)
			opts := pipelineOptions(a.cfg)

			out := a.out
			fmt.Fprintln(out, "并行与串行管道性能对比")
			fmt.Fprintln(out, strings.Repeat("=", 60))
			fmt.Fprintf(out, "输入内容长度: %d 字符\n", len([]rune(content)))

			cmp, err := pipeline.Compare(cmd.Context(),
				pipeline.NewParallel(components, opts...),
				pipeline.NewSerial(components, opts...),
				pipeline.Input{Content: content},
			)
			if err != nil {
				return err
			}

			for _, run := range []struct {
				name string
				d    time.Duration
				o    *pipeline.Output
			}{
				{"并行", cmp.Parallel, cmp.ParallelOutput},
				{"串行", cmp.Serial, cmp.SerialOutput},
			} {
				fmt.Fprintf(out, "\n%s执行时间: %.2f 秒\n", run.name, run.d.Seconds())
				fmt.Fprintf(out, "  理论提取状态: %s\n", run.o.Theory.Status)
				fmt.Fprintf(out, "  表格提取状态: %s\n", run.o.Tables.Status)
				fmt.Fprintf(out, "  报告生成状态: %s\n", run.o.Report.Status)
			}

			fmt.Fprintln(out, "\n性能分析结果")
			fmt.Fprintln(out, strings.Repeat("-", 40))
			fmt.Fprintf(out, "节省时间: %.2f 秒\n", cmp.TimeSaved.Seconds())
			fmt.Fprintf(out, "性能提升: %.1f%%\n", cmp.Improvement)
			if cmp.Improvement > 0 {
				fmt.Fprintln(out, "并行管道性能更优")
			} else {
				fmt.Fprintln(out, "并行管道没有带来提升")
			}
			if cmp.Consistent {
				fmt.Fprintln(out, "并行和串行执行结果一致")
			} else {
				fmt.Fprintln(out, "并行和串行执行结果不一致")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "输入文件，不存在时回退到内置示例")
	cmd.Flags().BoolVar(&simple, "simple", false, "使用简化数据")
	return cmd
}
