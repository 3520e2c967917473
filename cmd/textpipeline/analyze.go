package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"text-pipeline/internal/pipeline"
	"text-pipeline/internal/sample"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		mode   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "分析文档并输出报告",
		Long:  "读取 Markdown 文档，提取前 20 行理论内容与表格后生成分析报告。未指定文件时使用内置示例。",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			content, err := sample.Load(path)
			if err != nil {
				return err
			}
			if mode == "" {
				mode = a.cfg.Pipeline.Mode
			}

			client, cleanup, err := createLLMClient(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer releaseResources(cleanup)

			p, err := pipeline.ForMode(mode, buildComponents(a.cfg, client), pipelineOptions(a.cfg)...)
			if err != nil {
				return err
			}
			out, err := p.Run(cmd.Context(), pipeline.Input{Content: content})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				return enc.Encode(out)
			}
			fmt.Fprintln(a.out, out.Report.Content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "管道模式：serial 或 parallel，默认取配置")
	cmd.Flags().BoolVar(&asJSON, "json", false, "输出包含各阶段结果的 JSON")
	return cmd
}
