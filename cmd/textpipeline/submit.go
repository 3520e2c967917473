package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"text-pipeline/internal/sample"
	client "text-pipeline/sdk/go/textpipeline"
)

const tokenEnv = "TEXTPIPELINE_TOKEN"

type submitOptions struct {
	server  string
	token   string
	id      string
	mode    string
	wait    bool
	sync    bool
	timeout time.Duration
}

func newSubmitCmd(a *app) *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "向运行中的分析服务提交文档",
		Long:  "通过 REST API 提交分析任务；--wait 轮询直到完成，--sync 走同步执行接口。令牌可通过 TEXTPIPELINE_TOKEN 提供。",
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
			if opts.server == "" {
				opts.server = serverURL(a.cfg.Server.Address)
			}
			if opts.token == "" {
				opts.token = os.Getenv(tokenEnv)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runSubmit(ctx, a, opts, client.Submission{ID: opts.id, Content: content, Mode: opts.mode})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "", "服务地址，默认由 server.address 推导")
	flags.StringVar(&opts.token, "token", "", "Bearer 令牌")
	flags.StringVar(&opts.id, "id", "", "任务 ID，留空由服务端生成")
	flags.StringVarP(&opts.mode, "mode", "m", "", "管道模式：serial 或 parallel")
	flags.BoolVarP(&opts.wait, "wait", "w", false, "等待任务完成并输出报告")
	flags.BoolVar(&opts.sync, "sync", false, "同步执行，不经过队列")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "整体超时")
	return cmd
}

func runSubmit(ctx context.Context, a *app, opts submitOptions, sub client.Submission) error {
	c, err := client.NewClient(opts.server, nil)
	if err != nil {
		return err
	}
	c.SetAccessToken(opts.token)

	if opts.sync {
		res, err := c.Invoke(ctx, sub)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, res.Result.ReportText())
		return nil
	}

	created, err := c.SubmitAnalysis(ctx, sub)
	if err != nil {
		return err
	}
	if !opts.wait {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(created)
	}

	done, err := c.WaitForAnalysis(ctx, created.ID, time.Second)
	if err != nil {
		return err
	}
	if done.Status == client.StatusFailed {
		return fmt.Errorf("任务 %s 失败: [%s] %s", done.ID, done.ErrorCode, done.LastError)
	}
	fmt.Fprintln(a.out, done.Result.ReportText())
	return nil
}

// serverURL 将监听地址转换为可访问的 URL，":8080" 视为本机。
func serverURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
