// Command textpipeline 演示基于通义千问的链式调用与文本分析管道，并可作为异步分析服务运行。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "textpipeline 运行失败: %v\n", err)
		stop()
		os.Exit(1)
	}
}
