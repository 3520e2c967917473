package task

import (
	"context"
	"time"

	"text-pipeline/internal/pipeline"
)

// Executor 执行一个已领取的分析任务。
type Executor interface {
	Execute(ctx context.Context, task *Task) (*Result, error)
}

// ExecutorFunc 将函数适配为 Executor。
type ExecutorFunc func(ctx context.Context, task *Task) (*Result, error)

// Execute 实现 Executor。
func (f ExecutorFunc) Execute(ctx context.Context, task *Task) (*Result, error) {
	return f(ctx, task)
}

// PipelineExecutor 按任务的模式选择串行或并行管道。
type PipelineExecutor struct {
	pipelines   map[string]*pipeline.Pipeline
	defaultMode string
}

// NewPipelineExecutor 基于同一组组件构造两种管道。
func NewPipelineExecutor(components pipeline.Components, defaultMode string, opts ...pipeline.Option) *PipelineExecutor {
	if defaultMode == "" {
		defaultMode = pipeline.ModeParallel
	}
	return &PipelineExecutor{
		pipelines: map[string]*pipeline.Pipeline{
			pipeline.ModeSerial:   pipeline.NewSerial(components, opts...),
			pipeline.ModeParallel: pipeline.NewParallel(components, opts...),
		},
		defaultMode: defaultMode,
	}
}

// Execute 运行管道并把阶段结果写入 Result。
func (e *PipelineExecutor) Execute(ctx context.Context, task *Task) (*Result, error) {
	mode := task.Mode
	if mode == "" {
		mode = e.defaultMode
	}
	p, ok := e.pipelines[mode]
	if !ok {
		return nil, invalidModeError(mode)
	}
	started := time.Now()
	out, err := p.Run(ctx, pipeline.Input{Content: task.Content})
	if err != nil {
		return nil, err
	}
	return &Result{
		Theory:         out.Theory,
		Tables:         out.Tables,
		Report:         out.Report,
		DurationMillis: time.Since(started).Milliseconds(),
		Mode:           mode,
	}, nil
}
