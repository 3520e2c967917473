// Package pipeline 把理论提取、表格提取与报告生成组合为串行或并行的分析管道。
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"text-pipeline/internal/component"
	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/observability/metrics"
	"text-pipeline/pkg/logger"
)

// 管道模式。
const (
	ModeSerial   = "serial"
	ModeParallel = "parallel"
)

// 阶段名称。
const (
	StageTheory = "theory"
	StageTables = "tables"
	StageReport = "report"
)

// Input 是管道的输入文档，空内容同样合法。
type Input struct {
	Content string `json:"content"`
}

// Output 保留原始内容，并附带每个阶段的结果与耗时。
type Output struct {
	Content string                                   `json:"content"`
	Theory  *component.Result[component.Theory]      `json:"theory"`
	Tables  *component.Result[[]component.TableData] `json:"tables"`
	Report  *component.Result[string]                `json:"report"`
	Timings map[string]time.Duration                 `json:"timings"`
}

// State 在阶段之间传递数据，并行阶段通过锁写入各自的字段。
type State struct {
	mu  sync.Mutex
	out Output
}

func newState(in Input) *State {
	return &State{out: Output{Content: in.Content, Timings: make(map[string]time.Duration, 3)}}
}

// Content 返回输入文档。
func (s *State) Content() string {
	return s.out.Content
}

func (s *State) update(fn func(*Output)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.out)
}

func (s *State) snapshot() Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}

// Stage 是管道中的一个步骤。
type Stage struct {
	Name    string
	Execute func(ctx context.Context, state *State) error
}

// Components 汇集管道使用的三个步骤实现。
type Components struct {
	Theory *component.TheoryExtractor
	Tables *component.TableExtractor
	Report *component.ReportGenerator
}

// Pipeline 是固定组合的分析管道。
type Pipeline struct {
	mode         string
	theory       Stage
	tables       Stage
	report       Stage
	stageTimeout time.Duration
}

// Option 定义管道的可选配置。
type Option func(*Pipeline)

// WithStageTimeout 为每个阶段设置超时。
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.stageTimeout = d
		}
	}
}

// NewSerial 依次执行 理论 → 表格 → 报告。
func NewSerial(c Components, opts ...Option) *Pipeline {
	return build(ModeSerial, c, opts)
}

// NewParallel 并行执行理论与表格提取，完成后生成报告。
func NewParallel(c Components, opts ...Option) *Pipeline {
	return build(ModeParallel, c, opts)
}

// ForMode 根据模式名创建管道。
func ForMode(mode string, c Components, opts ...Option) (*Pipeline, error) {
	switch mode {
	case ModeSerial:
		return NewSerial(c, opts...), nil
	case ModeParallel, "":
		return NewParallel(c, opts...), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的管道模式: %s", mode))
	}
}

func build(mode string, c Components, opts []Option) *Pipeline {
	p := &Pipeline{
		mode:   mode,
		theory: theoryStage(c.Theory),
		tables: tablesStage(c.Tables),
		report: reportStage(c.Report),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Mode 返回管道模式。
func (p *Pipeline) Mode() string {
	return p.mode
}

// Stages 按执行顺序返回阶段名称。
func (p *Pipeline) Stages() []string {
	return []string{p.theory.Name, p.tables.Name, p.report.Name}
}

// Run 执行管道。任一阶段失败时返回错误，并行模式下会取消另一个阶段。
func (p *Pipeline) Run(ctx context.Context, in Input) (*Output, error) {
	state := newState(in)

	switch p.mode {
	case ModeParallel:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return p.runStage(gctx, p.theory, state) })
		g.Go(func() error { return p.runStage(gctx, p.tables, state) })
		if err := g.Wait(); err != nil {
			return nil, err
		}
	default:
		for _, stage := range []Stage{p.theory, p.tables} {
			if err := p.runStage(ctx, stage, state); err != nil {
				return nil, err
			}
		}
	}

	if err := p.runStage(ctx, p.report, state); err != nil {
		return nil, err
	}

	out := state.snapshot()
	return &out, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	log := logger.Named("pipeline")
	start := time.Now()
	err := stage.Execute(ctx, state)
	elapsed := time.Since(start)

	metrics.ObserveStage(p.mode, stage.Name, elapsed, err)
	state.update(func(o *Output) { o.Timings[stage.Name] = elapsed })

	if err != nil {
		log.Warn("管道阶段执行失败", "mode", p.mode, "stage", stage.Name, "duration", elapsed, "error", err)
		return xerrors.Wrap(xerrors.CodePipelineFailure, err,
			fmt.Sprintf("阶段 %s 执行失败", stage.Name),
			xerrors.WithMetadata("stage", stage.Name),
			xerrors.WithRetryable(xerrors.RetryableError(err)),
		)
	}
	log.Debug("管道阶段完成", "mode", p.mode, "stage", stage.Name, "duration", elapsed)
	return nil
}

func theoryStage(e *component.TheoryExtractor) Stage {
	if e == nil {
		e = component.NewTheoryExtractor()
	}
	return Stage{Name: StageTheory, Execute: func(ctx context.Context, s *State) error {
		res, err := e.Extract(ctx, s.Content())
		if err != nil {
			return err
		}
		s.update(func(o *Output) { o.Theory = res })
		return nil
	}}
}

func tablesStage(e *component.TableExtractor) Stage {
	if e == nil {
		e = component.NewTableExtractor()
	}
	return Stage{Name: StageTables, Execute: func(ctx context.Context, s *State) error {
		res, err := e.Extract(ctx, s.Content())
		if err != nil {
			return err
		}
		s.update(func(o *Output) { o.Tables = res })
		return nil
	}}
}

func reportStage(g *component.ReportGenerator) Stage {
	return Stage{Name: StageReport, Execute: func(ctx context.Context, s *State) error {
		if g == nil {
			return xerrors.New(xerrors.CodeInitializationFailure, "报告生成器未初始化")
		}
		snap := s.snapshot()
		res, err := g.Generate(ctx, snap.Theory, snap.Tables)
		if err != nil {
			return err
		}
		s.update(func(o *Output) { o.Report = res })
		return nil
	}}
}
