package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/observability/metrics"
	"text-pipeline/pkg/logger"
)

// storeWriteTimeout 限制执行结束后写回状态的时长，该写入不随消费上下文取消。
const storeWriteTimeout = 5 * time.Second

// Processor 从队列消费任务 ID，领取任务后交给 Executor 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定调试日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 阻塞运行消费循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}
	metrics.ObserveTask(string(StatusRunning))

	result, execErr := p.executor.Execute(ctx, task)
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	if execErr != nil {
		if ctx.Err() != nil {
			return p.release(storeCtx, task, execErr)
		}
		return p.handleExecutionFailure(storeCtx, task, execErr)
	}
	if result == nil {
		result = &Result{}
	}

	if err := p.store.MarkSucceeded(storeCtx, task.ID, *result); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return p.handleExecutionFailure(storeCtx, task, err)
	}
	metrics.ObserveTask(string(StatusSucceeded))
	attrs := []any{
		slog.String("task_id", task.ID),
		slog.String("mode", task.Mode),
		slog.Int("attempts", task.Attempts),
		slog.Int64("duration_ms", result.DurationMillis),
	}
	if result.Report != nil {
		attrs = append(attrs, slog.String("report_status", string(result.Report.Status)))
	}
	logger.Audit().Info("分析任务完成", attrs...)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	// 取消不代表任务本身有问题。
	retryable := xerrors.RetryableError(execErr) || stdErrors.Is(execErr, context.Canceled)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}

	level := slog.LevelWarn
	if terminal && xerrors.AttributesOf(code).Alert {
		level = slog.LevelError
	}
	logger.Audit().Log(ctx, level, "分析任务失败",
		slog.String("task_id", task.ID),
		slog.String("mode", task.Mode),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.String("severity", string(xerrors.SeverityOf(execErr))),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	if terminal {
		metrics.ObserveTask(string(StatusFailed))
		return nil
	}
	metrics.ObserveTask("retried")
	if p.producer == nil {
		return nil
	}
	if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
		return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
	}
	p.logDebug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

// release 在消费上下文取消（服务停止）时把任务放回 pending 并重新投递，
// 本次领取不计入重试次数。投递失败时由重启后的 RequeuePending 补投。
func (p *Processor) release(ctx context.Context, task *Task, cause error) error {
	if err := p.store.Release(ctx, task.ID); err != nil {
		logger.L().Error("释放被中断的任务失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	metrics.ObserveTask("released")
	logger.L().Warn("任务执行被中断，已放回待处理",
		slog.String("task_id", task.ID),
		slog.String("reason", cause.Error()),
	)
	if p.producer == nil {
		return nil
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		p.logDebug("中断任务重投失败", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger == nil {
		return
	}
	p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}
