package task

import (
	"context"

	xerrors "text-pipeline/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
//
// Claim 只领取 pending 状态且仍有重试次数的任务；MarkFailed 在 terminal 为
// false 时把任务放回 pending，等待再次投递。Release 把被中断的 running 任务
// 放回 pending 并退还本次领取消耗的次数。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result Result) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	Release(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}

// claimError 根据任务当前状态给出 Claim 失败的原因。
func claimError(task *Task) error {
	switch task.Status {
	case StatusSucceeded:
		return ErrTaskCompleted
	case StatusRunning:
		return ErrTaskConflict
	case StatusFailed:
		return ErrTaskExhausted
	}
	if task.Attempts >= task.MaxRetries {
		return ErrTaskExhausted
	}
	return ErrTaskConflict
}
