package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/pipeline"
	"text-pipeline/pkg/logger"
)

// Service 负责分析任务的创建与查询。
type Service struct {
	store       Store
	producer    Producer
	maxRetries  int
	defaultMode string
}

// ServiceOption 调整 Service。
type ServiceOption func(*Service)

// WithDefaultMode 指定请求未声明模式时使用的管道模式。
func WithDefaultMode(mode string) ServiceOption {
	return func(s *Service) {
		if mode != "" {
			s.defaultMode = mode
		}
	}
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int, opts ...ServiceOption) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	s := &Service{store: store, producer: producer, maxRetries: maxRetries, defaultMode: pipeline.ModeParallel}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 创建分析任务并推送到队列。携带已存在的 ID 时直接返回已有任务。
func (s *Service) Submit(ctx context.Context, req Request) (*Task, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	mode, err := s.normalizeMode(req.Mode)
	if err != nil {
		return nil, err
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID != "" {
		existing, err := s.store.Get(ctx, taskID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
	} else {
		taskID = uuid.NewString()
	}

	task := &Task{
		ID:         taskID,
		Content:    req.Content,
		Mode:       mode,
		Metadata:   cloneMetadata(req.Metadata),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			if existing, getErr := s.store.Get(ctx, taskID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, taskID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", taskID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, taskID, CodeTaskPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("分析任务入队",
		slog.String("task_id", taskID),
		slog.String("mode", mode),
		slog.Int("content_chars", len([]rune(task.Content))),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// Get 返回指定任务。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// RequeuePending 重新投递所有 pending 任务，返回投递数量。
// 在处理器启动前调用，用于补投停机或重启时丢失了队列消息的任务。
func (s *Service) RequeuePending(ctx context.Context) (int, error) {
	if s.store == nil || s.producer == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	published := 0
	for offset := 0; ; offset += maxListLimit {
		tasks, err := s.store.List(ctx, buildListOptions([]ListOption{
			WithStatuses(StatusPending),
			WithSortOrder(SortByUpdatedAsc),
			WithLimit(maxListLimit),
			WithOffset(offset),
		}))
		if err != nil {
			return published, err
		}
		for _, t := range tasks {
			if err := s.producer.Publish(ctx, t.ID); err != nil {
				return published, xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 补投失败", t.ID))
			}
			published++
		}
		if len(tasks) < maxListLimit {
			return published, nil
		}
	}
}

// WaitUntilCompleted 轮询直到任务结束或 ctx 到期。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放存储与队列。
func (s *Service) Close() error {
	var errs []error
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return stdErrors.Join(errs...)
}

func (s *Service) normalizeMode(mode string) (string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		return s.defaultMode, nil
	}
	if mode != pipeline.ModeSerial && mode != pipeline.ModeParallel {
		return "", invalidModeError(mode)
	}
	return mode, nil
}

func invalidModeError(mode string) error {
	return xerrors.New(CodeTaskValidation, fmt.Sprintf("不支持的管道模式: %s", mode),
		xerrors.WithMetadata("mode", mode))
}
