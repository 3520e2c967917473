package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"text-pipeline/internal/api"
	"text-pipeline/internal/auth"
	"text-pipeline/internal/config"
	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/observability/metrics"
	"text-pipeline/internal/task"
	"text-pipeline/pkg/logger"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动异步分析服务",
		Long:  "启动 HTTP API 与任务处理器：POST /api/v1/analyses 提交任务，GET /api/v1/analyses/{id} 查询结果。",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Address = addr
			}
			return runServe(cmd.Context(), a.cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "覆盖 server.address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "单独暴露 /metrics 的地址，默认仅挂在 API 上")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, metricsAddr string) error {
	client, closeLLM, err := createLLMClient(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := openTaskStore(cfg.Storage)
	if err != nil {
		_ = closeLLM()
		return err
	}
	queue, err := openTaskQueue(ctx, cfg)
	if err != nil {
		_ = closeAll(store.Close, closeLLM)
		return err
	}

	service := task.NewService(store, queue, cfg.Storage.MaxRetries, task.WithDefaultMode(cfg.Pipeline.Mode))
	defer releaseResources(service.Close, closeLLM)

	executor := task.NewPipelineExecutor(buildComponents(cfg, client), cfg.Pipeline.Mode, pipelineOptions(cfg)...)
	processor := task.NewProcessor(executor, store, queue, queue,
		task.WithWorkerCount(cfg.Queue.Workers),
		task.WithProcessorLogger(logger.Named("processor")),
	)
	authSvc, err := auth.NewService(cfg.Server.Auth)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg.Server.Address, service, api.WithExecutor(executor), api.WithAuth(authSvc))

	logger.L().Info("分析服务启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("provider", cfg.LLM.Provider),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.Int("workers", cfg.Queue.Workers),
		slog.String("auth", string(authSvc.Mode())),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error {
		n, err := service.RequeuePending(gctx)
		if err != nil {
			logger.L().Warn("补投待处理任务失败", slog.Any("error", err), slog.Int("published", n))
			return nil
		}
		if n > 0 {
			logger.L().Info("已补投待处理任务", slog.Int("count", n))
		}
		return nil
	})
	g.Go(func() error { return server.Start(gctx) })
	if metricsAddr != "" {
		g.Go(func() error { return metrics.StartServer(gctx, metricsAddr) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openTaskStore(sc config.StorageConfig) (task.Store, error) {
	switch sc.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(sc.DSN)
	case "sqlite":
		return task.NewSQLiteStore(sc.DSN)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的存储驱动: "+sc.Driver)
	}
}

func openTaskQueue(ctx context.Context, cfg *config.Config) (task.Queue, error) {
	qc := cfg.Queue
	switch qc.Driver {
	case "", "memory":
		return task.NewMemoryQueue(1024), nil
	case "redis":
		return task.NewRedisQueue(ctx, newRedisClient(cfg.Redis),
			task.WithRedisKey(qc.Redis.Key),
			task.WithBlockWait(time.Duration(qc.Redis.BlockWaitSeconds)*time.Second),
			task.WithOwnedClient(),
		)
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        qc.RabbitMQ.URL,
			Queue:      qc.RabbitMQ.Queue,
			Prefetch:   qc.RabbitMQ.Prefetch,
			Durable:    qc.RabbitMQ.Durable,
			AutoDelete: qc.RabbitMQ.AutoDelete,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的队列驱动: "+qc.Driver)
	}
}
